package alpaca

import "context"

// focuserProps are the focuser properties the dashboard tracks. TempComp
// and Temperature are optional members on many focusers.
var focuserProps = []string{"position", "ismoving", "temperature", "tempcomp"}

// Focuser is the typed client for Alpaca focuser devices.
type Focuser struct {
	Device
}

func NewFocuser(tr *Transport) *Focuser {
	return &Focuser{Device{tr: tr}}
}

func (f *Focuser) Type() DeviceType         { return TypeFocuser }
func (f *Focuser) PollProperties() []string { return focuserProps }

func (f *Focuser) Position(ctx context.Context) (int, error) {
	return get[int](ctx, f.tr, "position")
}

func (f *Focuser) IsMoving(ctx context.Context) (bool, error) {
	return get[bool](ctx, f.tr, "ismoving")
}

func (f *Focuser) Temperature(ctx context.Context) (float64, error) {
	return get[float64](ctx, f.tr, "temperature")
}

func (f *Focuser) TempComp(ctx context.Context) (bool, error) {
	return get[bool](ctx, f.tr, "tempcomp")
}

func (f *Focuser) SetTempComp(ctx context.Context, on bool) error {
	_, err := f.tr.Put(ctx, "tempcomp", boolParam("TempComp", on))
	return err
}

// Move starts a move to an absolute position.
func (f *Focuser) Move(ctx context.Context, position int) error {
	_, err := f.tr.Put(ctx, "move", intParam("Position", position))
	return err
}

// Halt stops a move in progress.
func (f *Focuser) Halt(ctx context.Context) error {
	_, err := f.tr.Put(ctx, "halt", nil)
	return err
}

// MoveRelative steps the focuser by delta counts. The protocol only
// defines an absolute move, so this reads the current position and issues
// a standard move to position+delta.
func (f *Focuser) MoveRelative(ctx context.Context, delta int) error {
	pos, err := f.Position(ctx)
	if err != nil {
		return err
	}
	return f.Move(ctx, pos+delta)
}

func (f *Focuser) ReadProperty(ctx context.Context, name string) (any, error) {
	return readNamed(ctx, f.tr, focuserProps, name)
}

func (f *Focuser) WriteProperty(ctx context.Context, name string, value any) error {
	switch name {
	case "tempcomp":
		on, err := asBool(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return f.SetTempComp(ctx, on)
	case "position":
		pos, err := asInt(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return f.Move(ctx, pos)
	default:
		return ErrUnknownProperty
	}
}
