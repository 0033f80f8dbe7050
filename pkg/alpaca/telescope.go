package alpaca

import "context"

var telescopeProps = []string{
	"rightascension", "declination", "altitude", "azimuth",
	"tracking", "slewing", "atpark", "siderealtime",
}

// Telescope is the typed client for Alpaca telescope/mount devices.
type Telescope struct {
	Device
}

func NewTelescope(tr *Transport) *Telescope {
	return &Telescope{Device{tr: tr}}
}

func (t *Telescope) Type() DeviceType         { return TypeTelescope }
func (t *Telescope) PollProperties() []string { return telescopeProps }

func (t *Telescope) RightAscension(ctx context.Context) (float64, error) {
	return get[float64](ctx, t.tr, "rightascension")
}

func (t *Telescope) Declination(ctx context.Context) (float64, error) {
	return get[float64](ctx, t.tr, "declination")
}

func (t *Telescope) Altitude(ctx context.Context) (float64, error) {
	return get[float64](ctx, t.tr, "altitude")
}

func (t *Telescope) Azimuth(ctx context.Context) (float64, error) {
	return get[float64](ctx, t.tr, "azimuth")
}

func (t *Telescope) Tracking(ctx context.Context) (bool, error) {
	return get[bool](ctx, t.tr, "tracking")
}

func (t *Telescope) SetTracking(ctx context.Context, on bool) error {
	_, err := t.tr.Put(ctx, "tracking", boolParam("Tracking", on))
	return err
}

func (t *Telescope) Slewing(ctx context.Context) (bool, error) {
	return get[bool](ctx, t.tr, "slewing")
}

func (t *Telescope) AtPark(ctx context.Context) (bool, error) {
	return get[bool](ctx, t.tr, "atpark")
}

func (t *Telescope) SiderealTime(ctx context.Context) (float64, error) {
	return get[float64](ctx, t.tr, "siderealtime")
}

// SlewToCoordinates starts an asynchronous slew to the given RA (hours)
// and declination (degrees).
func (t *Telescope) SlewToCoordinates(ctx context.Context, ra, dec float64) error {
	params := floatParam("RightAscension", ra)
	params.Set("Declination", floatParam("Declination", dec).Get("Declination"))
	_, err := t.tr.Put(ctx, "slewtocoordinatesasync", params)
	return err
}

func (t *Telescope) AbortSlew(ctx context.Context) error {
	_, err := t.tr.Put(ctx, "abortslew", nil)
	return err
}

func (t *Telescope) Park(ctx context.Context) error {
	_, err := t.tr.Put(ctx, "park", nil)
	return err
}

func (t *Telescope) Unpark(ctx context.Context) error {
	_, err := t.tr.Put(ctx, "unpark", nil)
	return err
}

func (t *Telescope) ReadProperty(ctx context.Context, name string) (any, error) {
	return readNamed(ctx, t.tr, telescopeProps, name)
}

func (t *Telescope) WriteProperty(ctx context.Context, name string, value any) error {
	switch name {
	case "tracking":
		on, err := asBool(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return t.SetTracking(ctx, on)
	default:
		return ErrUnknownProperty
	}
}
