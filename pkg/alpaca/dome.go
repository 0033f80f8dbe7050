package alpaca

import (
	"context"
	"math"
)

// ShutterStatus reports the dome shutter state.
type ShutterStatus int

const (
	ShutterOpen ShutterStatus = iota
	ShutterClosed
	ShutterOpening
	ShutterClosing
	ShutterError
)

func (s ShutterStatus) String() string {
	switch s {
	case ShutterOpen:
		return "Open"
	case ShutterClosed:
		return "Closed"
	case ShutterOpening:
		return "Opening"
	case ShutterClosing:
		return "Closing"
	default:
		return "Error"
	}
}

var domeProps = []string{"altitude", "azimuth", "athome", "atpark", "shutterstatus", "slewing", "slaved"}

// Dome is the typed client for Alpaca dome devices.
type Dome struct {
	Device
}

func NewDome(tr *Transport) *Dome {
	return &Dome{Device{tr: tr}}
}

func (d *Dome) Type() DeviceType         { return TypeDome }
func (d *Dome) PollProperties() []string { return domeProps }

func (d *Dome) Azimuth(ctx context.Context) (float64, error) {
	return get[float64](ctx, d.tr, "azimuth")
}

func (d *Dome) Altitude(ctx context.Context) (float64, error) {
	return get[float64](ctx, d.tr, "altitude")
}

func (d *Dome) AtHome(ctx context.Context) (bool, error) {
	return get[bool](ctx, d.tr, "athome")
}

func (d *Dome) AtPark(ctx context.Context) (bool, error) {
	return get[bool](ctx, d.tr, "atpark")
}

func (d *Dome) Slewing(ctx context.Context) (bool, error) {
	return get[bool](ctx, d.tr, "slewing")
}

func (d *Dome) Slaved(ctx context.Context) (bool, error) {
	return get[bool](ctx, d.tr, "slaved")
}

func (d *Dome) SetSlaved(ctx context.Context, slaved bool) error {
	_, err := d.tr.Put(ctx, "slaved", boolParam("Slaved", slaved))
	return err
}

func (d *Dome) Shutter(ctx context.Context) (ShutterStatus, error) {
	v, err := get[int](ctx, d.tr, "shutterstatus")
	return ShutterStatus(v), err
}

func (d *Dome) SlewToAzimuth(ctx context.Context, azimuth float64) error {
	_, err := d.tr.Put(ctx, "slewtoazimuth", floatParam("Azimuth", azimuth))
	return err
}

// SlewRelative rotates the dome by delta degrees. There is no standard
// relative-slew action, so this reads the current azimuth and issues a
// standard slewtoazimuth to the normalized target.
func (d *Dome) SlewRelative(ctx context.Context, delta float64) error {
	az, err := d.Azimuth(ctx)
	if err != nil {
		return err
	}
	return d.SlewToAzimuth(ctx, normalizeAngle(az+delta))
}

func (d *Dome) AbortSlew(ctx context.Context) error {
	_, err := d.tr.Put(ctx, "abortslew", nil)
	return err
}

func (d *Dome) OpenShutter(ctx context.Context) error {
	_, err := d.tr.Put(ctx, "openshutter", nil)
	return err
}

func (d *Dome) CloseShutter(ctx context.Context) error {
	_, err := d.tr.Put(ctx, "closeshutter", nil)
	return err
}

func (d *Dome) Park(ctx context.Context) error {
	_, err := d.tr.Put(ctx, "park", nil)
	return err
}

func (d *Dome) FindHome(ctx context.Context) error {
	_, err := d.tr.Put(ctx, "findhome", nil)
	return err
}

func (d *Dome) ReadProperty(ctx context.Context, name string) (any, error) {
	return readNamed(ctx, d.tr, domeProps, name)
}

func (d *Dome) WriteProperty(ctx context.Context, name string, value any) error {
	switch name {
	case "slaved":
		slaved, err := asBool(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return d.SetSlaved(ctx, slaved)
	case "azimuth":
		az, err := asFloat(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return d.SlewToAzimuth(ctx, az)
	default:
		return ErrUnknownProperty
	}
}

// normalizeAngle maps any angle in degrees onto [0, 360).
func normalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	return deg
}
