package alpaca

import (
	"context"
	"fmt"
	"strings"
)

// DeviceType identifies one of the supported Alpaca device classes. The set
// is closed: a device is handled by exactly one concrete client selected
// through NewDeviceClient, never by inspecting it at runtime.
type DeviceType int

const (
	TypeTelescope DeviceType = iota
	TypeCamera
	TypeFocuser
	TypeDome
)

func (t DeviceType) String() string {
	switch t {
	case TypeTelescope:
		return "Telescope"
	case TypeCamera:
		return "Camera"
	case TypeFocuser:
		return "Focuser"
	case TypeDome:
		return "Dome"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// MarshalText makes DeviceType round-trip through JSON as its tag.
func (t DeviceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DeviceType) UnmarshalText(b []byte) error {
	parsed, err := ParseDeviceType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDeviceType maps a device-type tag (as reported by discovery or
// stored configuration) to a DeviceType. Matching is case-insensitive
// because tags come from user configuration, unlike wire parameters.
func ParseDeviceType(s string) (DeviceType, error) {
	switch {
	case strings.EqualFold(s, "telescope"):
		return TypeTelescope, nil
	case strings.EqualFold(s, "camera"):
		return TypeCamera, nil
	case strings.EqualFold(s, "focuser"):
		return TypeFocuser, nil
	case strings.EqualFold(s, "dome"):
		return TypeDome, nil
	default:
		return 0, fmt.Errorf("unknown device type %q", s)
	}
}

// DeviceClient is the interface every typed device client implements.
// ReadProperty and ReadAll are consumed by the property synchronizer;
// WriteProperty by the dashboard write path. All property names are the
// lowercase Alpaca action names.
type DeviceClient interface {
	Type() DeviceType
	Transport() *Transport

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected(ctx context.Context) (bool, error)

	ReadProperty(ctx context.Context, name string) (any, error)
	ReadAll(ctx context.Context) (map[string]any, error)
	WriteProperty(ctx context.Context, name string, value any) error

	// PollProperties lists the properties the synchronizer tracks for
	// this device class.
	PollProperties() []string
}

// NewDeviceClient returns the concrete client for the transport's device
// type. This is the only place a device-type tag is dispatched on.
func NewDeviceClient(tr *Transport) (DeviceClient, error) {
	switch tr.DeviceType() {
	case TypeTelescope:
		return NewTelescope(tr), nil
	case TypeCamera:
		return NewCamera(tr), nil
	case TypeFocuser:
		return NewFocuser(tr), nil
	case TypeDome:
		return NewDome(tr), nil
	default:
		return nil, fmt.Errorf("unknown device type %v", tr.DeviceType())
	}
}
