package alpaca

import (
	"context"
	"net/url"
)

// CameraState follows the Alpaca camerastate enumeration.
type CameraState int

const (
	CameraIdle CameraState = iota
	CameraWaiting
	CameraExposing
	CameraReading
	CameraDownload
	CameraError
)

var cameraProps = []string{
	"camerastate", "ccdtemperature", "cooleron", "coolerpower",
	"gain", "binx", "biny", "imageready",
}

// Camera is the typed client for Alpaca camera devices.
type Camera struct {
	Device
}

func NewCamera(tr *Transport) *Camera {
	return &Camera{Device{tr: tr}}
}

func (c *Camera) Type() DeviceType         { return TypeCamera }
func (c *Camera) PollProperties() []string { return cameraProps }

func (c *Camera) State(ctx context.Context) (CameraState, error) {
	v, err := get[int](ctx, c.tr, "camerastate")
	return CameraState(v), err
}

func (c *Camera) CCDTemperature(ctx context.Context) (float64, error) {
	return get[float64](ctx, c.tr, "ccdtemperature")
}

func (c *Camera) CoolerOn(ctx context.Context) (bool, error) {
	return get[bool](ctx, c.tr, "cooleron")
}

func (c *Camera) SetCoolerOn(ctx context.Context, on bool) error {
	_, err := c.tr.Put(ctx, "cooleron", boolParam("CoolerOn", on))
	return err
}

func (c *Camera) CoolerPower(ctx context.Context) (float64, error) {
	return get[float64](ctx, c.tr, "coolerpower")
}

func (c *Camera) Gain(ctx context.Context) (int, error) {
	return get[int](ctx, c.tr, "gain")
}

func (c *Camera) SetGain(ctx context.Context, gain int) error {
	_, err := c.tr.Put(ctx, "gain", intParam("Gain", gain))
	return err
}

func (c *Camera) BinX(ctx context.Context) (int, error) {
	return get[int](ctx, c.tr, "binx")
}

func (c *Camera) SetBinX(ctx context.Context, bin int) error {
	_, err := c.tr.Put(ctx, "binx", intParam("BinX", bin))
	return err
}

func (c *Camera) BinY(ctx context.Context) (int, error) {
	return get[int](ctx, c.tr, "biny")
}

func (c *Camera) SetBinY(ctx context.Context, bin int) error {
	_, err := c.tr.Put(ctx, "biny", intParam("BinY", bin))
	return err
}

func (c *Camera) ImageReady(ctx context.Context) (bool, error) {
	return get[bool](ctx, c.tr, "imageready")
}

// StartExposure begins an exposure of the given duration in seconds.
// light selects a light frame over a dark frame.
func (c *Camera) StartExposure(ctx context.Context, duration float64, light bool) error {
	params := url.Values{}
	params.Set("Duration", floatParam("Duration", duration).Get("Duration"))
	params.Set("Light", boolParam("Light", light).Get("Light"))
	_, err := c.tr.Put(ctx, "startexposure", params)
	return err
}

func (c *Camera) StopExposure(ctx context.Context) error {
	_, err := c.tr.Put(ctx, "stopexposure", nil)
	return err
}

func (c *Camera) AbortExposure(ctx context.Context) error {
	_, err := c.tr.Put(ctx, "abortexposure", nil)
	return err
}

func (c *Camera) ReadProperty(ctx context.Context, name string) (any, error) {
	return readNamed(ctx, c.tr, cameraProps, name)
}

func (c *Camera) WriteProperty(ctx context.Context, name string, value any) error {
	switch name {
	case "cooleron":
		on, err := asBool(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return c.SetCoolerOn(ctx, on)
	case "gain":
		gain, err := asInt(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return c.SetGain(ctx, gain)
	case "binx":
		bin, err := asInt(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return c.SetBinX(ctx, bin)
	case "biny":
		bin, err := asInt(value)
		if err != nil {
			return &Error{Kind: KindProtocol, Code: CodeInvalidValue, Message: err.Error()}
		}
		return c.SetBinY(ctx, bin)
	default:
		return ErrUnknownProperty
	}
}
