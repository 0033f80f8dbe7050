package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// StateProperty is one entry of a devicestate bulk-read response.
type StateProperty struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// Device implements the operations common to every Alpaca device class.
// The typed clients embed it.
type Device struct {
	tr *Transport
}

func (d *Device) Transport() *Transport { return d.tr }

// Connect asks the device to connect to its hardware.
func (d *Device) Connect(ctx context.Context) error {
	_, err := d.tr.Put(ctx, "connect", nil)
	return err
}

// Disconnect asks the device to disconnect from its hardware.
func (d *Device) Disconnect(ctx context.Context) error {
	_, err := d.tr.Put(ctx, "disconnect", nil)
	return err
}

func (d *Device) Connected(ctx context.Context) (bool, error) {
	return get[bool](ctx, d.tr, "connected")
}

func (d *Device) Name(ctx context.Context) (string, error) {
	return get[string](ctx, d.tr, "name")
}

func (d *Device) Description(ctx context.Context) (string, error) {
	return get[string](ctx, d.tr, "description")
}

func (d *Device) DriverVersion(ctx context.Context) (string, error) {
	return get[string](ctx, d.tr, "driverversion")
}

// ReadAll issues one devicestate bulk read and returns the reported
// properties keyed by their lowercase action names. A device without the
// devicestate endpoint answers with a NotImplemented protocol error.
func (d *Device) ReadAll(ctx context.Context) (map[string]any, error) {
	raw, err := d.tr.Get(ctx, "devicestate", nil)
	if err != nil {
		return nil, err
	}

	var props []StateProperty
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "devicestate: decoding value", Err: err}
	}

	out := make(map[string]any, len(props))
	for _, p := range props {
		out[strings.ToLower(p.Name)] = p.Value
	}
	return out, nil
}

// get reads a scalar property and decodes the envelope Value into T.
func get[T any](ctx context.Context, tr *Transport, action string) (T, error) {
	var v T
	raw, err := tr.Get(ctx, action, nil)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &Error{Kind: KindNetwork, Message: action + ": decoding value", Err: err}
	}
	return v, nil
}

// readAny reads a scalar property without caring about its concrete type.
// The synchronizer caches values as decoded JSON.
func readAny(ctx context.Context, tr *Transport, action string) (any, error) {
	var v any
	raw, err := tr.Get(ctx, action, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &Error{Kind: KindNetwork, Message: action + ": decoding value", Err: err}
	}
	return v, nil
}

// readNamed validates name against the client's property set before
// touching the network.
func readNamed(ctx context.Context, tr *Transport, props []string, name string) (any, error) {
	if !containsProp(props, name) {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownProperty, tr.DeviceType(), name)
	}
	return readAny(ctx, tr, name)
}

func containsProp(props []string, name string) bool {
	for _, p := range props {
		if p == name {
			return true
		}
	}
	return false
}

// Wire parameter encoding. Alpaca parameter names are case-sensitive;
// booleans travel as "True"/"False".
func boolParam(name string, v bool) url.Values {
	s := "False"
	if v {
		s = "True"
	}
	return url.Values{name: {s}}
}

func intParam(name string, v int) url.Values {
	return url.Values{name: {strconv.Itoa(v)}}
}

func floatParam(name string, v float64) url.Values {
	return url.Values{name: {strconv.FormatFloat(v, 'f', -1, 64)}}
}

// Coercions for generic writes arriving as decoded JSON.
func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("expected bool, got %T", v)
	}
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
