package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpacadash/pkg/alpaca/alpacatest"
)

func newSimClient(t *testing.T, devType DeviceType) (*alpacatest.Simulator, *Transport) {
	t.Helper()
	sim := alpacatest.New()
	t.Cleanup(sim.Close)

	tr, err := NewTransport(sim.URL(), devType, 0, 7, time.Second, nil)
	require.NoError(t, err)
	return sim, tr
}

func TestDeviceClientFactory(t *testing.T) {
	tests := []struct {
		devType  DeviceType
		wantType DeviceType
	}{
		{TypeTelescope, TypeTelescope},
		{TypeCamera, TypeCamera},
		{TypeFocuser, TypeFocuser},
		{TypeDome, TypeDome},
	}

	for _, tc := range tests {
		t.Run(tc.devType.String(), func(t *testing.T) {
			_, tr := newSimClient(t, tc.devType)
			client, err := NewDeviceClient(tr)
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, client.Type())
			assert.NotEmpty(t, client.PollProperties())
		})
	}
}

func TestFocuserMoveRelativeComposesStandardActions(t *testing.T) {
	sim, tr := newSimClient(t, TypeFocuser)
	sim.SetProperty("Position", 5000)

	f := NewFocuser(tr)
	require.NoError(t, f.MoveRelative(context.Background(), 120))

	// One standard read, one standard absolute move; nothing else.
	assert.Equal(t, 1, sim.Calls("position"))
	assert.Equal(t, 1, sim.Calls("move"))
	assert.Equal(t, "5120", sim.LastParams("move").Get("Position"))
}

func TestDomeSlewRelativeNormalizesTarget(t *testing.T) {
	sim, tr := newSimClient(t, TypeDome)
	sim.SetProperty("Azimuth", 350.0)

	d := NewDome(tr)
	require.NoError(t, d.SlewRelative(context.Background(), 20))

	assert.Equal(t, "10", sim.LastParams("slewtoazimuth").Get("Azimuth"))
}

func TestNormalizeAngle(t *testing.T) {
	assert.Equal(t, 0.0, normalizeAngle(0.0))
	assert.Equal(t, 45.0, normalizeAngle(45.0))
	assert.Equal(t, 0.0, normalizeAngle(360.0))
	assert.Equal(t, 10.0, normalizeAngle(370.0))
	assert.Equal(t, 330.0, normalizeAngle(-30.0))
	assert.Equal(t, 320.0, normalizeAngle(-400.0))
}

func TestOptionalMemberReportsNotImplemented(t *testing.T) {
	sim, tr := newSimClient(t, TypeFocuser)
	sim.SetProperty("Position", 100)
	sim.MarkUnsupported("temperature")

	f := NewFocuser(tr)
	_, err := f.Temperature(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotImplemented(err))
}

func TestReadPropertyRejectsUnknownNames(t *testing.T) {
	sim, tr := newSimClient(t, TypeFocuser)
	f := NewFocuser(tr)

	_, err := f.ReadProperty(context.Background(), "azimuth")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProperty))
	// Validation happens before any network traffic.
	assert.Equal(t, 0, sim.Calls("azimuth"))
}

func TestReadAllLowercasesPropertyNames(t *testing.T) {
	sim, tr := newSimClient(t, TypeFocuser)
	sim.SetProperty("Position", 5000)
	sim.SetProperty("IsMoving", false)

	f := NewFocuser(tr)
	values, err := f.ReadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(5000), values["position"])
	assert.Equal(t, false, values["ismoving"])
}

func TestReadAllWithoutBulkEndpoint(t *testing.T) {
	sim, tr := newSimClient(t, TypeFocuser)
	sim.SetNoBulk(true)

	f := NewFocuser(tr)
	_, err := f.ReadAll(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotImplemented(err))
}

func TestWritePropertyCoercion(t *testing.T) {
	sim, tr := newSimClient(t, TypeFocuser)
	f := NewFocuser(tr)
	ctx := context.Background()

	require.NoError(t, f.WriteProperty(ctx, "tempcomp", true))
	assert.Equal(t, "True", sim.LastParams("tempcomp").Get("TempComp"))

	require.NoError(t, f.WriteProperty(ctx, "position", float64(2048)))
	assert.Equal(t, "2048", sim.LastParams("move").Get("Position"))

	err := f.WriteProperty(ctx, "tempcomp", "definitely")
	require.Error(t, err)
	assert.True(t, IsInvalidValue(err))

	err = f.WriteProperty(ctx, "nonsense", 1)
	assert.True(t, errors.Is(err, ErrUnknownProperty))
}

func TestConnectDisconnectRoundTrip(t *testing.T) {
	sim, tr := newSimClient(t, TypeDome)
	d := NewDome(tr)
	ctx := context.Background()

	require.NoError(t, d.Connect(ctx))
	assert.True(t, sim.Connected())

	connected, err := d.Connected(ctx)
	require.NoError(t, err)
	assert.True(t, connected)

	require.NoError(t, d.Disconnect(ctx))
	assert.False(t, sim.Connected())
}
