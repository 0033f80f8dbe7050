package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpacadash/pkg/alpaca/alpacatest"
	"alpacadash/pkg/state"
	"alpacadash/pkg/syncer"
)

func newTestServer(t *testing.T) (*httptest.Server, *state.Store) {
	t.Helper()
	sched := syncer.NewScheduler(2*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	store := state.NewStore(state.Options{
		ClientID:     1,
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
	}, nil, sched, nil)

	srv := httptest.NewServer(New(store, nil).AddRoutes())
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func addDevice(t *testing.T, srv *httptest.Server, address string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/devices", map[string]any{
		"name":    "bench focuser",
		"type":    "focuser",
		"address": address,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var desc state.Descriptor
	require.NoError(t, json.Unmarshal(body, &desc))
	require.NotEmpty(t, desc.ID)
	return desc.ID
}

func TestAddAndListDevices(t *testing.T) {
	srv, _ := newTestServer(t)

	id := addDevice(t, srv, "http://example.invalid:11111")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/devices", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var devs []state.Descriptor
	require.NoError(t, json.Unmarshal(body, &devs))
	require.Len(t, devs, 1)
	assert.Equal(t, id, devs[0].ID)
	assert.Equal(t, "bench focuser", devs[0].Name)
}

func TestAddDeviceRejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/devices", map[string]any{
		"type":    "coffeemaker",
		"address": "http://example.invalid",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDeviceNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/devices/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveDevice(t *testing.T) {
	srv, _ := newTestServer(t)
	id := addDevice(t, srv, "http://example.invalid")

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/devices/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/devices/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWritePropertyRequiresConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	id := addDevice(t, srv, "http://example.invalid")

	resp, _ := doJSON(t, http.MethodPut,
		fmt.Sprintf("%s/api/devices/%s/properties/tempcomp", srv.URL, id),
		map[string]any{"value": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConnectPollAndWrite(t *testing.T) {
	sim := alpacatest.New()
	defer sim.Close()
	sim.SetProperty("Position", 5000.0)
	sim.SetProperty("IsMoving", false)
	sim.SetProperty("Temperature", 4.2)
	sim.SetProperty("TempComp", false)

	srv, _ := newTestServer(t)
	id := addDevice(t, srv, sim.URL())

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/devices/"+id+"/connect", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, sim.Connected())

	// The poll loop fills the cache; read it back over the API.
	require.Eventually(t, func() bool {
		resp, body := doJSON(t, http.MethodGet,
			srv.URL+"/api/devices/"+id+"/properties/position", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var entry state.PropertyEntry
		return json.Unmarshal(body, &entry) == nil && entry.Value == 5000.0
	}, 2*time.Second, 10*time.Millisecond)

	// Writes go through the protocol client and land in the cache
	// immediately.
	resp, _ = doJSON(t, http.MethodPut,
		srv.URL+"/api/devices/"+id+"/properties/tempcomp", map[string]any{"value": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "True", sim.LastParams("tempcomp").Get("TempComp"))

	resp, body := doJSON(t, http.MethodGet,
		srv.URL+"/api/devices/"+id+"/properties/tempcomp", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry state.PropertyEntry
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Equal(t, true, entry.Value)

	// Unknown property names are rejected before touching the device.
	resp, _ = doJSON(t, http.MethodPut,
		srv.URL+"/api/devices/"+id+"/properties/warpfactor", map[string]any{"value": 9})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/devices/"+id+"/disconnect", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, sim.Connected())
}

func TestRefreshEndpoint(t *testing.T) {
	sim := alpacatest.New()
	defer sim.Close()
	sim.SetProperty("Position", 100.0)
	sim.SetProperty("IsMoving", false)
	sim.SetProperty("Temperature", 0.0)
	sim.SetProperty("TempComp", false)

	srv, _ := newTestServer(t)
	id := addDevice(t, srv, sim.URL())

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/devices/"+id+"/connect", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	sim.SetProperty("Position", 250.0)

	// A refresh may coalesce with a poll fetch that started before the
	// value changed; the next one sees the new value.
	require.Eventually(t, func() bool {
		resp, body := doJSON(t, http.MethodPost,
			srv.URL+"/api/devices/"+id+"/properties/position/refresh", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var entry state.PropertyEntry
		return json.Unmarshal(body, &entry) == nil && entry.Value == 250.0
	}, 2*time.Second, 10*time.Millisecond)
}
