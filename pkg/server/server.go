// Package server exposes the device state store to dashboard clients:
// synchronous cache reads over REST, a websocket feed of change events,
// and a write path routed through the typed protocol clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"alpacadash/pkg/alpaca"
	"alpacadash/pkg/state"
)

// Server is the HTTP boundary of the dashboard.
type Server struct {
	store  *state.Store
	hub    *Hub
	logger log.FieldLogger
}

func New(store *state.Store, logger log.FieldLogger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{
		store:  store,
		hub:    NewHub(logger.WithField("component", "ws")),
		logger: logger,
	}
}

// AddRoutes registers the API routes on a fresh mux.
func (s *Server) AddRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/devices", s.handleAddDevice)
	mux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	mux.HandleFunc("DELETE /api/devices/{id}", s.handleRemoveDevice)

	mux.HandleFunc("PUT /api/devices/{id}/connect", s.handleConnect)
	mux.HandleFunc("PUT /api/devices/{id}/disconnect", s.handleDisconnect)

	mux.HandleFunc("GET /api/devices/{id}/properties", s.handleProperties)
	mux.HandleFunc("GET /api/devices/{id}/properties/{name}", s.handleProperty)
	mux.HandleFunc("PUT /api/devices/{id}/properties/{name}", s.handleWriteProperty)
	mux.HandleFunc("POST /api/devices/{id}/properties/{name}/refresh", s.handleRefresh)

	mux.HandleFunc("GET /ws", s.hub.HandleUpgrade)

	return mux
}

// Run forwards store change events to the websocket hub until the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	id, events := s.store.Subscribe()
	defer s.store.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			s.hub.CloseAll()
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.hub.Broadcast(ev)
		}
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Devices())
}

type addDeviceRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Address string `json:"address"`
	Number  int    `json:"number"`
}

func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	devType, err := alpaca.ParseDeviceType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	desc, err := s.store.AddDevice(state.Descriptor{
		Name:    req.Name,
		Type:    devType,
		Address: req.Address,
		Number:  req.Number,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, desc)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	desc, err := s.store.Device(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	props, _ := s.store.Properties(id)

	writeJSON(w, http.StatusOK, struct {
		state.Descriptor
		Properties map[string]state.PropertyEntry `json:"properties"`
	}{desc, props})
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveDevice(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Connect(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Disconnect(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProperties(w http.ResponseWriter, r *http.Request) {
	props, err := s.store.Properties(r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Property(r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Refresh(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type writeRequest struct {
	Value any `json:"value"`
}

// handleWriteProperty routes a write through the device's protocol client
// and, on success, updates the cache immediately so the UI sees the new
// value before the next poll.
func (s *Server) handleWriteProperty(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	name := r.PathValue("name")

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, err := s.store.Client(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	if err := client.WriteProperty(r.Context(), name, req.Value); err != nil {
		switch {
		case errors.Is(err, alpaca.ErrUnknownProperty):
			writeError(w, http.StatusNotFound, err.Error())
		case alpaca.IsInvalidValue(err), alpaca.IsInvalidOperation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case alpaca.IsNotImplemented(err):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	s.store.RecordWrite(id, name, req.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, state.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
