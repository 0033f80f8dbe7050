// Package alpacatest provides a fake Alpaca device HTTP server for tests.
// It speaks the standard response envelope and lets tests mark members
// unsupported, remove the bulk-read endpoint, inject network failures and
// gate responses to control request ordering.
package alpacatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	codeNotImplemented = 0x400
	codeInvalidValue   = 0x401
	codeNotConnected   = 0x407
)

type envelope struct {
	ClientTransactionID int    `json:"ClientTransactionID"`
	ServerTransactionID int    `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

type stateProperty struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// Simulator is one fake device behind an httptest server. The zero value
// is not usable; create it with New.
type Simulator struct {
	srv       *httptest.Server
	txCounter atomic.Int32

	mu          sync.Mutex
	props       map[string]any    // lowercase action -> value
	names       map[string]string // lowercase action -> devicestate Name
	unsupported map[string]bool
	lost        map[string]bool
	noBulk      bool
	connected   bool
	netFail     map[string]int // action -> remaining HTTP 500 responses
	calls       map[string]int
	lastParams  map[string]url.Values
	gates       map[string]chan struct{}
	putHooks    map[string]func(params url.Values)
}

// New starts a simulator. Close it when done.
func New() *Simulator {
	s := &Simulator{
		props:       make(map[string]any),
		names:       make(map[string]string),
		unsupported: make(map[string]bool),
		lost:        make(map[string]bool),
		netFail:     make(map[string]int),
		calls:       make(map[string]int),
		lastParams:  make(map[string]url.Values),
		gates:       make(map[string]chan struct{}),
		putHooks:    make(map[string]func(url.Values)),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the simulator's base URL.
func (s *Simulator) URL() string { return s.srv.URL }

func (s *Simulator) Close() { s.srv.Close() }

// SetProperty sets a readable property. name uses the protocol's
// devicestate casing ("Position", "Azimuth"); the scalar action is the
// lowercase form.
func (s *Simulator) SetProperty(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(name)
	s.props[key] = value
	s.names[key] = name
}

// MarkUnsupported makes the action answer with a NotImplemented protocol
// error.
func (s *Simulator) MarkUnsupported(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsupported[strings.ToLower(action)] = true
}

// FailNotConnected makes the action answer with a NotConnected protocol
// error, the way a device that silently dropped its connection does.
func (s *Simulator) FailNotConnected(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost[strings.ToLower(action)] = true
}

// SetNoBulk removes the devicestate endpoint.
func (s *Simulator) SetNoBulk(noBulk bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noBulk = noBulk
}

// FailNetwork makes the next n requests for action fail with HTTP 500.
func (s *Simulator) FailNetwork(action string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.netFail[strings.ToLower(action)] = n
}

// Block gates requests for action until the returned func is called.
func (s *Simulator) Block(action string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[strings.ToLower(action)] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// OnPut registers a hook invoked with the request parameters whenever
// action is PUT.
func (s *Simulator) OnPut(action string, hook func(params url.Values)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putHooks[strings.ToLower(action)] = hook
}

// Calls returns how many requests action has received.
func (s *Simulator) Calls(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.ToLower(action)]
}

// LastParams returns the parameters of the most recent request for action.
func (s *Simulator) LastParams(action string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastParams[strings.ToLower(action)]
}

// Connected reports the simulated connection state.
func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) handle(w http.ResponseWriter, r *http.Request) {
	// Path shape: /api/v1/<type>/<number>/<action>
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 || parts[0] != "api" || parts[1] != "v1" {
		http.NotFound(w, r)
		return
	}
	action := parts[4]

	var params url.Values
	if r.Method == http.MethodPut {
		r.ParseForm()
		params = r.PostForm
	} else {
		params = r.URL.Query()
	}

	s.mu.Lock()
	s.calls[action]++
	s.lastParams[action] = params
	gate := s.gates[action]
	if n := s.netFail[action]; n > 0 {
		s.netFail[action] = n - 1
		s.mu.Unlock()
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	txID, _ := strconv.Atoi(params.Get("ClientTransactionID"))

	if r.Method == http.MethodPut {
		s.handlePut(w, action, params, txID)
		return
	}
	s.handleGet(w, action, txID)
}

func (s *Simulator) handlePut(w http.ResponseWriter, action string, params url.Values, txID int) {
	s.mu.Lock()
	hook := s.putHooks[action]
	unsupported := s.unsupported[action]
	s.mu.Unlock()

	if unsupported {
		s.writeError(w, txID, codeNotImplemented, fmt.Sprintf("%s is not implemented", action))
		return
	}
	if hook != nil {
		hook(params)
	}

	switch action {
	case "connect":
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
	case "disconnect":
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	case "move":
		if v, err := strconv.Atoi(params.Get("Position")); err == nil {
			s.SetProperty("Position", float64(v))
		}
	case "slewtoazimuth":
		if v, err := strconv.ParseFloat(params.Get("Azimuth"), 64); err == nil {
			s.SetProperty("Azimuth", v)
		}
	case "tempcomp":
		s.SetProperty("TempComp", strings.EqualFold(params.Get("TempComp"), "true"))
	case "tracking":
		s.SetProperty("Tracking", strings.EqualFold(params.Get("Tracking"), "true"))
	}

	s.writeValue(w, txID, nil)
}

func (s *Simulator) handleGet(w http.ResponseWriter, action string, txID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.lost[action]:
		s.writeError(w, txID, codeNotConnected, "the device is not connected")

	case action == "devicestate":
		if s.noBulk {
			s.writeError(w, txID, codeNotImplemented, "devicestate is not implemented")
			return
		}
		props := make([]stateProperty, 0, len(s.props))
		for key, v := range s.props {
			props = append(props, stateProperty{Name: s.names[key], Value: v})
		}
		s.writeValue(w, txID, props)

	case action == "connected":
		s.writeValue(w, txID, s.connected)

	case s.unsupported[action]:
		s.writeError(w, txID, codeNotImplemented, fmt.Sprintf("%s is not implemented", action))

	default:
		v, ok := s.props[action]
		if !ok {
			s.writeError(w, txID, codeNotImplemented, fmt.Sprintf("%s is not implemented", action))
			return
		}
		s.writeValue(w, txID, v)
	}
}

func (s *Simulator) writeValue(w http.ResponseWriter, txID int, value any) {
	s.writeEnvelope(w, envelope{
		ClientTransactionID: txID,
		ServerTransactionID: int(s.txCounter.Add(1)),
		Value:               value,
	})
}

func (s *Simulator) writeError(w http.ResponseWriter, txID, code int, message string) {
	s.writeEnvelope(w, envelope{
		ClientTransactionID: txID,
		ServerTransactionID: int(s.txCounter.Add(1)),
		ErrorNumber:         code,
		ErrorMessage:        message,
	})
}

func (s *Simulator) writeEnvelope(w http.ResponseWriter, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e)
}
