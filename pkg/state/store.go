package state

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"alpacadash/pkg/alpaca"
	"alpacadash/pkg/syncer"
)

var (
	ErrNotFound     = errors.New("state: device not found")
	ErrNotConnected = errors.New("state: device not connected")
)

// ConnState is a device's connection state as seen by the dashboard.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	ConnError
)

func (c ConnState) String() string {
	switch c {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Error"
	}
}

func (c ConnState) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Descriptor identifies one configured device.
type Descriptor struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Type    alpaca.DeviceType `json:"type"`
	Address string            `json:"address"`
	Number  int               `json:"number"`
	State   ConnState         `json:"state"`
}

// PropertyEntry is one cached property value. Entries are immutable and
// replaced wholesale on update.
type PropertyEntry struct {
	Name        string    `json:"name"`
	Value       any       `json:"value"`
	Updated     time.Time `json:"updated"`
	LastError   string    `json:"last_error,omitempty"`
	Failures    int       `json:"failures,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`

	seq uint64
}

// EventType classifies store change notifications.
type EventType int

const (
	EventDeviceAdded EventType = iota
	EventDeviceRemoved
	EventConnState
	EventProperty
)

func (t EventType) String() string {
	switch t {
	case EventDeviceAdded:
		return "device_added"
	case EventDeviceRemoved:
		return "device_removed"
	case EventConnState:
		return "connection"
	default:
		return "property"
	}
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Event is one change notification. Property events are emitted only when
// the cached value actually changes, never once per poll tick.
type Event struct {
	Type        EventType `json:"type"`
	Device      string    `json:"device"`
	Property    string    `json:"property,omitempty"`
	Value       any       `json:"value,omitempty"`
	Error       string    `json:"error,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`
	ConnState   ConnState `json:"conn_state,omitempty"`
	Time        time.Time `json:"time"`
}

type deviceEntry struct {
	desc   Descriptor
	gen    uint64
	props  map[string]PropertyEntry
	client alpaca.DeviceClient
	sync   *syncer.Synchronizer
}

// Options configures the store.
type Options struct {
	// ClientID is the fixed per-session Alpaca client identifier. A
	// random one is chosen when zero.
	ClientID int
	// PollInterval is the per-device poll interval.
	PollInterval time.Duration
	// Timeout bounds every transport call.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count after which a
	// property is disabled for the session.
	FailureThreshold int
}

// Store is the canonical table of devices and their last-known
// properties: the single source of truth for every dashboard consumer.
// Reads never block on the network. The property cache is written only
// by the synchronizers (through the Sink interface) and by
// write-completion handlers.
type Store struct {
	opts   Options
	repo   *Repository
	sched  *syncer.Scheduler
	logger log.FieldLogger

	seq atomic.Uint64

	mu      sync.RWMutex
	devices map[string]*deviceEntry

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

const eventBuffer = 64

// NewStore creates the store. repo may be nil to run without persistence.
func NewStore(opts Options, repo *Repository, sched *syncer.Scheduler, logger log.FieldLogger) *Store {
	if opts.ClientID == 0 {
		opts.ClientID = rand.Intn(65534) + 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = syncer.DefaultFailureThreshold
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Store{
		opts:    opts,
		repo:    repo,
		sched:   sched,
		logger:  logger,
		devices: make(map[string]*deviceEntry),
		subs:    make(map[int]chan Event),
	}
}

// Load restores the persisted device table. All devices start out
// disconnected.
func (s *Store) Load() error {
	if s.repo == nil {
		return nil
	}
	descs, err := s.repo.Load()
	if err != nil {
		return fmt.Errorf("loading device table: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range descs {
		d.State = Disconnected
		s.devices[d.ID] = &deviceEntry{desc: d, props: make(map[string]PropertyEntry)}
	}
	s.logger.Infof("loaded %d devices", len(descs))
	return nil
}

// AddDevice registers a device. An empty ID gets a fresh UUID.
func (s *Store) AddDevice(desc Descriptor) (Descriptor, error) {
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}
	if desc.Name == "" {
		desc.Name = fmt.Sprintf("%s %d", desc.Type, desc.Number)
	}
	desc.State = Disconnected

	s.mu.Lock()
	if _, exists := s.devices[desc.ID]; exists {
		s.mu.Unlock()
		return Descriptor{}, fmt.Errorf("device %s already exists", desc.ID)
	}
	s.devices[desc.ID] = &deviceEntry{desc: desc, props: make(map[string]PropertyEntry)}
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Save(desc); err != nil {
			return Descriptor{}, fmt.Errorf("persisting device: %w", err)
		}
	}

	s.emit(Event{Type: EventDeviceAdded, Device: desc.ID, Time: time.Now()})
	s.logger.Infof("added %s device %q at %s", desc.Type, desc.Name, desc.Address)
	return desc, nil
}

// RemoveDevice disconnects and forgets a device.
func (s *Store) RemoveDevice(ctx context.Context, id string) error {
	if err := s.Disconnect(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Debugf("disconnect before remove: %v", err)
	}

	s.mu.Lock()
	if _, ok := s.devices[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.devices, id)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Delete(id); err != nil {
			return fmt.Errorf("removing device: %w", err)
		}
	}
	s.emit(Event{Type: EventDeviceRemoved, Device: id, Time: time.Now()})
	return nil
}

// Devices lists all configured devices, sorted by name.
func (s *Store) Devices() []Descriptor {
	s.mu.RLock()
	out := make([]Descriptor, 0, len(s.devices))
	for _, e := range s.devices {
		out = append(out, e.desc)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Device returns one device's descriptor.
func (s *Store) Device(id string) (Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.devices[id]
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	return e.desc, nil
}

// Property returns one cached property. It never touches the network.
func (s *Store) Property(id, name string) (PropertyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.devices[id]
	if !ok {
		return PropertyEntry{}, ErrNotFound
	}
	p, ok := e.props[name]
	if !ok {
		return PropertyEntry{}, fmt.Errorf("%w: property %s", ErrNotFound, name)
	}
	return p, nil
}

// Properties returns a copy of a device's property cache.
func (s *Store) Properties(id string) (map[string]PropertyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]PropertyEntry, len(e.props))
	for k, v := range e.props {
		out[k] = v
	}
	return out, nil
}

// Client returns the connected device's protocol client for writes and
// commands.
func (s *Store) Client(id string) (alpaca.DeviceClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.client == nil || e.desc.State != Connected {
		return nil, ErrNotConnected
	}
	return e.client, nil
}

// Capabilities reports what the connected device is known to implement.
func (s *Store) Capabilities(id string) (bulk syncer.Capability, unsupported []string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.devices[id]
	if !ok {
		return 0, nil, ErrNotFound
	}
	if e.sync == nil {
		return 0, nil, ErrNotConnected
	}
	caps := e.sync.Capabilities()
	return caps.BulkRead(), caps.Unsupported(), nil
}

// Connect brings a device online: probes it, starts its poll task and
// resets its capability knowledge to unknown.
func (s *Store) Connect(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if e.desc.State == Connected || e.desc.State == Connecting {
		s.mu.Unlock()
		return nil
	}
	e.desc.State = Connecting
	desc := e.desc
	s.mu.Unlock()
	s.emitConn(id, Connecting)

	logger := s.logger.WithField("device", desc.Name)

	tr, err := alpaca.NewTransport(desc.Address, desc.Type, desc.Number, s.opts.ClientID, s.opts.Timeout, logger)
	if err != nil {
		s.failConnect(id, err)
		return err
	}
	client, err := alpaca.NewDeviceClient(tr)
	if err != nil {
		s.failConnect(id, err)
		return err
	}
	if err := client.Connect(ctx); err != nil {
		s.failConnect(id, err)
		return fmt.Errorf("connecting %s: %w", desc.Name, err)
	}

	s.mu.Lock()
	e.gen++
	caps := syncer.NewCapabilityRecord()
	sy := syncer.New(id, e.gen, client, caps, s, client.PollProperties(), s.opts.FailureThreshold, logger)
	e.client = client
	e.sync = sy
	e.props = make(map[string]PropertyEntry)
	e.desc.State = Connected
	s.mu.Unlock()

	s.sched.Register(id, s.opts.PollInterval, sy.Tick)
	s.emitConn(id, Connected)
	logger.Info("device connected")
	return nil
}

func (s *Store) failConnect(id string, err error) {
	s.mu.Lock()
	if e, ok := s.devices[id]; ok {
		e.desc.State = ConnError
	}
	s.mu.Unlock()
	s.logger.WithField("device", id).Errorf("connect failed: %v", err)
	s.emitConn(id, ConnError)
}

// Disconnect stops the device's poll task, clears its property cache and
// discards its capability record. In-flight fetch results are dropped by
// the generation check.
func (s *Store) Disconnect(ctx context.Context, id string) error {
	s.sched.Unregister(id)

	s.mu.Lock()
	e, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if e.desc.State == Disconnected {
		s.mu.Unlock()
		return nil
	}
	client := e.client
	e.gen++
	e.client = nil
	e.sync = nil
	e.props = make(map[string]PropertyEntry)
	e.desc.State = Disconnected
	s.mu.Unlock()

	if client != nil {
		if err := client.Disconnect(ctx); err != nil {
			s.logger.WithField("device", id).Debugf("disconnect request failed: %v", err)
		}
	}
	s.emitConn(id, Disconnected)
	return nil
}

// Refresh forces one immediate read of a property, coalescing with any
// fetch already in flight, and returns the resulting cache entry.
func (s *Store) Refresh(ctx context.Context, id, name string) (PropertyEntry, error) {
	s.mu.RLock()
	e, ok := s.devices[id]
	var sy *syncer.Synchronizer
	if ok {
		sy = e.sync
	}
	s.mu.RUnlock()

	if !ok {
		return PropertyEntry{}, ErrNotFound
	}
	if sy == nil {
		return PropertyEntry{}, ErrNotConnected
	}
	if _, err := sy.Refresh(ctx, name); err != nil {
		return PropertyEntry{}, err
	}
	return s.Property(id, name)
}

// RecordWrite updates the cache immediately after a successful write so a
// read before the next poll returns the just-written value.
func (s *Store) RecordWrite(id, name string, value any) {
	s.mu.RLock()
	e, ok := s.devices[id]
	var gen uint64
	if ok {
		gen = e.gen
	}
	connected := ok && e.desc.State == Connected
	s.mu.RUnlock()

	if !connected {
		return
	}
	s.Apply(syncer.Update{
		Device:   id,
		Property: name,
		Value:    value,
		Seq:      s.seq.Add(1),
		Gen:      gen,
		Time:     time.Now(),
	})
}

// NextSeq implements syncer.Sink.
func (s *Store) NextSeq(string) uint64 { return s.seq.Add(1) }

// Apply implements syncer.Sink. Updates are applied in request-start
// order: a result whose request started before the stored value's request
// is dropped. Equal sequence numbers keep the latest arrival. Results
// from a stale connection generation are discarded.
func (s *Store) Apply(u syncer.Update) {
	s.mu.Lock()
	e, ok := s.devices[u.Device]
	if !ok || e.gen != u.Gen {
		s.mu.Unlock()
		return
	}
	old, exists := e.props[u.Property]
	if exists && u.Seq < old.seq {
		s.mu.Unlock()
		return
	}

	var entry PropertyEntry
	if u.Err != nil {
		// Keep the stale value; record the trouble.
		entry = PropertyEntry{
			Name:      u.Property,
			Value:     old.Value,
			Updated:   old.Updated,
			LastError: u.Err.Error(),
			Failures:  u.Failures,
			seq:       u.Seq,
		}
	} else {
		entry = PropertyEntry{
			Name:    u.Property,
			Value:   u.Value,
			Updated: u.Time,
			seq:     u.Seq,
		}
	}

	changed := !exists ||
		!reflect.DeepEqual(old.Value, entry.Value) ||
		old.LastError != entry.LastError ||
		old.Unavailable != entry.Unavailable
	e.props[u.Property] = entry
	s.mu.Unlock()

	if changed {
		s.emit(Event{
			Type:     EventProperty,
			Device:   u.Device,
			Property: u.Property,
			Value:    entry.Value,
			Error:    entry.LastError,
			Time:     u.Time,
		})
	}
}

// MarkUnavailable implements syncer.Sink. The property renders as
// not-applicable, not as an error.
func (s *Store) MarkUnavailable(device, property string, gen uint64) {
	now := time.Now()

	s.mu.Lock()
	e, ok := s.devices[device]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	old := e.props[property]
	e.props[property] = PropertyEntry{
		Name:        property,
		Unavailable: true,
		Updated:     now,
		seq:         s.seq.Add(1),
	}
	s.mu.Unlock()

	if !old.Unavailable {
		s.emit(Event{
			Type:        EventProperty,
			Device:      device,
			Property:    property,
			Unavailable: true,
			Time:        now,
		})
	}
}

// DeviceLost implements syncer.Sink. A NotConnected protocol error is a
// silent device-side disconnection.
func (s *Store) DeviceLost(device string, gen uint64) {
	s.mu.RLock()
	e, ok := s.devices[device]
	stale := !ok || e.gen != gen || e.desc.State != Connected
	s.mu.RUnlock()
	if stale {
		return
	}

	s.logger.WithField("device", device).Warn("device reports not connected, disconnecting")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Disconnect(ctx, device); err != nil {
			s.logger.Debugf("disconnecting lost device: %v", err)
		}
	}()
}

// Subscribe registers a change-event consumer. Slow consumers lose
// events rather than blocking the cache.
func (s *Store) Subscribe() (int, <-chan Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, eventBuffer)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Store) emit(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warnf("dropping event for slow subscriber %d", id)
		}
	}
}

func (s *Store) emitConn(id string, cs ConnState) {
	s.emit(Event{Type: EventConnState, Device: id, ConnState: cs, Time: time.Now()})
}
