package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"alpacadash/pkg/alpaca"
)

// ErrUnsupported is returned for a property the device is known not to
// implement. No network call is made.
var ErrUnsupported = errors.New("syncer: property unsupported by device")

// DefaultFailureThreshold is the number of consecutive read failures
// after which a property is treated as unsupported for the rest of the
// connection session.
const DefaultFailureThreshold = 3

// PropertyReader is the slice of a device client the synchronizer needs.
type PropertyReader interface {
	ReadProperty(ctx context.Context, name string) (any, error)
	ReadAll(ctx context.Context) (map[string]any, error)
}

// Update is one cache update produced by the synchronizer. Seq is taken
// at request start; the sink must apply updates in Seq order, not arrival
// order. Gen tags the connection session the request belongs to.
type Update struct {
	Device   string
	Property string
	Value    any
	Err      error // set instead of Value for a failed read
	Failures int
	Seq      uint64
	Gen      uint64
	Time     time.Time
}

// Sink receives cache updates. Implemented by the device state store.
type Sink interface {
	// NextSeq hands out the request-start sequence number for a device.
	NextSeq(device string) uint64
	// Apply stores an update, dropping it if Seq or Gen is stale.
	Apply(u Update)
	// MarkUnavailable flips a property to the permanent unavailable state.
	MarkUnavailable(device, property string, gen uint64)
	// DeviceLost reports that the device answered NotConnected.
	DeviceLost(device string, gen uint64)
}

// fetchOp is one in-flight property read. Concurrent requesters share it.
type fetchOp struct {
	done  chan struct{}
	value any
	err   error
}

// Synchronizer keeps one device's property cache fresh. It decides bulk
// versus per-property reads, coalesces concurrent requests for the same
// property and applies the failure policy. One instance exists per
// connection session; it is discarded on disconnect.
type Synchronizer struct {
	device    string
	gen       uint64
	client    PropertyReader
	caps      *CapabilityRecord
	sink      Sink
	threshold int
	logger    log.FieldLogger

	mu       sync.Mutex
	tracked  map[string]struct{}
	failures map[string]int
	inflight map[string]*fetchOp
	bulkBusy bool
}

func New(device string, gen uint64, client PropertyReader, caps *CapabilityRecord, sink Sink, properties []string, threshold int, logger log.FieldLogger) *Synchronizer {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	tracked := make(map[string]struct{}, len(properties))
	for _, p := range properties {
		tracked[p] = struct{}{}
	}

	return &Synchronizer{
		device:    device,
		gen:       gen,
		client:    client,
		caps:      caps,
		sink:      sink,
		threshold: threshold,
		logger:    logger,
		tracked:   tracked,
		failures:  make(map[string]int),
		inflight:  make(map[string]*fetchOp),
	}
}

// Capabilities returns the session's capability record.
func (s *Synchronizer) Capabilities() *CapabilityRecord { return s.caps }

// Tracked returns the properties currently in the active poll set.
func (s *Synchronizer) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tracked))
	for p := range s.tracked {
		out = append(out, p)
	}
	return out
}

// Tick runs one poll pass. A bulk read is attempted while bulk-read
// support is unknown or known-supported; per-property reads cover the
// rest. Tick never waits on properties that are already being fetched.
func (s *Synchronizer) Tick(ctx context.Context) {
	if s.tryBulk(ctx) {
		return
	}
	for _, prop := range s.Tracked() {
		s.startFetch(ctx, prop)
	}
}

// Refresh short-circuits the poll interval for exactly one property. If a
// fetch for it is already outstanding, the pending result is shared
// instead of issuing a duplicate request.
func (s *Synchronizer) Refresh(ctx context.Context, prop string) (any, error) {
	op := s.startFetch(ctx, prop)
	select {
	case <-op.done:
		return op.value, op.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tryBulk attempts one bulk read covering the tracked properties. It
// reports whether the tick is done; false means the caller must fall back
// to per-property reads.
func (s *Synchronizer) tryBulk(ctx context.Context) bool {
	if s.caps.BulkRead() == CapUnsupported {
		return false
	}

	s.mu.Lock()
	if s.bulkBusy {
		// Previous bulk read still outstanding; nothing extra to issue.
		s.mu.Unlock()
		return true
	}
	s.bulkBusy = true
	s.mu.Unlock()

	seq := s.sink.NextSeq(s.device)
	values, err := s.client.ReadAll(ctx)

	s.mu.Lock()
	s.bulkBusy = false
	s.mu.Unlock()

	if err != nil {
		switch {
		case alpaca.IsNotConnected(err):
			s.sink.DeviceLost(s.device, s.gen)
			return true
		case alpaca.IsNotImplemented(err):
			s.logger.Info("device has no bulk-read endpoint, using individual reads")
			s.caps.ResolveBulkRead(CapUnsupported)
		default:
			s.logger.Debugf("bulk read failed: %v", err)
		}
		return false
	}

	s.caps.ResolveBulkRead(CapSupported)
	now := time.Now()

	var missing []string
	for _, prop := range s.Tracked() {
		v, ok := values[prop]
		if !ok {
			missing = append(missing, prop)
			continue
		}
		s.resetFailures(prop)
		s.caps.MarkSupported(prop)
		s.sink.Apply(Update{
			Device:   s.device,
			Property: prop,
			Value:    v,
			Seq:      seq,
			Gen:      s.gen,
			Time:     now,
		})
	}

	// Properties the bulk response did not cover still get individual reads.
	for _, prop := range missing {
		s.startFetch(ctx, prop)
	}
	return true
}

// startFetch launches a read for prop unless one is already in flight, in
// which case the existing operation is returned. At most one network
// operation per property exists at any time.
func (s *Synchronizer) startFetch(ctx context.Context, prop string) *fetchOp {
	s.mu.Lock()
	if op, ok := s.inflight[prop]; ok {
		s.mu.Unlock()
		return op
	}
	s.mu.Unlock()

	if s.caps.Member(prop) == CapUnsupported {
		op := &fetchOp{done: make(chan struct{}), err: ErrUnsupported}
		close(op.done)
		return op
	}

	s.mu.Lock()
	if op, ok := s.inflight[prop]; ok {
		s.mu.Unlock()
		return op
	}
	op := &fetchOp{done: make(chan struct{})}
	s.inflight[prop] = op
	s.mu.Unlock()

	// Sequence is taken at request start, before the network round trip.
	seq := s.sink.NextSeq(s.device)

	go func() {
		value, err := s.client.ReadProperty(ctx, prop)
		op.value, op.err = value, err
		s.handleResult(prop, seq, value, err)

		s.mu.Lock()
		delete(s.inflight, prop)
		s.mu.Unlock()
		close(op.done)
	}()
	return op
}

func (s *Synchronizer) handleResult(prop string, seq uint64, value any, err error) {
	now := time.Now()

	if err == nil {
		s.caps.MarkSupported(prop)
		s.resetFailures(prop)
		s.sink.Apply(Update{
			Device:   s.device,
			Property: prop,
			Value:    value,
			Seq:      seq,
			Gen:      s.gen,
			Time:     now,
		})
		return
	}

	switch {
	case alpaca.IsNotConnected(err):
		s.sink.DeviceLost(s.device, s.gen)

	case alpaca.IsNotImplemented(err):
		// Permanent condition, no point counting up to the threshold.
		s.logger.Infof("property %s not implemented by device", prop)
		s.disable(prop)

	default:
		n := s.bumpFailures(prop)
		if n >= s.threshold {
			s.logger.Warnf("property %s failed %d consecutive reads, disabling for this session", prop, n)
			s.disable(prop)
			return
		}
		s.sink.Apply(Update{
			Device:   s.device,
			Property: prop,
			Err:      err,
			Failures: n,
			Seq:      seq,
			Gen:      s.gen,
			Time:     now,
		})
	}
}

// disable removes prop from the active poll set for the rest of the
// session and tells consumers to render it as unavailable.
func (s *Synchronizer) disable(prop string) {
	s.caps.MarkUnsupported(prop)
	s.mu.Lock()
	delete(s.tracked, prop)
	s.mu.Unlock()
	s.sink.MarkUnavailable(s.device, prop, s.gen)
}

func (s *Synchronizer) resetFailures(prop string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[prop] = 0
}

// bumpFailures increments the consecutive-failure count, saturating at
// the threshold.
func (s *Synchronizer) bumpFailures(prop string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[prop] < s.threshold {
		s.failures[prop]++
	}
	return s.failures[prop]
}
