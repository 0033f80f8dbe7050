package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultResolution = 250 * time.Millisecond

type task struct {
	device   string
	interval time.Duration
	run      func(ctx context.Context)
	lastRun  time.Time
	running  atomic.Bool
}

// Scheduler is the single process-owned poll driver. One timer loop
// evaluates every registered task each tick and launches the due ones
// without waiting on their I/O. Poll tasks are registered on device
// connect and removed on disconnect; no other component owns a timer.
type Scheduler struct {
	resolution time.Duration
	logger     log.FieldLogger

	mu    sync.Mutex
	tasks map[string]*task
}

// NewScheduler creates a scheduler evaluating tasks every resolution.
func NewScheduler(resolution time.Duration, logger log.FieldLogger) *Scheduler {
	if resolution <= 0 {
		resolution = defaultResolution
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Scheduler{
		resolution: resolution,
		logger:     logger,
		tasks:      make(map[string]*task),
	}
}

// Register adds the poll task for a device. A task registered while due
// runs on the next scheduler tick. Registering a device twice replaces
// its task.
func (s *Scheduler) Register(device string, interval time.Duration, run func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[device] = &task{device: device, interval: interval, run: run}
	s.logger.Debugf("poll task registered for %s every %v", device, interval)
}

// Unregister removes a device's poll task. An in-flight run is not
// interrupted; its results are discarded by the generation check.
func (s *Scheduler) Unregister(device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, device)
	s.logger.Debugf("poll task removed for %s", device)
}

// Run drives the timer loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.dispatch(ctx, now)
		}
	}
}

// dispatch launches every due task. A task still running from a previous
// tick is skipped, never overlapped.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*task
	for _, t := range s.tasks {
		if now.Sub(t.lastRun) >= t.interval && t.running.CompareAndSwap(false, true) {
			t.lastRun = now
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		go func(t *task) {
			defer t.running.Store(false)
			t.run(ctx)
		}(t)
	}
}
