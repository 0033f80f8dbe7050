package syncer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsDueTasks(t *testing.T) {
	sched := NewScheduler(2*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	var runs atomic.Int32
	sched.Register("dev-1", 5*time.Millisecond, func(context.Context) {
		runs.Add(1)
	})

	require.Eventually(t, func() bool { return runs.Load() >= 3 },
		time.Second, 2*time.Millisecond)

	sched.Unregister("dev-1")
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), stopped+1)
}

func TestSchedulerNeverOverlapsATask(t *testing.T) {
	sched := NewScheduler(2*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	var started atomic.Int32
	release := make(chan struct{})
	sched.Register("dev-1", 2*time.Millisecond, func(context.Context) {
		started.Add(1)
		<-release
	})

	require.Eventually(t, func() bool { return started.Load() == 1 },
		time.Second, 2*time.Millisecond)

	// The task is due again but still running; it must be skipped.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load())

	close(release)
	require.Eventually(t, func() bool { return started.Load() >= 2 },
		time.Second, 2*time.Millisecond)
}

func TestSchedulerDrivesMultipleDevices(t *testing.T) {
	sched := NewScheduler(2*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	var a, b atomic.Int32
	sched.Register("dev-a", 5*time.Millisecond, func(context.Context) { a.Add(1) })
	sched.Register("dev-b", 5*time.Millisecond, func(context.Context) { b.Add(1) })

	require.Eventually(t, func() bool { return a.Load() >= 2 && b.Load() >= 2 },
		time.Second, 2*time.Millisecond)
}
