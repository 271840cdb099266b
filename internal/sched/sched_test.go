package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestLoopRunsOnCadence(t *testing.T) {
	var runs atomic.Int32
	task := func(context.Context) { runs.Add(1) }

	l := NewLoop("test", time.Millisecond, 5*time.Millisecond, task, zaptest.NewLogger(t))
	l.Start(context.Background())

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	l.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestLoopSkipsTickWhileBusy(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once

	task := func(context.Context) {
		once.Do(started.Done)
		<-release
	}

	l := NewLoop("busy", 0, time.Millisecond, task, zaptest.NewLogger(t))
	l.Start(context.Background())
	started.Wait()

	// Concurrent ticks must be dropped, not queued.
	l.RunNow(context.Background())
	l.RunNow(context.Background())

	close(release)
	l.Stop()
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	var runs atomic.Int32
	task := func(context.Context) { runs.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop("cancel", 0, time.Millisecond, task, zaptest.NewLogger(t))
	l.Start(ctx)

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	l.Stop()
}

func TestRunNowExecutesSynchronously(t *testing.T) {
	var runs int
	l := NewLoop("manual", time.Hour, time.Hour, func(context.Context) { runs++ }, zaptest.NewLogger(t))

	l.RunNow(context.Background())
	l.RunNow(context.Background())
	assert.Equal(t, 2, runs)
}
