// Package sched provides the periodic loop used by the discovery and fleet
// modules: an initial delay, a fixed interval, and skip-if-busy semantics so
// a slow pass never stacks behind the next tick.
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one pass of a periodic job. The context is cancelled on shutdown.
type Task func(ctx context.Context)

// Loop runs a Task on a fixed cadence.
type Loop struct {
	name         string
	initialDelay time.Duration
	interval     time.Duration
	task         Task
	logger       *zap.Logger

	busy    atomic.Bool
	nowFunc func() time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLoop creates a loop that waits initialDelay, runs the task, then runs
// it again every interval. Ticks that arrive while a pass is still running
// are skipped.
func NewLoop(name string, initialDelay, interval time.Duration, task Task, logger *zap.Logger) *Loop {
	return &Loop{
		name:         name,
		initialDelay: initialDelay,
		interval:     interval,
		task:         task,
		logger:       logger,
		nowFunc:      time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the loop goroutine. It returns immediately.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		initial := time.NewTimer(l.initialDelay)
		defer initial.Stop()

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-initial.C:
		}

		l.run(ctx)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				l.logger.Debug("loop stopped (context cancelled)", zap.String("loop", l.name))
				return
			case <-l.stopCh:
				l.logger.Debug("loop stopped", zap.String("loop", l.name))
				return
			case <-ticker.C:
				l.run(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the goroutine. A pass in
// flight observes its context cancellation through the caller's context.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()
}

// run executes one pass unless the previous pass is still in flight.
func (l *Loop) run(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		l.logger.Debug("tick skipped: previous pass still running", zap.String("loop", l.name))
		return
	}
	defer l.busy.Store(false)

	start := l.nowFunc()
	l.task(ctx)
	l.logger.Debug("pass finished",
		zap.String("loop", l.name),
		zap.Duration("elapsed", l.nowFunc().Sub(start)),
	)
}

// RunNow executes one pass synchronously, honoring the skip-if-busy guard.
// Used by tests.
func (l *Loop) RunNow(ctx context.Context) {
	l.run(ctx)
}
