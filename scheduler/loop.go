// Package scheduler runs fetch-and-reconcile cycles on a fixed interval.
//
// Each loop moves through Idle, Fetching and Reconciling and back to Idle. At most one cycle is in
// flight per loop; a tick or trigger that arrives while a cycle is running is skipped rather than
// queued. Cancelling the loop's context stops the timer. A fetch that is already in flight is
// allowed to finish, but its result is discarded.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/sirupsen/logrus"
)

// State is the current phase of a loop.
type State int32

const (
	// Idle means that no cycle is in flight.
	Idle State = iota

	// Fetching means that the loop is waiting for the fetch phase of a cycle.
	Fetching

	// Reconciling means that the loop is applying a fetched result.
	Reconciling
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Reconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// Cycle is the work performed by a loop on every tick.
type Cycle[T any] interface {
	Fetch(ctx context.Context) (T, error)
	Reconcile(ctx context.Context, fetched T) error
}

// Loop runs a Cycle periodically.
type Loop[T any] struct {
	name     string
	interval time.Duration
	cycle    Cycle[T]
	log      *logrus.Entry

	state   atomic.Int32
	busy    atomic.Bool
	running atomic.Bool
	skipped atomic.Int64
	trigger chan struct{}
	wg      sync.WaitGroup

	// newTicker is replaced in tests.
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewLoop returns a loop that runs cycle every interval.
func NewLoop[T any](name string, interval time.Duration, cycle Cycle[T]) *Loop[T] {
	return &Loop[T]{
		name:     name,
		interval: interval,
		cycle:    cycle,
		log:      logging.ForPackage("scheduler").WithField("loop", name),
		trigger:  make(chan struct{}, 1),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Name returns the name of the loop.
func (l *Loop[T]) Name() string {
	return l.name
}

// State returns the loop's current phase.
func (l *Loop[T]) State() State {
	return State(l.state.Load())
}

// Skipped returns the number of ticks and triggers that were skipped because a cycle was in flight.
func (l *Loop[T]) Skipped() int64 {
	return l.skipped.Load()
}

// Trigger asks the loop to start a cycle as soon as possible instead of waiting for the next tick.
// It returns false if the loop isn't running.
func (l *Loop[T]) Trigger() bool {
	if !l.running.Load() {
		return false
	}
	select {
	case l.trigger <- struct{}{}:
	default:
		// A trigger is already pending.
	}
	return true
}

// Run starts a cycle immediately and then once per interval until ctx is cancelled. It returns once
// the timer has stopped and any in-flight cycle has finished.
func (l *Loop[T]) Run(ctx context.Context) error {
	ticks, stop := l.newTicker(l.interval)
	defer stop()

	l.running.Store(true)
	defer l.running.Store(false)

	l.log.WithField("interval", l.interval.String()).Info("starting loop")
	l.start(ctx)

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			l.log.Info("loop stopped")
			return nil
		case <-ticks:
			l.start(ctx)
		case <-l.trigger:
			l.start(ctx)
		}
	}
}

// start launches a cycle unless one is already in flight.
func (l *Loop[T]) start(ctx context.Context) bool {
	if !l.busy.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		l.log.Debug("cycle still in flight, skipping")
		return false
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.busy.Store(false)
		defer l.state.Store(int32(Idle))
		l.runCycle(ctx)
	}()
	return true
}

func (l *Loop[T]) runCycle(ctx context.Context) {
	l.state.Store(int32(Fetching))

	// The fetch isn't interrupted by cancellation. Its result is checked against ctx afterwards.
	fetched, err := l.cycle.Fetch(context.WithoutCancel(ctx))
	if err != nil {
		l.log.WithError(err).Error("fetch failed, will retry on the next tick")
		return
	}
	if ctx.Err() != nil {
		l.log.Debug("loop stopped during fetch, discarding the result")
		return
	}

	l.state.Store(int32(Reconciling))
	if err = l.cycle.Reconcile(ctx, fetched); err != nil {
		l.log.WithError(err).Error("reconciliation failed")
	}
}
