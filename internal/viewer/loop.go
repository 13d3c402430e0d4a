package viewer

import (
	"context"
	"errors"
	"time"
)

var ErrLoopStopped = errors.New("loop stopped")

// Loop is the single goroutine that owns a Controller. Posted tasks and
// frame ticks run on it one at a time, in order.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	period time.Duration
	tick   func()
}

// NewLoop returns a loop that calls tick fps times per second. A nil tick
// or fps <= 0 disables the frame ticker.
func NewLoop(fps int, tick func()) *Loop {
	l := &Loop{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
		tick:  tick,
	}
	if fps > 0 && tick != nil {
		l.period = time.Second / time.Duration(fps)
	}
	return l
}

// Run executes tasks and ticks until ctx is cancelled. Tasks still queued
// at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	var frames <-chan time.Time
	if l.period > 0 {
		ticker := time.NewTicker(l.period)
		defer ticker.Stop()
		frames = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.tasks:
			fn()
		case <-frames:
			l.tick()
		}
	}
}

// Post queues fn without waiting for it. It reports false once the loop
// has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to return. It must not be
// called from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// After posts fn to the loop once d has elapsed, so a Controller can use the
// loop as its Scheduler.
func (l *Loop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		l.Post(fn)
	})
}
