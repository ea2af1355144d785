package sequencer

import (
	"sync"
	"time"

	"site-assistant/internal/classifier"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so the runner can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock backed by time.AfterFunc.
var SystemClock Clock = systemClock{}

// Observer receives a snapshot after every change. Snapshots carry an
// increasing Seq; an observer may receive them from different goroutines
// and should drop any with a Seq lower than the last one it saw.
type Observer func(Snapshot)

// Runner drives one conversation in real time. It keeps at most one timer
// armed for the next pending step and is safe for concurrent use.
type Runner struct {
	mu       sync.Mutex
	conv     *Conversation
	clock    Clock
	observer Observer

	timer  Timer
	gen    uint64
	seq    uint64
	closed bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithObserver registers the change callback.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// NewRunner wraps conv. The runner takes ownership; callers must not touch
// conv afterwards.
func NewRunner(conv *Conversation, opts ...Option) *Runner {
	r := &Runner{conv: conv, clock: SystemClock}
	for _, opt := range opts {
		opt(r)
	}
	r.mu.Lock()
	r.armLocked()
	r.mu.Unlock()
	return r
}

// Submit appends a user turn, cancelling the timer of any previous turn.
// It returns false for empty input or after Close.
func (r *Runner) Submit(text string) (classifier.Decision, bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return classifier.Decision{}, false
	}
	d, ok := r.conv.Submit(text, r.clock.Now())
	if !ok {
		r.mu.Unlock()
		return d, false
	}
	r.armLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
	return d, true
}

// Snapshot returns the current visible state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Close stops the pending timer and drops the scheduled steps. Callbacks
// that already fired are ignored.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.stopLocked()
	r.conv.Cancel(r.clock.Now())
}

func (r *Runner) fire(gen uint64) {
	r.mu.Lock()
	if r.closed || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	changed := r.conv.Advance(r.clock.Now())
	r.armLocked()
	var snap Snapshot
	if changed {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if changed {
		r.notify(snap)
	}
}

// armLocked replaces the current timer with one for the next due step.
func (r *Runner) armLocked() {
	r.stopLocked()
	due, ok := r.conv.NextDue()
	if !ok {
		return
	}
	gen := r.gen
	delay := due.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	r.timer = r.clock.AfterFunc(delay, func() { r.fire(gen) })
}

func (r *Runner) stopLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Runner) snapshotLocked() Snapshot {
	r.seq++
	s := r.conv.Snapshot()
	s.Seq = r.seq
	return s
}

func (r *Runner) notify(s Snapshot) {
	if r.observer != nil {
		r.observer(s)
	}
}
