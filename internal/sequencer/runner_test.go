package sequencer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"site-assistant/internal/classifier"
	"site-assistant/internal/domain"
)

// fakeClock fires callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	due     time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, due: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.due.After(target) {
				continue
			}
			if next == nil || t.due.Before(next.due) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.due
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func newTestRunner(clock *fakeClock, rec *recorder) *Runner {
	conv := New("conv-1", classifier.Greeting, DefaultTimings(), clock.Now())
	return NewRunner(conv, WithClock(clock), WithObserver(rec.observe))
}

func TestRunner_PreviewTimeline(t *testing.T) {
	clock := newFakeClock(t0)
	rec := &recorder{}
	r := newTestRunner(clock, rec)
	defer r.Close()

	_, ok := r.Submit("Создай интернет-магазин")
	require.True(t, ok)
	require.True(t, rec.last().Typing)
	require.Equal(t, 1, clock.active())

	clock.Advance(time.Second)
	snap := rec.last()
	require.Len(t, snap.Messages, 3)
	require.True(t, snap.Messages[2].IsCreating)
	require.Equal(t, domain.PreviewEcommerce, snap.Messages[2].Preview.Kind)

	clock.Advance(4 * time.Second)
	snap = rec.last()
	require.False(t, snap.Messages[2].IsCreating)
	require.Equal(t, StageFinishing, snap.Stage)

	clock.Advance(500 * time.Millisecond)
	snap = rec.last()
	require.Len(t, snap.Messages, 4)
	require.Contains(t, snap.Messages[3].Text, "✨ Готово!")
	require.Equal(t, StageIdle, snap.Stage)
	require.Zero(t, clock.active())
}

func TestRunner_SnapshotsAreOrdered(t *testing.T) {
	clock := newFakeClock(t0)
	rec := &recorder{}
	r := newTestRunner(clock, rec)
	defer r.Close()

	_, _ = r.Submit("лендинг")
	clock.Advance(10 * time.Second)

	require.Len(t, rec.snaps, 4)
	for i := 1; i < len(rec.snaps); i++ {
		require.Greater(t, rec.snaps[i].Seq, rec.snaps[i-1].Seq)
	}
}

func TestRunner_EmptySubmitDoesNothing(t *testing.T) {
	clock := newFakeClock(t0)
	rec := &recorder{}
	r := newTestRunner(clock, rec)
	defer r.Close()

	_, ok := r.Submit("   ")
	require.False(t, ok)
	require.Empty(t, rec.snaps)
	require.Len(t, r.Snapshot().Messages, 1)
	require.Zero(t, clock.active())
}

func TestRunner_NewSubmissionCancelsPendingTimer(t *testing.T) {
	clock := newFakeClock(t0)
	rec := &recorder{}
	r := newTestRunner(clock, rec)
	defer r.Close()

	_, _ = r.Submit("сделай портфолио")
	clock.Advance(2 * time.Second)
	_, _ = r.Submit("подключи github")
	require.Equal(t, 1, clock.active())

	clock.Advance(time.Minute)
	snap := r.Snapshot()
	require.Len(t, snap.Messages, 5)
	require.False(t, snap.Messages[2].IsCreating)
	require.Contains(t, snap.Messages[4].Text, "Подключу GitHub")
	for _, m := range snap.Messages {
		require.NotContains(t, m.Text, "✨ Готово!")
	}
}

func TestRunner_StaleCallbackIgnored(t *testing.T) {
	clock := newFakeClock(t0)
	rec := &recorder{}
	r := newTestRunner(clock, rec)
	defer r.Close()

	_, _ = r.Submit("блог")
	r.mu.Lock()
	staleGen := r.gen - 1
	r.mu.Unlock()

	r.fire(staleGen)
	require.Len(t, r.Snapshot().Messages, 2)
}

func TestRunner_CloseStopsTimers(t *testing.T) {
	clock := newFakeClock(t0)
	rec := &recorder{}
	r := newTestRunner(clock, rec)

	_, _ = r.Submit("магазин")
	r.Close()
	require.Zero(t, clock.active())

	clock.Advance(time.Minute)
	require.Len(t, r.Snapshot().Messages, 2)
	require.Equal(t, StageIdle, r.Snapshot().Stage)

	_, ok := r.Submit("ещё")
	require.False(t, ok)
	r.Close()
}

func TestRunner_ResumesRestoredConversation(t *testing.T) {
	clock := newFakeClock(t0)
	conv := New("conv-1", classifier.Greeting, DefaultTimings(), t0)
	_, _ = conv.Submit("блог", t0)

	rec := &recorder{}
	r := NewRunner(conv, WithClock(clock), WithObserver(rec.observe))
	defer r.Close()
	require.Equal(t, 1, clock.active())

	clock.Advance(6 * time.Second)
	require.Len(t, r.Snapshot().Messages, 4)
}

func TestRunner_SystemClockNoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	done := make(chan struct{})
	var once sync.Once
	conv := New("conv-1", classifier.Greeting, DefaultTimings().Scaled(0.002), time.Now())
	r := NewRunner(conv, WithObserver(func(s Snapshot) {
		if s.Stage == StageIdle && len(s.Messages) == 4 {
			once.Do(func() { close(done) })
		}
	}))

	_, ok := r.Submit("лендинг")
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sequence did not complete")
	}
	r.Close()
}
