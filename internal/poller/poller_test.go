package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/airbridge/internal/rate"
	"github.com/joshp123/airbridge/plugins/airthings"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
	fired  []time.Duration
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Duration
	fn    func()
	done  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.done
	t.done = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward, running due timers in order on the
// calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		c.now = next.at
		c.fired = append(c.fired, next.at)
		c.mu.Unlock()
		next.fn()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, t := range c.timers {
		if !t.done {
			count++
		}
	}
	return count
}

func (c *fakeClock) Fired() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.fired...)
}

type result struct {
	sample airthings.Sample
	err    error
}

type scriptedFetcher struct {
	mu      sync.Mutex
	results []result
	calls   int
}

func (f *scriptedFetcher) LatestSample(_ context.Context, _ string) (airthings.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return airthings.Sample{airthings.Radon: 1}, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next.sample, next.err
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) Notify(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) All() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

const interval = time.Second

func newTestPoller(fetcher Fetcher, clock *fakeClock, rec *recorder) *Poller {
	return New("d1", "Bedroom", fetcher, Options{
		Interval:  interval,
		Jitter:    func() time.Duration { return 0 },
		AfterFunc: clock.AfterFunc,
		Notify:    rec.Notify,
	})
}

func timeout() error {
	return airthings.TimeoutError{Endpoint: "latest-samples", Err: context.DeadlineExceeded}
}

func TestPollerFiresOnFixedInterval(t *testing.T) {
	clock := &fakeClock{}
	p := newTestPoller(&scriptedFetcher{}, clock, &recorder{})

	p.Start()
	clock.Advance(3 * interval)

	fired := clock.Fired()
	want := []time.Duration{0, interval, 2 * interval, 3 * interval}
	if len(fired) != len(want) {
		t.Fatalf("expected fires at %v, got %v", want, fired)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("expected fires at %v, got %v", want, fired)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{}
	p := newTestPoller(fetcher, clock, &recorder{})

	p.Start()
	p.Start()
	if clock.Pending() != 1 {
		t.Fatalf("expected one timer, got %d", clock.Pending())
	}

	clock.Advance(0)
	p.Start()
	if clock.Pending() != 1 {
		t.Fatalf("expected one timer after first poll, got %d", clock.Pending())
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fetcher.calls)
	}
}

func TestJitterDelaysFirstPoll(t *testing.T) {
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{}
	p := New("d1", "Bedroom", fetcher, Options{
		Interval:  interval,
		Jitter:    func() time.Duration { return 1500 * time.Millisecond },
		AfterFunc: clock.AfterFunc,
	})

	p.Start()
	clock.Advance(1499 * time.Millisecond)
	if fetcher.calls != 0 {
		t.Fatalf("polled before jitter elapsed")
	}
	clock.Advance(time.Millisecond)
	if fetcher.calls != 1 {
		t.Fatalf("expected first poll at jitter, got %d calls", fetcher.calls)
	}
}

func TestDefaultJitterRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if d := randomJitter(); d < 0 || d >= MaxJitter {
			t.Fatalf("jitter out of range: %s", d)
		}
	}
}

func TestSoftFailuresEscalateOnce(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	fetcher := &scriptedFetcher{results: []result{
		{err: timeout()},
		{sample: airthings.Sample{}},
		{err: timeout()},
		{err: timeout()},
		{sample: airthings.Sample{}},
	}}
	p := newTestPoller(fetcher, clock, rec)

	p.Start()
	clock.Advance(interval)
	if p.State().Faulted {
		t.Fatalf("faulted after two soft failures")
	}
	if len(rec.All()) != 0 {
		t.Fatalf("expected no notifications before escalation")
	}

	clock.Advance(interval)
	if !p.State().Faulted {
		t.Fatalf("expected fault on third soft failure")
	}
	if got := len(rec.All()); got != 1 {
		t.Fatalf("expected one notification, got %d", got)
	}

	clock.Advance(2 * interval)
	if got := len(rec.All()); got != 1 {
		t.Fatalf("expected no further notifications past the limit, got %d", got)
	}
	if !p.State().Faulted {
		t.Fatalf("fault cleared without a success")
	}
}

func TestSuccessResetsSoftCounter(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	fetcher := &scriptedFetcher{results: []result{
		{err: timeout()},
		{err: timeout()},
		{sample: airthings.Sample{airthings.Radon: 42}},
		{err: timeout()},
		{err: timeout()},
	}}
	p := newTestPoller(fetcher, clock, rec)

	p.Start()
	clock.Advance(4 * interval)

	state := p.State()
	if state.Faulted {
		t.Fatalf("soft counter did not reset on success")
	}
	if v, _ := state.Sample.Get(airthings.Radon); v != 42 {
		t.Fatalf("expected retained sample, got %v", state.Sample)
	}
	if got := len(rec.All()); got != 1 {
		t.Fatalf("expected only the success notification, got %d", got)
	}
}

func TestRateLimitIsIgnored(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	limited := rate.RateLimitError{Provider: airthings.Provider, Reason: "cooldown"}
	fetcher := &scriptedFetcher{results: []result{
		{sample: airthings.Sample{airthings.Radon: 10}},
		{err: limited},
		{err: limited},
		{err: limited},
		{err: limited},
		{err: limited},
	}}
	p := newTestPoller(fetcher, clock, rec)

	p.Start()
	clock.Advance(5 * interval)

	if fetcher.calls != 6 {
		t.Fatalf("expected 6 fetches, got %d", fetcher.calls)
	}
	if p.State().Faulted {
		t.Fatalf("rate limiting must not fault the device")
	}
	if got := len(rec.All()); got != 1 {
		t.Fatalf("expected only the initial success notification, got %d", got)
	}
	if p.softFailures != 0 {
		t.Fatalf("rate limiting counted as a soft failure")
	}
}

func TestRateLimitResetsSoftCounter(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	fetcher := &scriptedFetcher{results: []result{
		{err: timeout()},
		{err: timeout()},
		{err: rate.RateLimitError{Provider: airthings.Provider, Reason: "429 too many requests"}},
		{err: timeout()},
	}}
	p := newTestPoller(fetcher, clock, rec)

	p.Start()
	clock.Advance(3 * interval)

	if fetcher.calls != 4 {
		t.Fatalf("expected 4 fetches, got %d", fetcher.calls)
	}
	if p.State().Faulted {
		t.Fatalf("soft failures straddling a rate limit faulted the device")
	}
	if p.softFailures != 1 {
		t.Fatalf("expected streak to restart after rate limit, got %d", p.softFailures)
	}
	if got := len(rec.All()); got != 0 {
		t.Fatalf("expected no notifications, got %d", got)
	}
}

func TestHardFailureFaultsImmediately(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	fetcher := &scriptedFetcher{results: []result{
		{err: timeout()},
		{err: timeout()},
		{err: airthings.HTTPStatusError{Status: 500, Body: "boom"}},
		{err: timeout()},
		{err: timeout()},
	}}
	p := newTestPoller(fetcher, clock, rec)

	p.Start()
	clock.Advance(2 * interval)
	if !p.State().Faulted {
		t.Fatalf("expected hard failure to fault")
	}
	if got := len(rec.All()); got != 1 {
		t.Fatalf("expected one notification, got %d", got)
	}

	// The counter was reset by the hard failure; two more soft failures do
	// not escalate again.
	clock.Advance(2 * interval)
	if got := len(rec.All()); got != 1 {
		t.Fatalf("expected no escalation after counter reset, got %d", got)
	}
}

func TestSuccessClearsFault(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	fetcher := &scriptedFetcher{results: []result{
		{err: errors.New("connection refused")},
		{sample: airthings.Sample{airthings.Radon: 5, airthings.Battery: 80}},
	}}
	p := newTestPoller(fetcher, clock, rec)

	p.Start()
	clock.Advance(interval)

	states := rec.All()
	if len(states) != 2 || !states[0].Faulted || states[1].Faulted {
		t.Fatalf("unexpected notifications: %+v", states)
	}
}

func TestStateReturnsCopy(t *testing.T) {
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{results: []result{{sample: airthings.Sample{airthings.Radon: 5}}}}
	p := newTestPoller(fetcher, clock, &recorder{})

	p.Start()
	clock.Advance(0)

	state := p.State()
	state.Sample[airthings.Radon] = 999
	if v, _ := p.State().Sample.Get(airthings.Radon); v != 5 {
		t.Fatalf("caller mutated poller state")
	}
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) LatestSample(ctx context.Context, _ string) (airthings.Sample, error) {
	close(f.started)
	<-f.release
	return airthings.Sample{airthings.Radon: 1}, nil
}

func TestStopDuringFetch(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	p := newTestPoller(fetcher, clock, rec)

	p.Start()
	done := make(chan struct{})
	go func() {
		clock.Advance(0)
		close(done)
	}()

	<-fetcher.started
	if p.Phase() != Polling {
		t.Fatalf("expected polling phase, got %s", p.Phase())
	}
	p.Stop()
	close(fetcher.release)
	<-done

	if p.Phase() != Stopped {
		t.Fatalf("expected stopped phase, got %s", p.Phase())
	}
	if clock.Pending() != 0 {
		t.Fatalf("poller rescheduled after stop")
	}
	if got := len(rec.All()); got != 0 {
		t.Fatalf("expected no notifications after stop, got %d", got)
	}
}

func TestStopCancelsScheduledTimer(t *testing.T) {
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{}
	p := newTestPoller(fetcher, clock, &recorder{})

	p.Start()
	p.Stop()
	p.Stop()
	clock.Advance(10 * interval)

	if fetcher.calls != 0 {
		t.Fatalf("expected no fetch after stop, got %d", fetcher.calls)
	}
	p.Start()
	if clock.Pending() != 0 {
		t.Fatalf("stopped poller restarted")
	}
}
