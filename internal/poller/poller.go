package poller

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/joshp123/airbridge/internal/rate"
	"github.com/joshp123/airbridge/plugins/airthings"
)

const (
	DefaultInterval = 300 * time.Second
	// MaxJitter bounds the random delay before the first poll.
	MaxJitter = 5 * time.Second
	// SoftFailureLimit is the number of consecutive soft failures that fault a device.
	SoftFailureLimit = 3
)

// Fetcher reads the latest sample of a device.
type Fetcher interface {
	LatestSample(ctx context.Context, deviceID string) (airthings.Sample, error)
}

// Timer is the part of *time.Timer the poller needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

type Options struct {
	Interval time.Duration
	// Jitter returns the delay before the first poll. Defaults to a uniform
	// draw from [0, MaxJitter).
	Jitter    func() time.Duration
	AfterFunc AfterFunc
	// Notify receives a copy of the state whenever it changes.
	Notify func(State)
	Logger *slog.Logger
	Now    func() time.Time
}

// Poller fetches one device on a fixed interval and tracks its state.
type Poller struct {
	deviceID  string
	name      string
	fetcher   Fetcher
	interval  time.Duration
	jitter    func() time.Duration
	afterFunc AfterFunc
	notify    func(State)
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
	// fields below are mutated under mu
	phase        Phase
	timer        Timer
	cancel       context.CancelFunc
	state        State
	softFailures int

	// notifyMu is held while a notification is delivered so Stop can wait
	// for it to finish.
	notifyMu sync.Mutex
}

func New(deviceID, name string, fetcher Fetcher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Jitter == nil {
		opts.Jitter = randomJitter
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	if opts.Notify == nil {
		opts.Notify = func(State) {}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		deviceID:  deviceID,
		name:      name,
		fetcher:   fetcher,
		interval:  opts.Interval,
		jitter:    opts.Jitter,
		afterFunc: opts.AfterFunc,
		notify:    opts.Notify,
		logger:    opts.Logger.With("device_id", deviceID, "name", name),
		now:       opts.Now,
	}
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(MaxJitter)))
}

func (p *Poller) DeviceID() string {
	return p.deviceID
}

// Start schedules the first poll. Calling it again, or after Stop, does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != Idle {
		return
	}
	delay := p.jitter()
	if delay < 0 {
		delay = 0
	}
	p.phase = Scheduled
	p.timer = p.afterFunc(delay, p.poll)
	p.logger.Debug("poller started", "first_poll_in", delay)
}

// Stop halts polling for good. An in-flight fetch is cancelled and its result
// discarded. No notification is delivered after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.phase == Stopped {
		p.mu.Unlock()
		return
	}
	p.phase = Stopped
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	// Wait out a notification that began before the phase changed.
	p.notifyMu.Lock()
	p.notifyMu.Unlock()
	p.logger.Debug("poller stopped")
}

func (p *Poller) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// State returns a copy of the current device state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

// Reading returns the current state in the shape the metrics collector uses.
func (p *Poller) Reading() airthings.Reading {
	state := p.State()
	return airthings.Reading{
		DeviceID: p.deviceID,
		Name:     p.name,
		Sample:   state.Sample,
		Faulted:  state.Faulted,
	}
}

func (p *Poller) poll() {
	p.mu.Lock()
	if p.phase != Scheduled {
		p.mu.Unlock()
		return
	}
	p.phase = Polling
	p.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	sample, err := p.fetcher.LatestSample(ctx, p.deviceID)
	cancel()

	p.mu.Lock()
	if p.phase == Stopped {
		p.mu.Unlock()
		return
	}
	p.cancel = nil
	changed := p.applyLocked(sample, err)
	snapshot := p.state.Clone()
	p.phase = Scheduled
	p.timer = p.afterFunc(p.interval, p.poll)
	p.mu.Unlock()

	if changed {
		p.deliver(snapshot)
	}
}

// applyLocked folds one fetch outcome into the state and reports whether
// observers must be told.
func (p *Poller) applyLocked(sample airthings.Sample, err error) bool {
	var rateErr rate.RateLimitError
	var timeoutErr airthings.TimeoutError

	switch {
	case err == nil && len(sample) > 0:
		cyclesTotal.WithLabelValues("success").Inc()
		p.softFailures = 0
		p.state = State{Sample: sample.Clone(), Faulted: false, UpdatedAt: p.now()}
		return true

	case errors.As(err, &rateErr):
		cyclesTotal.WithLabelValues("rate_limited").Inc()
		p.softFailures = 0
		p.logger.Debug("poll rate limited", "retry_at", rateErr.RetryAt)
		return false

	case err == nil, errors.As(err, &timeoutErr), errors.Is(err, airthings.ErrMalformedResponse):
		cyclesTotal.WithLabelValues("soft").Inc()
		p.softFailures++
		if err == nil {
			p.logger.Debug("poll returned empty sample", "consecutive", p.softFailures)
		} else {
			p.logger.Debug("poll soft failure", "consecutive", p.softFailures, "error", err)
		}
		if p.softFailures != SoftFailureLimit {
			return false
		}
		escalationsTotal.Inc()
		p.logger.Warn("device faulted after consecutive soft failures", "count", p.softFailures)
		p.state.Faulted = true
		p.state.UpdatedAt = p.now()
		return true

	default:
		cyclesTotal.WithLabelValues("hard").Inc()
		p.logger.Error("poll failed", "error", err)
		p.softFailures = 0
		p.state.Faulted = true
		p.state.UpdatedAt = p.now()
		return true
	}
}

func (p *Poller) deliver(state State) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	if p.Phase() == Stopped {
		return
	}
	p.notify(state)
}
