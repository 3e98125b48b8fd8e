package platform

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joshp123/airbridge/internal/accessory"
	"github.com/joshp123/airbridge/internal/poller"
	"github.com/joshp123/airbridge/internal/store"
	"github.com/joshp123/airbridge/plugins/airthings"
)

// DefaultGracePeriod applies when no orphan grace period is configured.
const DefaultGracePeriod = 14 * 24 * time.Hour

// Client is the part of the Airthings API the platform depends on.
type Client interface {
	Devices(ctx context.Context) ([]airthings.Device, error)
	LatestSample(ctx context.Context, deviceID string) (airthings.Sample, error)
}

type Config struct {
	IgnoredDevices  []string
	IncludedDevices []string
	// GracePeriod is how long an orphaned accessory is kept. Zero evicts on
	// the reconciliation after it was first found missing.
	GracePeriod time.Duration
	Present     accessory.Options
}

type Options struct {
	Client   Client
	Registry accessory.Registry
	// Store is optional; without it records live only in memory.
	Store  store.Store
	Config Config
	// Poller is the template for every device poller. Notify is replaced.
	Poller poller.Options
	Logger *slog.Logger
	Now    func() time.Time
	// OnReconcile observes the outcome of every reconciliation.
	OnReconcile func(error)
}

type entry struct {
	record accessory.Record
	poller *poller.Poller
	state  poller.State
}

// Platform owns the accessory record set and the pollers behind it.
type Platform struct {
	client   Client
	registry accessory.Registry
	store    store.Store
	cfg      Config
	pollOpts poller.Options
	logger   *slog.Logger
	now      func() time.Time
	observe  func(error)

	// reconcileMu serializes Restore, Reconcile and Close.
	reconcileMu sync.Mutex

	mu sync.Mutex
	// entries is keyed by accessory UUID and mutated under mu
	entries map[string]*entry
}

func New(opts Options) *Platform {
	if opts.Registry == nil {
		opts.Registry = accessory.Registries{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Config.IgnoredDevices = cleanIDs(opts.Config.IgnoredDevices)
	opts.Config.IncludedDevices = cleanIDs(opts.Config.IncludedDevices)
	if opts.Config.GracePeriod < 0 {
		opts.Config.GracePeriod = 0
	}
	if opts.OnReconcile == nil {
		opts.OnReconcile = func(error) {}
	}
	if opts.Poller.Logger == nil {
		opts.Poller.Logger = opts.Logger
	}
	return &Platform{
		client:   opts.Client,
		registry: opts.Registry,
		store:    opts.Store,
		cfg:      opts.Config,
		pollOpts: opts.Poller,
		logger:   opts.Logger,
		now:      opts.Now,
		observe:  opts.OnReconcile,
		entries:  make(map[string]*entry),
	}
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// exclusion names the first filter that rejects the device, or "" when the
// device should be exposed.
func (c Config) exclusion(device airthings.Device) string {
	switch {
	case device.IsHub():
		return "hub"
	case slices.Contains(c.IgnoredDevices, device.ID):
		return "ignored"
	case len(c.IncludedDevices) > 0 && !slices.Contains(c.IncludedDevices, device.ID):
		return "not included"
	default:
		return ""
	}
}

func (p *Platform) newPoller(record accessory.Record) *poller.Poller {
	opts := p.pollOpts
	opts.Notify = p.onState(record.UUID)
	return poller.New(record.Device.ID, record.DisplayName, p.client, opts)
}

// onState publishes a poller's state change for the accessory it belongs to.
func (p *Platform) onState(uuid string) func(poller.State) {
	return func(state poller.State) {
		p.mu.Lock()
		e, ok := p.entries[uuid]
		if !ok {
			p.mu.Unlock()
			return
		}
		e.state = state.Clone()
		record := e.record.Clone()
		p.mu.Unlock()

		p.publish(context.Background(), record, state)
	}
}

func (p *Platform) publish(ctx context.Context, record accessory.Record, state poller.State) {
	snapshot := accessory.Present(record, state, p.cfg.Present)
	if err := p.registry.Publish(ctx, record, snapshot); err != nil {
		p.logger.Warn("publish accessory failed", "uuid", record.UUID, "device_id", record.Device.ID, "error", err)
	}
}

// Load restores the persisted record set, if a store is configured.
func (p *Platform) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	records, err := p.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	p.Restore(ctx, records)
	return nil
}

// Restore seeds the cache from persisted records. Records already known are
// skipped. Active records get a poller; orphaned ones are published faulted
// and left for the next reconciliation to age out.
func (p *Platform) Restore(ctx context.Context, records []accessory.Record) {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()

	var restored []*entry
	p.mu.Lock()
	for _, record := range records {
		if record.Device.ID == "" {
			continue
		}
		// One record per device: cached UUIDs are re-derived from the device id.
		if want := accessory.UUIDFor(record.Device.ID); record.UUID != want {
			p.logger.Warn("re-keying cached accessory", "device_id", record.Device.ID, "cached_uuid", record.UUID, "uuid", want)
			record.UUID = want
		}
		if _, ok := p.entries[record.UUID]; ok {
			continue
		}
		e := &entry{record: record.Clone()}
		if !record.Orphaned() {
			e.poller = p.newPoller(e.record)
		}
		p.entries[record.UUID] = e
		restored = append(restored, e)
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, e := range restored {
		if err := p.registry.Register(ctx, e.record); err != nil {
			p.logger.Warn("register restored accessory failed", "uuid", e.record.UUID, "error", err)
		}
		if e.poller != nil {
			e.poller.Start()
		} else {
			p.publish(ctx, e.record, e.state)
		}
		p.logger.Info("accessory restored", "uuid", e.record.UUID, "device_id", e.record.Device.ID, "name", e.record.DisplayName, "orphaned", e.record.Orphaned())
	}
}

// Records returns a copy of the cached records ordered by device id.
func (p *Platform) Records() []accessory.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recordsLocked()
}

func (p *Platform) recordsLocked() []accessory.Record {
	out := make([]accessory.Record, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.record.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.ID < out[j].Device.ID })
	return out
}

// Readings returns the current state of every cached accessory.
func (p *Platform) Readings() []airthings.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]airthings.Reading, 0, len(p.entries))
	for _, e := range p.entries {
		if e.poller != nil {
			reading := e.poller.Reading()
			reading.Name = e.record.DisplayName
			out = append(out, reading)
			continue
		}
		out = append(out, airthings.Reading{
			DeviceID: e.record.Device.ID,
			Name:     e.record.DisplayName,
			Sample:   e.state.Sample.Clone(),
			Faulted:  true,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Close stops every poller. Records stay cached.
func (p *Platform) Close() {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()

	p.mu.Lock()
	var pollers []*poller.Poller
	for _, e := range p.entries {
		if e.poller != nil {
			pollers = append(pollers, e.poller)
			e.poller = nil
		}
	}
	p.mu.Unlock()

	for _, pl := range pollers {
		pl.Stop()
	}
}

func (p *Platform) updateGaugesLocked() {
	active, orphaned := 0, 0
	for _, e := range p.entries {
		if e.record.Orphaned() {
			orphaned++
		} else {
			active++
		}
	}
	accessoriesGauge.WithLabelValues("active").Set(float64(active))
	accessoriesGauge.WithLabelValues("orphaned").Set(float64(orphaned))
}
