package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/joshp123/airbridge/internal/accessory"
	"github.com/joshp123/airbridge/internal/poller"
	"github.com/joshp123/airbridge/plugins/airthings"
)

// Discover runs one reconciliation and logs any failure. The next trigger
// simply tries again.
func (p *Platform) Discover(ctx context.Context) {
	if err := p.Reconcile(ctx); err != nil {
		p.logger.Error("device discovery failed", "error", err)
	}
}

// reconcilePlan collects the side effects of one pass so they run after mu
// is released.
type reconcilePlan struct {
	register   []accessory.Record
	unregister []accessory.Record
	publish    []*entry
	start      []*poller.Poller
	stop       []*poller.Poller
	records    []accessory.Record
}

// Reconcile diffs the upstream device list against the cached accessories.
// New devices are registered and polled, returning ones recover, missing
// ones are flagged orphaned and evicted once the grace period has strictly
// elapsed. A failed device listing leaves every record untouched.
func (p *Platform) Reconcile(ctx context.Context) error {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()

	devices, err := p.client.Devices(ctx)
	if err != nil {
		reconcileTotal.WithLabelValues("error").Inc()
		err = fmt.Errorf("list devices: %w", err)
		p.observe(err)
		return err
	}

	active := make(map[string]airthings.Device, len(devices))
	for _, device := range devices {
		if reason := p.cfg.exclusion(device); reason != "" {
			p.logger.Debug("device excluded", "device_id", device.ID, "device_type", device.DeviceType, "reason", reason)
			continue
		}
		active[accessory.UUIDFor(device.ID)] = device
	}
	if len(active) == 0 {
		p.logger.Warn("no devices to expose", "upstream", len(devices))
	}

	plan := p.plan(active, p.now())

	for _, pl := range plan.stop {
		pl.Stop()
	}
	for _, record := range plan.unregister {
		if err := p.registry.Unregister(ctx, record); err != nil {
			p.logger.Warn("unregister accessory failed", "uuid", record.UUID, "error", err)
		}
	}
	for _, record := range plan.register {
		if err := p.registry.Register(ctx, record); err != nil {
			p.logger.Warn("register accessory failed", "uuid", record.UUID, "error", err)
		}
	}
	for _, e := range plan.publish {
		p.publish(ctx, e.record, e.state)
	}
	for _, pl := range plan.start {
		pl.Start()
	}

	if p.store != nil {
		if err := p.store.Save(ctx, plan.records); err != nil {
			p.logger.Warn("save accessory cache failed", "error", err)
		}
	}

	reconcileTotal.WithLabelValues("ok").Inc()
	lastReconcile.Set(float64(p.now().Unix()))
	p.observe(nil)
	return nil
}

func (p *Platform) plan(active map[string]airthings.Device, now time.Time) reconcilePlan {
	p.mu.Lock()
	defer p.mu.Unlock()

	var plan reconcilePlan

	for uuid, device := range active {
		e, ok := p.entries[uuid]
		if !ok {
			e = &entry{record: accessory.NewRecord(device)}
			e.poller = p.newPoller(e.record)
			p.entries[uuid] = e
			plan.register = append(plan.register, e.record.Clone())
			plan.start = append(plan.start, e.poller)
			p.logger.Info("accessory added", "uuid", uuid, "device_id", device.ID, "name", e.record.DisplayName)
			continue
		}

		recovered := e.record.Orphaned()
		e.record.Device = device
		e.record.DisplayName = accessory.DisplayName(device)
		e.record.OrphanedSince = nil
		if e.poller == nil {
			e.poller = p.newPoller(e.record)
			plan.start = append(plan.start, e.poller)
		}
		if recovered {
			plan.publish = append(plan.publish, snapshotEntry(e))
			p.logger.Info("accessory recovered", "uuid", uuid, "device_id", device.ID)
		}
	}

	for uuid, e := range p.entries {
		if _, ok := active[uuid]; ok {
			continue
		}

		if e.record.OrphanedSince == nil {
			since := now
			e.record.OrphanedSince = &since
			if e.poller != nil {
				plan.stop = append(plan.stop, e.poller)
				e.poller = nil
			}
			plan.publish = append(plan.publish, snapshotEntry(e))
			p.logger.Warn("accessory orphaned", "uuid", uuid, "device_id", e.record.Device.ID, "grace_period", p.cfg.GracePeriod)
		}

		if now.Sub(*e.record.OrphanedSince) > p.cfg.GracePeriod {
			if e.poller != nil {
				plan.stop = append(plan.stop, e.poller)
				e.poller = nil
			}
			delete(p.entries, uuid)
			plan.unregister = append(plan.unregister, e.record.Clone())
			evictionsTotal.Inc()
			p.logger.Info("accessory evicted", "uuid", uuid, "device_id", e.record.Device.ID, "orphaned_since", *e.record.OrphanedSince)
		}
	}

	p.updateGaugesLocked()
	plan.records = p.recordsLocked()
	return plan
}

// snapshotEntry copies an entry so it can be published outside the lock.
func snapshotEntry(e *entry) *entry {
	return &entry{record: e.record.Clone(), state: e.state.Clone()}
}
