package accessory

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Registry is the smart-home side that accessories are exposed through.
type Registry interface {
	Register(ctx context.Context, record Record) error
	Unregister(ctx context.Context, record Record) error
	Publish(ctx context.Context, record Record, snapshot Snapshot) error
}

// Registries fans every call out to each registry and joins the errors.
type Registries []Registry

func (rs Registries) Register(ctx context.Context, record Record) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, r.Register(ctx, record))
	}
	return errors.Join(errs...)
}

func (rs Registries) Unregister(ctx context.Context, record Record) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, r.Unregister(ctx, record))
	}
	return errors.Join(errs...)
}

func (rs Registries) Publish(ctx context.Context, record Record, snapshot Snapshot) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, r.Publish(ctx, record, snapshot))
	}
	return errors.Join(errs...)
}

// MemoryRegistry keeps the latest snapshot of every registered accessory.
type MemoryRegistry struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{snapshots: make(map[string]Snapshot)}
}

func (m *MemoryRegistry) Register(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[record.UUID]; !ok {
		m.snapshots[record.UUID] = Snapshot{
			UUID:     record.UUID,
			DeviceID: record.Device.ID,
			Name:     record.DisplayName,
			Orphaned: record.Orphaned(),
			Faulted:  record.Orphaned(),
		}
	}
	return nil
}

func (m *MemoryRegistry) Unregister(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, record.UUID)
	return nil
}

func (m *MemoryRegistry) Publish(_ context.Context, record Record, snapshot Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[record.UUID]; !ok {
		return nil
	}
	m.snapshots[record.UUID] = snapshot
	return nil
}

func (m *MemoryRegistry) Get(uuid string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[uuid]
	return snap, ok
}

// Snapshots returns every known snapshot ordered by name.
func (m *MemoryRegistry) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		out = append(out, snap)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}
