package homekit

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hc"
	hcaccessory "github.com/brutella/hc/accessory"
	hclog "github.com/brutella/hc/log"

	"github.com/joshp123/airbridge/internal/accessory"
)

const (
	DefaultPin         = "00102003"
	DefaultName        = "Airbridge"
	DefaultStoragePath = "/var/lib/airbridge/homekit"

	// Accessory set changes arrive in bursts during reconciliation.
	restartDelay = 2 * time.Second
)

var pinPattern = regexp.MustCompile(`^\d{8}$`)

// Config controls the HomeKit bridge.
type Config struct {
	Enabled     bool
	Name        string
	Pin         string
	Port        string
	StoragePath string
	Debug       bool
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = DefaultName
	}
	if strings.TrimSpace(c.Pin) == "" {
		c.Pin = DefaultPin
	}
	if strings.TrimSpace(c.StoragePath) == "" {
		c.StoragePath = DefaultStoragePath
	}
	return c
}

func (c Config) Validate() error {
	c = c.withDefaults()
	if !pinPattern.MatchString(c.Pin) {
		return fmt.Errorf("homekit pin must be 8 digits")
	}
	return nil
}

// Registry publishes accessories over HAP behind a single bridge accessory.
// The IP transport serves a fixed accessory set, so Run rebuilds it whenever
// accessories are registered or removed.
type Registry struct {
	cfg     Config
	present accessory.Options
	logger  *slog.Logger

	mu          sync.Mutex
	accessories map[string]*sensorAccessory
	changed     chan struct{}
}

func NewRegistry(cfg Config, present accessory.Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debug {
		hclog.Debug.Enable()
	}
	return &Registry{
		cfg:         cfg.withDefaults(),
		present:     present,
		logger:      logger.With("component", "homekit"),
		accessories: make(map[string]*sensorAccessory),
		changed:     make(chan struct{}, 1),
	}
}

func (r *Registry) Register(_ context.Context, record accessory.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accessories[record.UUID]; ok {
		return nil
	}
	r.accessories[record.UUID] = newSensorAccessory(record, r.present)
	r.notify()
	return nil
}

func (r *Registry) Unregister(_ context.Context, record accessory.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accessories[record.UUID]; !ok {
		return nil
	}
	delete(r.accessories, record.UUID)
	r.notify()
	return nil
}

func (r *Registry) Publish(_ context.Context, record accessory.Record, snapshot accessory.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accessories[record.UUID]; ok {
		a.apply(snapshot)
	}
	return nil
}

func (r *Registry) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// current returns the accessory set ordered by accessory id.
func (r *Registry) current() []*hcaccessory.Accessory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*hcaccessory.Accessory, 0, len(r.accessories))
	for _, a := range r.accessories {
		out = append(out, a.Accessory)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run serves the bridge until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	bridge := hcaccessory.NewBridge(hcaccessory.Info{Name: r.cfg.Name, Manufacturer: manufacturer, Model: "airbridge"})
	bridge.Accessory.ID = 1

	for {
		accs := r.current()
		transport, err := hc.NewIPTransport(hc.Config{
			Pin:         r.cfg.Pin,
			Port:        r.cfg.Port,
			StoragePath: r.cfg.StoragePath,
		}, bridge.Accessory, accs...)
		if err != nil {
			return fmt.Errorf("homekit transport: %w", err)
		}
		go transport.Start()
		r.logger.Info("homekit bridge serving", "accessories", len(accs))

		restart := false
		for !restart {
			select {
			case <-ctx.Done():
				<-transport.Stop()
				return nil
			case <-r.changed:
				select {
				case <-ctx.Done():
					<-transport.Stop()
					return nil
				case <-time.After(restartDelay):
				}
				restart = true
			}
		}
		<-transport.Stop()
		// Changes that landed during the delay are already in the next set.
		select {
		case <-r.changed:
		default:
		}
	}
}
