package bridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/joshp123/airbridge/internal/accessory"
	"github.com/joshp123/airbridge/internal/config"
	"github.com/joshp123/airbridge/internal/core"
	"github.com/joshp123/airbridge/internal/homekit"
	"github.com/joshp123/airbridge/internal/mqtt"
	"github.com/joshp123/airbridge/internal/oauth"
	"github.com/joshp123/airbridge/internal/platform"
	"github.com/joshp123/airbridge/internal/poller"
	"github.com/joshp123/airbridge/internal/rate"
	"github.com/joshp123/airbridge/internal/server"
	"github.com/joshp123/airbridge/internal/store"
	"github.com/joshp123/airbridge/plugins/airthings"
)

//go:embed dashboard.json
var dashboardJSON []byte

const (
	PluginID = "airthings"
	Version  = "0.3.0"
)

// Options carries the runtime dependencies a Plugin cannot build itself.
type Options struct {
	Config *config.Config
	// Health receives one service per accessory. Nil skips health export.
	Health *health.Server
	Logger *slog.Logger
	// Client overrides the Airthings API client built from Config.
	Client platform.Client
	// Publisher overrides the MQTT connection dialed from Config.
	Publisher mqtt.Publisher
}

// Plugin implements the bridge plugin contract for Airthings devices.
type Plugin struct {
	cfg    *config.Config
	logger *slog.Logger

	memory     *accessory.MemoryRegistry
	platform   *platform.Platform
	mqtt       *mqtt.Client
	mqttFailed bool
	homekit    *homekit.Registry
	scheduler  *platform.Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.RWMutex
	health        core.HealthStatus
	healthMessage string
}

// New wires the accessory pipeline. Configuration problems never fail
// construction; they surface as ERROR health and a nil platform.
func New(opts Options) *Plugin {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plugin{
		cfg:    opts.Config,
		logger: logger.With("plugin", PluginID),
		memory: accessory.NewMemoryRegistry(),
		health: core.HealthHealthy,
	}
	if p.cfg == nil {
		p.setHealth(core.HealthError, "config is required")
		return p
	}

	client := opts.Client
	if client == nil {
		if err := p.cfg.Credentials(); err != nil {
			p.logger.Error("airthings credentials missing", "error", err)
			p.setHealth(core.HealthError, err.Error())
			return p
		}
		c, err := airthings.NewClient(p.cfg.Airthings())
		if err != nil {
			p.logger.Error("airthings client init failed", "error", err)
			p.setHealth(core.HealthError, err.Error())
			return p
		}
		client = c
	}

	registries := accessory.Registries{p.memory}
	if opts.Health != nil {
		registries = append(registries, server.NewAccessoryHealth(opts.Health))
	}
	if pub := p.publisher(opts.Publisher); pub != nil {
		registries = append(registries, mqtt.NewRegistry(pub, p.cfg.MQTTConfig(), p.cfg.EnableEveCustomCharacteristics))
	}
	if hk := p.cfg.HomeKitConfig(); hk.Enabled {
		p.homekit = homekit.NewRegistry(hk, p.cfg.Presentation(), p.logger)
		registries = append(registries, p.homekit)
	}

	p.platform = platform.New(platform.Options{
		Client:   client,
		Registry: registries,
		Store:    p.store(),
		Config: platform.Config{
			IgnoredDevices:  p.cfg.IgnoredDevices,
			IncludedDevices: p.cfg.IncludedDevices,
			GracePeriod:     p.cfg.GracePeriod(),
			Present:         p.cfg.Presentation(),
		},
		Poller:      poller.Options{Interval: p.cfg.PollInterval()},
		Logger:      p.logger,
		OnReconcile: p.observeReconcile,
	})
	return p
}

func (p *Plugin) publisher(override mqtt.Publisher) mqtt.Publisher {
	if override != nil {
		return override
	}
	mqttCfg := p.cfg.MQTTConfig()
	if !mqttCfg.Enabled() {
		return nil
	}
	client, err := mqtt.Dial(mqttCfg, p.logger)
	if err != nil {
		p.logger.Error("mqtt unavailable, accessories will not be published", "error", err)
		p.mqttFailed = true
		p.setHealth(core.HealthDegraded, err.Error())
		return nil
	}
	p.mqtt = client
	return client
}

func (p *Plugin) store() store.Store {
	if p.cfg.Core.CachePath == "" {
		return nil
	}
	local := store.NewFileStore(p.cfg.Core.CachePath)
	blobCfg := p.cfg.BlobConfig()
	if !blobCfg.Enabled() {
		return local
	}
	remote, err := store.NewS3Store(blobCfg)
	if err != nil {
		p.logger.Warn("blob mirror disabled", "error", err)
		return local
	}
	return store.Mirrored{Local: local, Remote: remote, Logger: p.logger}
}

func (p *Plugin) observeReconcile(err error) {
	if err != nil {
		p.setHealth(core.HealthDegraded, err.Error())
		return
	}
	if p.mqttFailed {
		return
	}
	p.setHealth(core.HealthHealthy, "")
}

// Start restores cached accessories, runs the startup discovery in the
// background and arms the discovery schedule.
func (p *Plugin) Start(ctx context.Context) error {
	if p.platform == nil {
		return nil
	}
	scheduler, err := platform.NewScheduler(ctx, p.platform, p.cfg.DiscoverySchedule)
	if err != nil {
		return err
	}
	if err := p.platform.Load(ctx); err != nil {
		p.logger.Warn("accessory cache not restored", "error", err)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.platform.Discover(ctx)
	}()
	if p.homekit != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.homekit.Run(ctx); err != nil {
				p.logger.Error("homekit bridge stopped", "error", err)
				p.setHealth(core.HealthDegraded, err.Error())
			}
		}()
	}

	p.scheduler = scheduler
	p.scheduler.Start()
	if spec := p.scheduler.Spec(); spec != "" {
		p.logger.Info("discovery scheduled", "schedule", spec)
	}
	return nil
}

// Discover runs one reconciliation on demand.
func (p *Plugin) Discover(ctx context.Context) error {
	if p.platform == nil {
		return fmt.Errorf("airthings plugin unavailable: %s", p.HealthMessage())
	}
	return p.platform.Reconcile(ctx)
}

func (p *Plugin) Close() {
	p.scheduler.Stop()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if p.platform != nil {
		p.platform.Close()
	}
	if p.mqtt != nil {
		p.mqtt.Close()
	}
}

// Accessories is the latest snapshot of every registered accessory.
func (p *Plugin) Accessories() *accessory.MemoryRegistry {
	return p.memory
}

func (p *Plugin) ID() string {
	return PluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    PluginID,
		DisplayName: "Airthings",
		Version:     Version,
		Services:    []string{"grpc.health.v1.Health"},
	}
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "airthings-overview", JSON: dashboardJSON}}
}

// RegisterGRPC is a no-op: accessories are exported through the shared
// health service.
func (p *Plugin) RegisterGRPC(*grpc.Server) {}

func (p *Plugin) RegisterHTTP(r chi.Router) {
	r.Get("/readings", func(w http.ResponseWriter, _ *http.Request) {
		readings := []airthings.Reading{}
		if p.platform != nil {
			readings = p.platform.Readings()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(readings)
	})
}

func (p *Plugin) Collectors() []prometheus.Collector {
	collectors := []prometheus.Collector{}
	collectors = append(collectors, oauth.MetricsCollectors()...)
	collectors = append(collectors, rate.MetricsCollectors()...)
	collectors = append(collectors, poller.MetricsCollectors()...)
	collectors = append(collectors, platform.MetricsCollectors()...)
	if p.platform != nil {
		collectors = append(collectors, airthings.NewMetricsCollector(p.platform))
	}
	return collectors
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthMessage
}

func (p *Plugin) setHealth(status core.HealthStatus, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = status
	p.healthMessage = msg
}
