package core

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PluginSummary is the registry view of a plugin.
type PluginSummary struct {
	PluginID      string   `json:"pluginId"`
	DisplayName   string   `json:"displayName"`
	Version       string   `json:"version"`
	Status        string   `json:"status"`
	HealthMessage string   `json:"healthMessage,omitempty"`
	Services      []string `json:"services,omitempty"`
	Dashboards    []string `json:"dashboards,omitempty"`
}

// Registry provides plugin discovery to clients and mirrors plugin health
// into the gRPC health service as "plugin.<id>".
type Registry struct {
	plugins []Plugin
	health  *health.Server

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewRegistry builds a registry. hs may be nil when no gRPC server runs.
func NewRegistry(plugins []Plugin, hs *health.Server) *Registry {
	return &Registry{
		plugins: plugins,
		health:  hs,
		last:    make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
}

func HealthServiceName(pluginID string) string {
	return "plugin." + pluginID
}

func (r *Registry) List() []PluginSummary {
	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, summarize(p))
	}
	return out
}

func (r *Registry) Describe(pluginID string) (PluginSummary, bool) {
	for _, p := range r.plugins {
		if p.Manifest().PluginID == pluginID {
			return summarize(p), true
		}
	}
	return PluginSummary{}, false
}

func summarize(p Plugin) PluginSummary {
	manifest := p.Manifest()
	summary := PluginSummary{
		PluginID:      manifest.PluginID,
		DisplayName:   manifest.DisplayName,
		Version:       manifest.Version,
		Status:        string(p.Health()),
		HealthMessage: p.HealthMessage(),
		Services:      manifest.Services,
	}
	for _, d := range p.Dashboards() {
		summary.Dashboards = append(summary.Dashboards, DashboardPath(manifest.PluginID, d.Name))
	}
	return summary
}

// SyncHealth pushes the current plugin health into the health server.
// Only HEALTHY maps to SERVING; degraded plugins still answer but are
// reported as NOT_SERVING so probes notice.
func (r *Registry) SyncHealth() {
	if r.health == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plugins {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if p.Health() == HealthHealthy {
			status = healthpb.HealthCheckResponse_SERVING
		}
		name := HealthServiceName(p.ID())
		if prev, ok := r.last[name]; ok && prev == status {
			continue
		}
		r.last[name] = status
		r.health.SetServingStatus(name, status)
	}
}

// Watch calls SyncHealth every interval until ctx is done.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	r.SyncHealth()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SyncHealth()
		}
	}
}
