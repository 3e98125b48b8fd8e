package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/airbridge/internal/core"
)

type dashPlugin struct{}

func (dashPlugin) ID() string { return "demo" }
func (dashPlugin) Manifest() core.Manifest {
	return core.Manifest{PluginID: "demo", DisplayName: "Demo", Version: "test"}
}
func (dashPlugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "overview", JSON: []byte(`{"title":"demo"}`)}}
}
func (dashPlugin) RegisterGRPC(*grpc.Server)          {}
func (dashPlugin) Collectors() []prometheus.Collector { return nil }
func (dashPlugin) Health() core.HealthStatus          { return core.HealthHealthy }
func (dashPlugin) HealthMessage() string              { return "" }

func TestHTTPRoutes(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "demo_total", Help: "demo"})
	counter.Inc()
	plugins := []core.Plugin{dashPlugin{}}
	handler := HTTP(HTTPOptions{
		Plugins: plugins,
		Metrics: core.MetricsRegistry(plugins, counter),
	})

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/health", status: http.StatusOK, body: `"ok"`},
		{path: "/metrics", status: http.StatusOK, body: "demo_total 1"},
		{path: "/dashboards/demo/overview.json", status: http.StatusOK, body: `"demo"`},
		{path: "/dashboards/demo/missing.json", status: http.StatusNotFound},
		{path: "/api/plugins", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.status, rec.Code)
		}
		if tc.body != "" && !strings.Contains(rec.Body.String(), tc.body) {
			t.Fatalf("%s: body missing %q: %s", tc.path, tc.body, rec.Body.String())
		}
	}
}

func TestHTTPCORSPreflight(t *testing.T) {
	handler := HTTP(HTTPOptions{CORSOrigins: []string{"https://grafana.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://grafana.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://grafana.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
