package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joshp123/airbridge/internal/accessory"
	"github.com/joshp123/airbridge/internal/core"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SnapshotSource is the read side of an accessory registry.
type SnapshotSource interface {
	Snapshots() []accessory.Snapshot
	Get(uuid string) (accessory.Snapshot, bool)
}

// API serves the JSON endpoints mounted under /api.
type API struct {
	Accessories SnapshotSource
	Plugins     *core.Registry
	// Discover runs one reconciliation. Nil disables POST /discover.
	Discover func(ctx context.Context) error
	Logger   *slog.Logger
}

func (a API) RegisterRoutes(r chi.Router) {
	if a.Accessories != nil {
		r.Get("/accessories", a.handleAccessories)
		r.Get("/accessories/{uuid}", a.handleAccessory)
	}
	if a.Plugins != nil {
		r.Get("/plugins", a.handlePlugins)
	}
	if a.Discover != nil {
		r.Post("/discover", a.handleDiscover)
	}
}

func (a API) handleAccessories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Accessories.Snapshots())
}

func (a API) handleAccessory(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.Accessories.Get(chi.URLParam(r, "uuid"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("accessory not found"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a API) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Plugins.List())
}

func (a API) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if err := a.Discover(r.Context()); err != nil {
		a.logger().Error("discovery failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		return
	}
	var count int
	if a.Accessories != nil {
		count = len(a.Accessories.Snapshots())
	}
	writeJSON(w, http.StatusOK, map[string]int{"accessories": count})
}

func (a API) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
