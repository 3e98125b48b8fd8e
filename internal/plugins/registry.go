package plugins

import (
	"log/slog"

	"google.golang.org/grpc/health"

	"github.com/joshp123/airbridge/internal/config"
	"github.com/joshp123/airbridge/internal/core"
)

// Env is what a factory may draw on to build its plugin.
type Env struct {
	Config *config.Config
	Health *health.Server
	Logger *slog.Logger
}

// Factory builds a plugin instance from the loaded config. Returning false
// leaves the plugin out of this run.
type Factory func(Env) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(env Env) []core.Plugin {
	if env.Config == nil {
		return nil
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(env)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
