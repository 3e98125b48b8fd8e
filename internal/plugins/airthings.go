package plugins

import (
	"github.com/joshp123/airbridge/internal/bridge"
	"github.com/joshp123/airbridge/internal/core"
)

func init() {
	Register(func(env Env) (core.Plugin, bool) {
		return bridge.New(bridge.Options{
			Config: env.Config,
			Health: env.Health,
			Logger: env.Logger,
		}), true
	})
}
