package app

import (
	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/internal/health"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/reporter"
	"github.com/flowmetrics/flowmeter/route"
)

// App is the top of the dependency graph. It holds references to the
// long-running components so the startstop ordering brings them up before
// the app and takes them down after it; its own job is just to announce
// the process lifecycle.
type App struct {
	Config   config.Config      `inject:""`
	Logger   logger.Logger      `inject:""`
	Router   *route.Router      `inject:""`
	Reporter *reporter.Reporter `inject:""`
	Health   health.Reporter    `inject:""`

	// Version is the build ID so that the running process may answer
	// requests for its version.
	Version    string `inject:"version"`
	InstanceID string `inject:"instanceID"`
}

func (a *App) Start() error {
	a.Logger.Info().
		WithString("version", a.Version).
		WithString("instance_id", a.InstanceID).
		WithString("config_hash", a.Config.GetConfigHash()).
		Logf("flowmeter is starting")
	return nil
}

func (a *App) Stop() error {
	a.Logger.Info().Logf("flowmeter is shutting down")
	return nil
}
