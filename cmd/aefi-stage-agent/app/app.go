package app

import (
	"fmt"
	"sync/atomic"

	genericapiserver "k8s.io/apiserver/pkg/server"
	"k8s.io/klog/v2"

	"github.com/aefi-io/aefi/cmd/aefi-stage-agent/app/options"
	"github.com/aefi-io/aefi/internal/stageagent"
	"github.com/aefi-io/aefi/pkg/app"
	"github.com/aefi-io/aefi/pkg/log"
)

const (
	commandName = "aefi-stage-agent"
	commandDesc = `The aefi stage agent owns the link to one XY stage controller. It
serializes motion commands, runs raster and snake scans with acquisition at
every point, and reports progress over HTTP, MQTT and an S3 scan archive.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()

	// Set once the agent runs; config reloads before that are ignored.
	var running atomic.Pointer[stageagent.Agent]

	return app.NewApp(
		commandName,
		"Launch an aefi stage agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts, &running)),
		app.WithReloadFunc(func() error {
			if a := running.Load(); a != nil {
				return a.Reload(opts.MotionOptions)
			}
			return nil
		}),
	)
}

func run(opts *options.AgentOptions, running *atomic.Pointer[stageagent.Agent]) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer func() { _ = log.Sync() }()
		klog.SetLogger(log.Logr())

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}
		running.Store(agent)

		return agent.Run(ctx)
	}
}
