// Package stageagent assembles the motion worker, its simulated hardware and
// the surfaces that expose it into one runnable agent.
package stageagent

import (
	"context"
	"fmt"
	"time"

	"github.com/aefi-io/aefi/internal/stageagent/bus"
	"github.com/aefi-io/aefi/internal/stageagent/hal"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
	"github.com/aefi-io/aefi/internal/stageagent/server"
	"github.com/aefi-io/aefi/pkg/log"
	"github.com/aefi-io/aefi/pkg/options"
)

const bucketTimeout = 10 * time.Second

type Agent struct {
	axisID string
	lock   *hal.DeviceLock
	events *bus.Broadcaster
	sched  *motion.Scheduler
	http   *server.HTTPServer
	bridge *bus.MQTTBridge
	store  bus.ObjectStore
}

// Scheduler exposes the motion scheduler, mostly for tests.
func (a *Agent) Scheduler() *motion.Scheduler { return a.sched }

func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting aefi-stage-agent", "axis", a.axisID)
	defer a.release()

	if a.store != nil {
		bctx, cancel := context.WithTimeout(ctx, bucketTimeout)
		if err := a.store.EnsureBucket(bctx); err != nil {
			log.Warn("Scan archive bucket unavailable, uploads will fail until it exists", "error", err)
		}
		cancel()
	}

	mgr := server.NewManager()
	mgr.Add("motion", a.sched)
	mgr.Add("http", a.http)
	if a.bridge != nil {
		mgr.Add("mqtt", a.bridge)
	}

	err := mgr.Start(ctx)

	// The worker's shutdown events are still queued for the subscribers.
	a.events.Close()
	log.Info("Agent shutting down...")
	return err
}

// Reload applies the hot reloadable subset of the motion options.
func (a *Agent) Reload(o *options.MotionOptions) error {
	if err := a.sched.SetPollInterval(o.PollInterval); err != nil {
		return fmt.Errorf("reload poll interval: %w", err)
	}
	log.Info("Motion options reloaded", "pollInterval", o.PollInterval)
	return nil
}

func (a *Agent) release() {
	if a.lock == nil {
		return
	}
	if err := a.lock.Unlock(); err != nil {
		log.Error(err, "Failed to release device lock", "path", a.lock.Path())
	}
	a.lock = nil
}
