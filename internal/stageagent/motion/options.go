package motion

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/pkg/log"
)

type config struct {
	clock          clock.Clock
	logger         log.Logger
	pollInterval   time.Duration
	commandTimeout time.Duration
	settleDelay    time.Duration
	stabilization  time.Duration
	averaging      int
	history        int
	maxPoints      int
}

func defaultConfig() config {
	return config{
		clock:          clock.RealClock{},
		pollInterval:   100 * time.Millisecond,
		commandTimeout: 30 * time.Second,
		settleDelay:    250 * time.Millisecond,
		averaging:      1,
		history:        32,
		maxPoints:      core.MaxGridPoints,
	}
}

// Option customizes a Scheduler.
type Option func(*config)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

func WithLogger(l log.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// WithPollInterval sets the idle sleep between position reads.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.pollInterval = d
		}
	}
}

// WithCommandTimeout bounds every hardware call.
func WithCommandTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.commandTimeout = d
		}
	}
}

// WithSettleDelay sets the wait after each move before the read back.
func WithSettleDelay(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.settleDelay = d
		}
	}
}

// WithScanDefaults sets the step scan dwell and averaging used when a
// ScanConfig leaves them zero.
func WithScanDefaults(stabilization time.Duration, averaging int) Option {
	return func(cfg *config) {
		if stabilization >= 0 {
			cfg.stabilization = stabilization
		}
		if averaging > 0 {
			cfg.averaging = averaging
		}
	}
}

// WithHistory sets how many finished scans stay queryable.
func WithHistory(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.history = n
		}
	}
}

// WithMaxPoints caps the grid size of a single scan. Values above
// core.MaxGridPoints are clamped to it.
func WithMaxPoints(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxPoints = min(n, core.MaxGridPoints)
		}
	}
}
