// Package hal holds the hardware adapters of the stage agent. Only the
// simulated stage and ADC live here; a serial controller driver plugs into
// the same core ports.
package hal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/pkg/log"
)

// Operation names accepted by FailNext.
const (
	OpMoveTo       = "move_to"
	OpHome         = "home"
	OpStop         = "stop"
	OpReadPosition = "read_position"
	OpConfigure    = "configure"
	OpAcquire      = "acquire"
)

// SimConfig parameterizes SimStage.
type SimConfig struct {
	// Speed in mm/s used until a Configure changes it.
	Speed        float64
	HomeDuration time.Duration
	Clock        clock.Clock
}

// SimStage is an in-memory two axis stage. Moves take distance/speed and
// abort when ctx is done, leaving the stage where it was interrupted.
type SimStage struct {
	clock  clock.Clock
	logger log.Logger
	home   time.Duration

	mu     sync.Mutex
	pos    core.Position
	speed  float64
	faults map[string]error
	stops  int
}

var _ core.MotionHAL = (*SimStage)(nil)

func NewSimStage(cfg SimConfig) *SimStage {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 20
	}
	s := &SimStage{
		clock:  cfg.Clock,
		logger: log.WithName("hal"),
		home:   cfg.HomeDuration,
		speed:  cfg.Speed,
		faults: make(map[string]error),
	}
	s.pos.Timestamp = s.clock.Now()
	return s
}

// FailNext makes the next call of op return err instead of running.
func (s *SimStage) FailNext(op string, err error) {
	s.mu.Lock()
	s.faults[op] = err
	s.mu.Unlock()
}

func (s *SimStage) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

func (s *SimStage) MoveTo(ctx context.Context, x, y float64) error {
	if err := s.fault(OpMoveTo); err != nil {
		return err
	}

	s.mu.Lock()
	from, speed := s.pos, s.speed
	s.mu.Unlock()

	dist := math.Hypot(x-from.X, y-from.Y)
	d := time.Duration(dist / speed * float64(time.Second))
	s.logger.Debug(fmt.Sprintf("[HAL-Sim] Moving to (%.4f, %.4f)", x, y), "distance", dist, "duration", d)

	start := s.clock.Now()
	if err := s.sleep(ctx, d); err != nil {
		// Leave the stage partway along the segment.
		frac := 0.0
		if d > 0 {
			frac = math.Min(1, float64(s.clock.Since(start))/float64(d))
		}
		s.set(from.X+(x-from.X)*frac, from.Y+(y-from.Y)*frac)
		s.logger.Warn("[HAL-Sim] Move interrupted", "fraction", frac)
		return err
	}

	s.set(x, y)
	return nil
}

func (s *SimStage) Home(ctx context.Context, axis core.Axis) error {
	if err := s.fault(OpHome); err != nil {
		return err
	}

	s.logger.Info("[HAL-Sim] Homing", "axis", axisName(axis))
	if err := s.sleep(ctx, s.home); err != nil {
		return err
	}

	s.mu.Lock()
	if axis == core.AxisAll || axis == core.AxisX {
		s.pos.X = 0
	}
	if axis == core.AxisAll || axis == core.AxisY {
		s.pos.Y = 0
	}
	s.pos.Timestamp = s.clock.Now()
	s.mu.Unlock()
	return nil
}

func (s *SimStage) Stop(ctx context.Context) error {
	if err := s.fault(OpStop); err != nil {
		return err
	}
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.logger.Info("[HAL-Sim] Stop")
	return nil
}

func (s *SimStage) ReadPosition(ctx context.Context) (core.Position, error) {
	if err := s.fault(OpReadPosition); err != nil {
		return core.Position{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

func (s *SimStage) Configure(ctx context.Context, cfg core.MotionSettings) error {
	if err := s.fault(OpConfigure); err != nil {
		return err
	}
	if cfg.Speed > 0 {
		s.mu.Lock()
		s.speed = cfg.Speed
		s.mu.Unlock()
		s.logger.Info("[HAL-Sim] Speed set", "speed", cfg.Speed)
	}
	return nil
}

// Speed is the current travel speed in mm/s.
func (s *SimStage) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Stops counts Stop calls.
func (s *SimStage) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *SimStage) set(x, y float64) {
	s.mu.Lock()
	s.pos = core.Position{X: x, Y: y, Timestamp: s.clock.Now()}
	s.mu.Unlock()
}

func (s *SimStage) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

func axisName(a core.Axis) string {
	if a == core.AxisAll {
		return "all"
	}
	return string(a)
}
