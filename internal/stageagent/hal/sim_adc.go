package hal

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/aefi-io/aefi/internal/stageagent/core"
)

// PositionReader is what SimADC needs from the stage.
type PositionReader interface {
	ReadPosition(ctx context.Context) (core.Position, error)
}

// ADCConfig parameterizes SimADC.
type ADCConfig struct {
	Channels int
	Latency  time.Duration
	// Noise is the amplitude of uniform noise added to each channel.
	Noise float64
	Clock clock.Clock
	Seed  uint64
}

// SimADC returns a smooth function of the stage position, one value per
// channel, after Latency.
type SimADC struct {
	stage    PositionReader
	channels int
	latency  time.Duration
	noise    float64
	clock    clock.Clock

	mu   sync.Mutex
	rng  *rand.Rand
	fail error
}

var _ core.Acquirer = (*SimADC)(nil)

func NewSimADC(stage PositionReader, cfg ADCConfig) *SimADC {
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return &SimADC{
		stage:    stage,
		channels: cfg.Channels,
		latency:  cfg.Latency,
		noise:    cfg.Noise,
		clock:    cfg.Clock,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// FailNext makes the next acquisition return err.
func (a *SimADC) FailNext(err error) {
	a.mu.Lock()
	a.fail = err
	a.mu.Unlock()
}

func (a *SimADC) AcquireSample(ctx context.Context) (core.Sample, error) {
	a.mu.Lock()
	err := a.fail
	a.fail = nil
	a.mu.Unlock()
	if err != nil {
		return core.Sample{}, err
	}

	if a.latency > 0 {
		t := a.clock.NewTimer(a.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return core.Sample{}, ctx.Err()
		case <-t.C():
		}
	}

	pos, err := a.stage.ReadPosition(ctx)
	if err != nil {
		return core.Sample{}, fmt.Errorf("read position for sample: %w", err)
	}

	values := make([]float64, a.channels)
	a.mu.Lock()
	for c := range values {
		values[c] = Signal(c, pos.X, pos.Y)
		if a.noise > 0 {
			values[c] += (a.rng.Float64()*2 - 1) * a.noise
		}
	}
	a.mu.Unlock()

	return core.Sample{Timestamp: a.clock.Now(), Values: values}, nil
}

// Signal is the noiseless value of channel c at (x, y).
func Signal(c int, x, y float64) float64 {
	f := float64(c + 1)
	return math.Sin(x/f) * math.Cos(y/f)
}
