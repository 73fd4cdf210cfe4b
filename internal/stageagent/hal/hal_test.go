package hal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aefi-io/aefi/internal/stageagent/core"
)

func TestSimStageMoveAndHome(t *testing.T) {
	ctx := context.Background()
	s := NewSimStage(SimConfig{Speed: 1000})

	require.NoError(t, s.MoveTo(ctx, 3, 4))
	p, err := s.ReadPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.X)
	assert.Equal(t, 4.0, p.Y)

	require.NoError(t, s.Home(ctx, core.AxisY))
	p, _ = s.ReadPosition(ctx)
	assert.Equal(t, core.Position{X: 3, Y: 0}, core.Position{X: p.X, Y: p.Y})

	require.NoError(t, s.Home(ctx, core.AxisAll))
	p, _ = s.ReadPosition(ctx)
	assert.Zero(t, p.X)
	assert.Zero(t, p.Y)
}

func TestSimStageMoveHonoursContext(t *testing.T) {
	s := NewSimStage(SimConfig{Speed: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.MoveTo(ctx, 10, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p, _ := s.ReadPosition(context.Background())
	assert.Greater(t, p.X, 0.0)
	assert.Less(t, p.X, 10.0)
}

func TestSimStageConfigureSpeed(t *testing.T) {
	s := NewSimStage(SimConfig{})
	assert.Equal(t, 20.0, s.Speed())

	require.NoError(t, s.Configure(context.Background(), core.MotionSettings{Speed: 5}))
	assert.Equal(t, 5.0, s.Speed())

	require.NoError(t, s.Configure(context.Background(), core.MotionSettings{}))
	assert.Equal(t, 5.0, s.Speed(), "zero leaves the speed unchanged")
}

func TestSimStageFailNext(t *testing.T) {
	ctx := context.Background()
	s := NewSimStage(SimConfig{Speed: 1000})
	boom := errors.New("encoder fault")

	s.FailNext(OpMoveTo, boom)
	require.ErrorIs(t, s.MoveTo(ctx, 1, 1), boom)
	require.NoError(t, s.MoveTo(ctx, 1, 1))

	s.FailNext(OpStop, boom)
	require.ErrorIs(t, s.Stop(ctx), boom)
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 1, s.Stops())
}

func TestSimADCFollowsStage(t *testing.T) {
	ctx := context.Background()
	s := NewSimStage(SimConfig{Speed: 1000})
	adc := NewSimADC(s, ADCConfig{Channels: 3})

	require.NoError(t, s.MoveTo(ctx, 1, 2))
	sample, err := adc.AcquireSample(ctx)
	require.NoError(t, err)
	require.Len(t, sample.Values, 3)
	for c, v := range sample.Values {
		assert.InDelta(t, Signal(c, 1, 2), v, 1e-12)
	}
	assert.False(t, sample.Timestamp.IsZero())
}

func TestSimADCNoiseIsBounded(t *testing.T) {
	s := NewSimStage(SimConfig{})
	adc := NewSimADC(s, ADCConfig{Channels: 1, Noise: 0.01, Seed: 7})

	for i := 0; i < 50; i++ {
		sample, err := adc.AcquireSample(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, Signal(0, 0, 0), sample.Values[0], 0.01)
	}
}

func TestSimADCFailNextAndCancel(t *testing.T) {
	s := NewSimStage(SimConfig{})
	adc := NewSimADC(s, ADCConfig{Latency: time.Hour})

	boom := errors.New("overrange")
	adc.FailNext(boom)
	_, err := adc.AcquireSample(context.Background())
	require.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = adc.AcquireSample(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeviceLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage.lock")

	l, err := LockDevice(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())

	_, err = LockDevice(path)
	require.Error(t, err)

	require.NoError(t, l.Unlock())
	l2, err := LockDevice(path)
	require.NoError(t, err)
	require.NoError(t, l2.Unlock())
}
