package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validScan() ScanConfig {
	return ScanConfig{XMin: 0, XMax: 10, YMin: 0, YMax: 10, XPoints: 3, YPoints: 3}.WithDefaults()
}

func TestScanConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *ScanConfig)
		field  string
	}{
		{"valid", func(c *ScanConfig) {}, ""},
		{"inverted bounds accepted", func(c *ScanConfig) { c.XMin, c.XMax = 10, 0 }, ""},
		{"one x point", func(c *ScanConfig) { c.XPoints = 1 }, "x_nb_points"},
		{"one y point", func(c *ScanConfig) { c.YPoints = 1 }, "y_nb_points"},
		{"nan bound", func(c *ScanConfig) { c.YMax = math.NaN() }, "y_max"},
		{"inf bound", func(c *ScanConfig) { c.XMin = math.Inf(-1) }, "x_min"},
		{"grid too large", func(c *ScanConfig) { c.XPoints, c.YPoints = 30000, 30000 }, "y_nb_points"},
		{"grid count overflows", func(c *ScanConfig) { c.XPoints, c.YPoints = 2, 1 << 62 }, "y_nb_points"},
		{"grid at the ceiling", func(c *ScanConfig) { c.XPoints, c.YPoints = 2, MaxGridPoints / 2 }, ""},
		{"unknown pattern", func(c *ScanConfig) { c.Pattern = "spiral" }, "pattern"},
		{"unknown acquire mode", func(c *ScanConfig) { c.AcquireMode = "sideways" }, "acquire_mode"},
		{"negative dwell", func(c *ScanConfig) { c.StabilizationDelay = -time.Millisecond }, "stabilization_delay"},
		{"fly without speed", func(c *ScanConfig) { c.Mode = FlyScan; c.AcquisitionRateHz = 10; c.MaxSpatialGap = 1 }, "speed"},
		{"fly without gap", func(c *ScanConfig) { c.Mode = FlyScan; c.Speed = 5; c.AcquisitionRateHz = 10 }, "max_spatial_gap"},
		{"fly rate too low", func(c *ScanConfig) {
			c.Mode = FlyScan
			c.Speed, c.MaxSpatialGap, c.AcquisitionRateHz = 10, 0.5, 19
		}, "acquisition_rate_hz"},
		{"fly rate exactly enough", func(c *ScanConfig) {
			c.Mode = FlyScan
			c.Speed, c.MaxSpatialGap, c.AcquisitionRateHz = 10, 0.5, 20
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validScan()
			tt.mutate(&c)

			err := c.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrInvalidConfig)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestScanConfigCounts(t *testing.T) {
	c := validScan()
	assert.Equal(t, 9, c.TotalPoints())
	assert.Equal(t, 9, c.AcquiredPoints())

	c.AcquireMode = Unidirectional
	assert.Equal(t, 6, c.AcquiredPoints(), "row 1 of 3 is the return row")

	c.Pattern = Raster
	assert.Equal(t, 9, c.AcquiredPoints(), "raster rows all run forward")
}

func TestScanConfigCheckPoints(t *testing.T) {
	c := validScan()
	require.NoError(t, c.CheckPoints(9))

	err := c.CheckPoints(8)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "3 x 3 grid exceeds the limit of 8 points")

	c.XPoints, c.YPoints = 1<<40, 1<<40
	require.ErrorIs(t, c.CheckPoints(MaxGridPoints), ErrInvalidConfig)
}

func TestEstimatedDwell(t *testing.T) {
	c := validScan()
	c.StabilizationDelay = 100 * time.Millisecond
	c.Averaging = 2

	assert.Equal(t, 9*(100*time.Millisecond+2*10*time.Millisecond), c.EstimatedDwell(10*time.Millisecond))
}

func TestWorkerStateText(t *testing.T) {
	for _, s := range []WorkerState{StateIdle, StateMoving, StateScanning, StateStopped} {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var back WorkerState
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}

	assert.Equal(t, "WorkerState(9)", WorkerState(9).String())
	_, err := ParseWorkerState("flying")
	assert.Error(t, err)
}

func TestCommandValidate(t *testing.T) {
	assert.NoError(t, MoveTo(1, 2).Validate())
	assert.Error(t, MoveTo(math.NaN(), 0).Validate())
	assert.NoError(t, Home(AxisX).Validate())
	assert.Error(t, Home("z").Validate())
	assert.Error(t, Configure(MotionSettings{Speed: -1}).Validate())
	assert.Error(t, Command{Kind: "jog"}.Validate())
}

func TestCommandConstructors(t *testing.T) {
	stop := Stop()
	assert.True(t, stop.Priority)
	assert.NotEmpty(t, stop.ID)
	assert.NotEqual(t, stop.ID, Stop().ID)

	seg := Segment("scan-1", GridPoint{Index: 4})
	assert.True(t, seg.BatchMember)
	assert.Equal(t, "scan_segment(4)", seg.String())

	assert.True(t, KindReset.AllowedWhenStopped())
	assert.False(t, KindMoveTo.AllowedWhenStopped())
	assert.False(t, KindHome.AllowedWhenStopped())
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, ErrStopped, ErrRejected)

	hw := &HwError{Op: "move_to", Err: ErrTimeout}
	assert.ErrorIs(t, hw, ErrTimeout)
	assert.True(t, IsHwError(hw))
	assert.False(t, IsHwError(ErrRejected))

	se := &ScanError{ScanID: "s", Index: 3, Err: hw}
	assert.True(t, IsHwError(se))
	assert.Contains(t, se.Error(), "point 3")
}

func TestEventTypeClasses(t *testing.T) {
	assert.True(t, EventPointAcquired.IsScan())
	assert.False(t, EventPointAcquired.Terminal())
	assert.True(t, EventScanCancelled.Terminal())
	assert.False(t, EventHalted.IsScan())
}
