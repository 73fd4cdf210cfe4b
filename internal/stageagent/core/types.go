package core

import (
	"fmt"
	"math"
	"time"
)

// Position is the last known stage location in millimetres.
type Position struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
}

// Axis selects which axis a Home command drives. AxisAll homes both.
type Axis string

const (
	AxisAll Axis = ""
	AxisX   Axis = "x"
	AxisY   Axis = "y"
)

func (a Axis) Valid() bool {
	switch a {
	case AxisAll, AxisX, AxisY:
		return true
	}
	return false
}

// MotionSettings are applied by Configure. Zero fields are left unchanged.
type MotionSettings struct {
	Speed float64 `json:"speed,omitempty"`
}

// Sample is one acquisition frame, one value per channel.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// GridPoint is one stop of a scan trajectory. Index is the 0-based emission
// order and is what progress reporting keys on.
type GridPoint struct {
	Index   int     `json:"index"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Acquire bool    `json:"acquire"`
}

// WorkerState is what the motion worker is doing.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateMoving
	StateScanning
	StateStopped
)

var stateNames = [...]string{"idle", "moving", "scanning", "stopped"}

func (s WorkerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
	return stateNames[s]
}

// ParseWorkerState is the inverse of String.
func ParseWorkerState(name string) (WorkerState, error) {
	for i, n := range stateNames {
		if n == name {
			return WorkerState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown worker state %q", name)
}

func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *WorkerState) UnmarshalText(b []byte) error {
	v, err := ParseWorkerState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Pattern is the row traversal order of a scan.
type Pattern string

const (
	// Serpentine reverses every odd row so the path never jumps back.
	Serpentine Pattern = "serpentine"
	// Raster walks every row in the same direction.
	Raster Pattern = "raster"
)

// AcquireMode selects on which rows samples are taken.
type AcquireMode string

const (
	Bidirectional  AcquireMode = "bidirectional"
	Unidirectional AcquireMode = "unidirectional"
)

// ScanMode selects how each point is visited.
type ScanMode string

const (
	// StepScan stops, settles and averages at every point.
	StepScan ScanMode = "step"
	// FlyScan runs at a fixed speed and takes a single sample per point.
	FlyScan ScanMode = "fly"
)

// MaxGridPoints is the hard ceiling on XPoints*YPoints. Agents apply a lower,
// configurable limit through CheckPoints.
const MaxGridPoints = 1 << 24

// ScanConfig describes a 2D scan. Bounds may be inverted; the generated
// sequence then runs from min to max, i.e. descending.
type ScanConfig struct {
	XMin    float64 `json:"x_min"`
	XMax    float64 `json:"x_max"`
	YMin    float64 `json:"y_min"`
	YMax    float64 `json:"y_max"`
	XPoints int     `json:"x_nb_points"`
	YPoints int     `json:"y_nb_points"`

	Pattern     Pattern     `json:"pattern,omitempty"`
	AcquireMode AcquireMode `json:"acquire_mode,omitempty"`
	Mode        ScanMode    `json:"mode,omitempty"`

	// StepScan. Zero values are replaced by the agent defaults.
	StabilizationDelay time.Duration `json:"stabilization_delay,omitempty"`
	Averaging          int           `json:"averaging,omitempty"`

	// FlyScan.
	Speed             float64 `json:"speed,omitempty"`
	AcquisitionRateHz float64 `json:"acquisition_rate_hz,omitempty"`
	MaxSpatialGap     float64 `json:"max_spatial_gap,omitempty"`
}

// WithDefaults fills unset enum fields: Serpentine, Bidirectional, StepScan.
func (c ScanConfig) WithDefaults() ScanConfig {
	if c.Pattern == "" {
		c.Pattern = Serpentine
	}
	if c.AcquireMode == "" {
		c.AcquireMode = Bidirectional
	}
	if c.Mode == "" {
		c.Mode = StepScan
	}
	return c
}

// Validate checks c after WithDefaults. The first problem is returned as a
// *ConfigError.
func (c ScanConfig) Validate() error {
	if c.XPoints < 2 {
		return &ConfigError{Field: "x_nb_points", Reason: fmt.Sprintf("need at least 2 points, got %d", c.XPoints)}
	}
	if c.YPoints < 2 {
		return &ConfigError{Field: "y_nb_points", Reason: fmt.Sprintf("need at least 2 points, got %d", c.YPoints)}
	}
	if err := c.CheckPoints(MaxGridPoints); err != nil {
		return err
	}

	for name, v := range map[string]float64{"x_min": c.XMin, "x_max": c.XMax, "y_min": c.YMin, "y_max": c.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigError{Field: name, Reason: "must be finite"}
		}
	}

	switch c.Pattern {
	case Serpentine, Raster:
	default:
		return &ConfigError{Field: "pattern", Reason: fmt.Sprintf("unknown pattern %q", c.Pattern)}
	}

	switch c.AcquireMode {
	case Bidirectional, Unidirectional:
	default:
		return &ConfigError{Field: "acquire_mode", Reason: fmt.Sprintf("unknown acquire mode %q", c.AcquireMode)}
	}

	switch c.Mode {
	case StepScan:
		if c.StabilizationDelay < 0 {
			return &ConfigError{Field: "stabilization_delay", Reason: "must not be negative"}
		}
		if c.Averaging < 0 {
			return &ConfigError{Field: "averaging", Reason: "must not be negative"}
		}
	case FlyScan:
		if !(c.Speed > 0) {
			return &ConfigError{Field: "speed", Reason: "fly scans need a positive speed"}
		}
		if !(c.MaxSpatialGap > 0) {
			return &ConfigError{Field: "max_spatial_gap", Reason: "must be positive"}
		}
		if !(c.AcquisitionRateHz > 0) {
			return &ConfigError{Field: "acquisition_rate_hz", Reason: "must be positive"}
		}
		if required := c.RequiredRateHz(); c.AcquisitionRateHz < required {
			return &ConfigError{
				Field:  "acquisition_rate_hz",
				Reason: fmt.Sprintf("%.3g Hz cannot keep a %.3g mm gap at %.3g mm/s, need %.3g Hz", c.AcquisitionRateHz, c.MaxSpatialGap, c.Speed, required),
			}
		}
	default:
		return &ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown scan mode %q", c.Mode)}
	}

	return nil
}

// CheckPoints rejects grids holding more than limit points. The product is
// never formed, so huge counts cannot overflow.
func (c ScanConfig) CheckPoints(limit int) error {
	if c.XPoints <= 0 || c.YPoints <= 0 {
		return nil
	}
	if c.XPoints > limit/c.YPoints {
		return &ConfigError{
			Field:  "y_nb_points",
			Reason: fmt.Sprintf("%d x %d grid exceeds the limit of %d points", c.XPoints, c.YPoints, limit),
		}
	}
	return nil
}

// RequiredRateHz is the minimum acquisition rate of a fly scan.
func (c ScanConfig) RequiredRateHz() float64 {
	if c.MaxSpatialGap <= 0 {
		return math.Inf(1)
	}
	return c.Speed / c.MaxSpatialGap
}

// TotalPoints is the number of grid points the trajectory holds.
func (c ScanConfig) TotalPoints() int {
	return c.XPoints * c.YPoints
}

// AcquiredPoints is the number of points that take a sample.
func (c ScanConfig) AcquiredPoints() int {
	if c.Pattern == Serpentine && c.AcquireMode == Unidirectional {
		return (c.XPoints - c.XPoints/2) * c.YPoints
	}
	return c.TotalPoints()
}

// EstimatedDwell is the time a step scan spends standing still, given the
// duration of one sample. Travel time is not included.
func (c ScanConfig) EstimatedDwell(sampleTime time.Duration) time.Duration {
	if c.Mode == FlyScan {
		return time.Duration(c.AcquiredPoints()) * sampleTime
	}
	avg := c.Averaging
	if avg < 1 {
		avg = 1
	}
	per := c.StabilizationDelay + time.Duration(avg)*sampleTime
	return time.Duration(c.AcquiredPoints()) * per
}
