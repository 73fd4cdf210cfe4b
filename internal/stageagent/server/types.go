package server

import (
	"errors"
	"time"

	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
)

// CommandRequest is the body of POST /v1/commands.
type CommandRequest struct {
	Kind  string   `json:"kind"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Axis  string   `json:"axis,omitempty"`
	Speed float64  `json:"speed,omitempty"`
}

// ToCommand validates r and builds the command it names.
func (r CommandRequest) ToCommand() (core.Command, error) {
	kind, err := core.ParseCommandKind(r.Kind)
	if err != nil {
		return core.Command{}, err
	}

	var cmd core.Command
	switch kind {
	case core.KindMoveTo:
		if r.X == nil || r.Y == nil {
			return core.Command{}, errors.New("move_to needs x and y")
		}
		cmd = core.MoveTo(*r.X, *r.Y)
	case core.KindHome:
		axis := core.Axis(r.Axis)
		if axis == "all" {
			axis = core.AxisAll
		}
		cmd = core.Home(axis)
	case core.KindStop:
		cmd = core.Stop()
	case core.KindGetPosition:
		cmd = core.GetPosition()
	case core.KindReset:
		cmd = core.Reset()
	case core.KindConfigure:
		cmd = core.Configure(core.MotionSettings{Speed: r.Speed})
	default:
		return core.Command{}, errors.New("scan segments are created by POST /v1/scans")
	}

	if err := cmd.Validate(); err != nil {
		return core.Command{}, err
	}
	return cmd, nil
}

// CommandResponse acknowledges a queued command.
type CommandResponse struct {
	ID   string           `json:"id"`
	Kind core.CommandKind `json:"kind"`
}

// ScanRequest is the body of POST /v1/scans. Durations are milliseconds.
type ScanRequest struct {
	XMin    float64 `json:"x_min"`
	XMax    float64 `json:"x_max"`
	YMin    float64 `json:"y_min"`
	YMax    float64 `json:"y_max"`
	XPoints int     `json:"x_nb_points"`
	YPoints int     `json:"y_nb_points"`

	Pattern     core.Pattern     `json:"pattern,omitempty"`
	AcquireMode core.AcquireMode `json:"acquire_mode,omitempty"`
	Mode        core.ScanMode    `json:"mode,omitempty"`

	StabilizationDelayMs float64 `json:"stabilization_delay_ms,omitempty"`
	Averaging            int     `json:"averaging,omitempty"`

	Speed             float64 `json:"speed,omitempty"`
	AcquisitionRateHz float64 `json:"acquisition_rate_hz,omitempty"`
	MaxSpatialGap     float64 `json:"max_spatial_gap,omitempty"`
}

func (r ScanRequest) ToConfig() core.ScanConfig {
	return core.ScanConfig{
		XMin:               r.XMin,
		XMax:               r.XMax,
		YMin:               r.YMin,
		YMax:               r.YMax,
		XPoints:            r.XPoints,
		YPoints:            r.YPoints,
		Pattern:            r.Pattern,
		AcquireMode:        r.AcquireMode,
		Mode:               r.Mode,
		StabilizationDelay: time.Duration(r.StabilizationDelayMs * float64(time.Millisecond)),
		Averaging:          r.Averaging,
		Speed:              r.Speed,
		AcquisitionRateHz:  r.AcquisitionRateHz,
		MaxSpatialGap:      r.MaxSpatialGap,
	}
}

// StateResponse is GET /v1/state.
type StateResponse struct {
	State          core.WorkerState      `json:"state"`
	Gate           motion.BatchGateState `json:"gate"`
	PriorityDepth  int                   `json:"priority_depth"`
	NormalDepth    int                   `json:"normal_depth"`
	ActiveScan     string                `json:"active_scan,omitempty"`
	Running        bool                  `json:"running"`
	PollIntervalMs int64                 `json:"poll_interval_ms"`
}

func newStateResponse(s motion.Snapshot) StateResponse {
	return StateResponse{
		State:          s.State,
		Gate:           s.Gate,
		PriorityDepth:  s.PriorityDepth,
		NormalDepth:    s.NormalDepth,
		ActiveScan:     s.ActiveScan,
		Running:        s.Running,
		PollIntervalMs: s.PollInterval.Milliseconds(),
	}
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
