// Package motion serializes every access to one XY stage. A single worker
// goroutine owns the hardware; callers talk to it through a Scheduler.
package motion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aefi-io/aefi/internal/pkg/metrics"
	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/trajectory"
	"github.com/aefi-io/aefi/pkg/log"
)

// Scheduler is the submission API of one stage. Submissions are safe from
// any goroutine and may happen before Run; they queue until the worker
// starts.
type Scheduler struct {
	worker *Worker
	scans  *scanRegistry
	cfg    config
	logger log.Logger
}

// Snapshot is a consistent-enough view for status endpoints. Fields are
// read one after another, not under a single lock.
type Snapshot struct {
	Position      core.Position    `json:"position"`
	State         core.WorkerState `json:"state"`
	Gate          BatchGateState   `json:"gate"`
	PriorityDepth int              `json:"priority_depth"`
	NormalDepth   int              `json:"normal_depth"`
	ActiveScan    string           `json:"active_scan,omitempty"`
	Running       bool             `json:"running"`
	PollInterval  time.Duration    `json:"poll_interval"`
}

// New builds a Scheduler around hal and acq. Events go to sink in order.
func New(hal core.MotionHAL, acq core.Acquirer, sink core.EventSink, opts ...Option) *Scheduler {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithName("motion")
	}
	if sink == nil {
		sink = core.DiscardSink
	}

	return &Scheduler{
		worker: newWorker(hal, acq, sink, cfg),
		scans:  newScanRegistry(cfg.history),
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// Run runs the worker loop until ctx is done. Afterwards every submission
// fails with core.ErrClosed.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.worker.Run(ctx)
}

// Start matches the server manager's runnable contract.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.Run(ctx)
}

// SubmitPriority queues a Stop ahead of everything else. It never blocks
// and never fails; any command sent here is executed as a Stop.
func (s *Scheduler) SubmitPriority(cmd core.Command) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.SubmittedAt.IsZero() {
		cmd.SubmittedAt = s.cfg.clock.Now()
	}
	cmd.Priority = true

	if err := s.worker.queues.pushPriority(cmd); err != nil {
		s.logger.Debug("Priority submission after shutdown", "command", cmd.String(), "id", cmd.ID)
	}
}

// Stop is SubmitPriority(core.Stop()).
func (s *Scheduler) Stop() {
	s.SubmitPriority(core.Stop())
}

// SubmitNormal queues cmd on the normal channel. It returns an error
// wrapping core.ErrRejected while a batch holds the gate, while the worker
// is stopped (core.ErrStopped) or when cmd is malformed, and core.ErrClosed
// after shutdown. A Stop is rerouted to the priority channel.
func (s *Scheduler) SubmitNormal(cmd core.Command) error {
	if cmd.Kind == core.KindStop {
		s.SubmitPriority(cmd)
		return nil
	}

	err := s.submitNormal(cmd)
	if err != nil {
		metrics.SubmissionsRejected.WithLabelValues(rejectReason(err)).Inc()
		s.logger.Debug("Submission rejected", "command", cmd.String(), "error", err)
	}
	return err
}

func (s *Scheduler) submitNormal(cmd core.Command) error {
	if s.worker.exited.Load() {
		return core.ErrClosed
	}
	if cmd.BatchMember || cmd.Kind == core.KindScanSegment {
		return errForeignSeg
	}
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrRejected, err)
	}
	if s.worker.state.State() == core.StateStopped && !cmd.Kind.AllowedWhenStopped() {
		return core.ErrStopped
	}

	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.SubmittedAt.IsZero() {
		cmd.SubmittedAt = s.cfg.clock.Now()
	}
	cmd.Priority = false
	return s.worker.queues.pushNormal(cmd)
}

// SubmitScan validates cfg, generates its trajectory and hands the batch to
// the worker, which starts it once the current command finishes. Errors wrap
// core.ErrInvalidConfig for bad parameters and core.ErrRejected when a scan
// is already running or waiting, or the worker is stopped.
func (s *Scheduler) SubmitScan(cfg core.ScanConfig) (*ScanHandle, error) {
	h, err := s.submitScan(cfg)
	if err != nil {
		metrics.SubmissionsRejected.WithLabelValues(rejectReason(err)).Inc()
		s.logger.Info("Scan rejected", "error", err)
		return nil, err
	}
	s.logger.Info("Scan accepted", "scan", h.ID(), "total", h.Total())
	return h, nil
}

func (s *Scheduler) submitScan(cfg core.ScanConfig) (*ScanHandle, error) {
	if s.worker.exited.Load() {
		return nil, core.ErrClosed
	}

	cfg = s.applyDefaults(cfg)
	if err := cfg.CheckPoints(s.cfg.maxPoints); err != nil {
		return nil, err
	}
	points, err := trajectory.Generate(cfg)
	if err != nil {
		return nil, err
	}

	switch s.worker.state.State() {
	case core.StateStopped:
		return nil, core.ErrStopped
	case core.StateScanning:
		return nil, errGateLocked
	}

	h := newScanHandle(uuid.NewString(), cfg, points, s.cfg.clock.Now())

	segments := make([]core.Command, 0, len(points)+1)
	if cfg.Mode == core.FlyScan {
		segments = append(segments, core.BatchConfigure(h.ID(), core.MotionSettings{Speed: cfg.Speed}))
	}
	for _, p := range points {
		segments = append(segments, core.Segment(h.ID(), p))
	}

	if err := s.worker.queues.pushScan(&scanRequest{handle: h, segments: segments}); err != nil {
		return nil, err
	}
	s.scans.add(h)
	return h, nil
}

func (s *Scheduler) applyDefaults(cfg core.ScanConfig) core.ScanConfig {
	cfg = cfg.WithDefaults()
	if cfg.Mode == core.StepScan {
		if cfg.StabilizationDelay == 0 {
			cfg.StabilizationDelay = s.cfg.stabilization
		}
		if cfg.Averaging == 0 {
			cfg.Averaging = s.cfg.averaging
		}
	}
	return cfg
}

// CurrentPosition is the last published position.
func (s *Scheduler) CurrentPosition() core.Position {
	return s.worker.position.Load()
}

// CurrentState is the worker state at the time of the call.
func (s *Scheduler) CurrentState() core.WorkerState {
	return s.worker.state.State()
}

// GateState is a snapshot of the batch gate.
func (s *Scheduler) GateState() BatchGateState {
	return s.worker.queues.gateState()
}

// Snapshot is used by status endpoints and telemetry.
func (s *Scheduler) Snapshot() Snapshot {
	p, n := s.worker.queues.depths()
	snap := Snapshot{
		Position:      s.CurrentPosition(),
		State:         s.CurrentState(),
		Gate:          s.GateState(),
		PriorityDepth: p,
		NormalDepth:   n,
		Running:       s.Running(),
		PollInterval:  s.worker.PollInterval(),
	}
	for _, h := range s.scans.list() {
		if h.Phase() == ScanRunning {
			snap.ActiveScan = h.ID()
		}
	}
	return snap
}

// Scan looks up a recent scan by id.
func (s *Scheduler) Scan(id string) (*ScanHandle, bool) {
	return s.scans.get(id)
}

// Scans lists the remembered scans, oldest first.
func (s *Scheduler) Scans() []*ScanHandle {
	return s.scans.list()
}

// Running reports whether the worker loop is active.
func (s *Scheduler) Running() bool {
	return s.worker.Running()
}

// SetPollInterval changes the idle poll period of a running worker.
func (s *Scheduler) SetPollInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("poll interval must be positive")
	}
	s.worker.setPollInterval(d)
	s.logger.Info("Poll interval updated", "pollInterval", d)
	return nil
}
