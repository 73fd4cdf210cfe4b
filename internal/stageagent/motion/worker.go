package motion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/aefi-io/aefi/internal/pkg/metrics"
	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/pkg/log"
)

// errPreempted ends a motion that a queued Stop cut short. It is not a
// hardware failure: the worker goes straight on to execute the Stop.
var errPreempted = errors.New("motion preempted by stop")

// Worker owns the hardware link. Run drains the priority channel first,
// then a waiting scan request, then the normal channel, and polls the
// position when everything is empty. No other goroutine calls the HAL.
type Worker struct {
	hal    core.MotionHAL
	acq    core.Acquirer
	sink   core.EventSink
	clock  clock.Clock
	logger log.Logger

	queues   *queues
	state    *stateMachine
	position positionBuffer

	pollInterval   atomic.Int64
	commandTimeout time.Duration
	settleDelay    time.Duration

	running atomic.Bool
	exited  atomic.Bool

	// Worker goroutine only.
	seq         uint64
	active      *scanRun
	pollFailing bool
}

// scanRun is the batch currently executing.
type scanRun struct {
	handle    *ScanHandle
	dwell     time.Duration
	averaging int
	done      int
}

func newWorker(hal core.MotionHAL, acq core.Acquirer, sink core.EventSink, cfg config) *Worker {
	w := &Worker{
		hal:            hal,
		acq:            acq,
		sink:           sink,
		clock:          cfg.clock,
		logger:         cfg.logger,
		queues:         newQueues(),
		commandTimeout: cfg.commandTimeout,
		settleDelay:    cfg.settleDelay,
	}
	w.pollInterval.Store(int64(cfg.pollInterval))
	w.state = newStateMachine(func(from, to core.WorkerState) {
		w.logger.Debug("Worker state changed", "from", from, "to", to)
	})
	return w
}

// Run executes commands until ctx is done. It returns nil on shutdown and
// an ErrInvariant error if the scheduling rules were broken; hardware
// failures never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	if w.exited.Load() {
		return core.ErrClosed
	}
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("motion worker already running")
	}
	defer w.shutdown()

	w.logger.Info("Motion worker started", "pollInterval", w.PollInterval(), "commandTimeout", w.commandTimeout)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if cmd, ok := w.queues.popPriority(); ok {
			w.executeStop(ctx, cmd)
			continue
		}

		if req, ok := w.queues.popScan(); ok {
			w.beginScan(req)
			continue
		}

		if cmd, ok := w.queues.popNormal(); ok {
			if err := w.execute(ctx, cmd); err != nil {
				w.logger.Error(err, "Motion worker aborted", "command", cmd.String())
				return err
			}
			continue
		}

		w.poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-w.queues.wake:
		case <-w.clock.After(w.PollInterval()):
		}
	}
}

// PollInterval is read on every idle iteration, so changes apply at once.
func (w *Worker) PollInterval() time.Duration {
	return time.Duration(w.pollInterval.Load())
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	return w.running.Load() && !w.exited.Load()
}

func (w *Worker) setPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval.Store(int64(d))
		signal(w.queues.wake)
	}
}

func (w *Worker) execute(ctx context.Context, cmd core.Command) error {
	if w.state.State() == core.StateStopped && !cmd.Kind.AllowedWhenStopped() && !cmd.BatchMember {
		w.refuse(cmd, "worker stopped, reset required")
		return nil
	}

	start := w.clock.Now()
	var err error

	switch {
	case cmd.BatchMember:
		return w.executeSegment(ctx, cmd)

	case cmd.Kind == core.KindStop:
		w.executeStop(ctx, cmd)
		return nil

	case cmd.Kind == core.KindMoveTo:
		err = w.runMotion(ctx, cmd, func(ctx context.Context) error {
			return w.moveTo(ctx, cmd.X, cmd.Y)
		})

	case cmd.Kind == core.KindHome:
		err = w.runMotion(ctx, cmd, func(ctx context.Context) error {
			return w.home(ctx, cmd.Axis)
		})

	case cmd.Kind == core.KindGetPosition:
		_, err = w.readPosition(ctx)

	case cmd.Kind == core.KindConfigure:
		err = w.hwCall(ctx, "configure", func(ctx context.Context) error {
			return w.hal.Configure(ctx, cmd.Settings)
		})

	case cmd.Kind == core.KindReset:
		w.reset(cmd)

	default:
		return fmt.Errorf("%w: unexpected command %s on the normal channel", core.ErrInvariant, cmd)
	}

	metrics.CommandDuration.WithLabelValues(string(cmd.Kind)).Observe(w.clock.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errPreempted) {
			metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), "preempted").Inc()
			w.logger.Info("Command preempted by stop", "command", cmd.String(), "id", cmd.ID)
			return nil
		}
		metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), "failed").Inc()
		w.logger.Error(err, "Command failed", "command", cmd.String(), "id", cmd.ID)
		w.emit(core.Event{Type: core.EventCommandFailed, CommandID: cmd.ID, Reason: err.Error()})
		return nil
	}

	metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), "ok").Inc()
	w.logger.Debug("Command executed", "command", cmd.String(), "id", cmd.ID)
	return nil
}

// runMotion wraps fn in the moving state. Failures return to idle.
func (w *Worker) runMotion(ctx context.Context, cmd core.Command, fn func(context.Context) error) error {
	if _, err := w.state.fire(EventMove); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", core.ErrInvariant, cmd, w.state.State(), err)
	}

	if err := fn(ctx); err != nil {
		if _, ferr := w.state.fire(EventFail); ferr != nil {
			w.logger.Error(ferr, "Failed to leave moving state")
		}
		return err
	}

	if _, err := w.state.fire(EventDone); err != nil {
		w.logger.Error(err, "Failed to leave moving state")
	}
	return nil
}

// executeStop halts the stage and settles whatever was running. It runs for
// every Stop, but only the first one after a non-stopped state emits.
func (w *Worker) executeStop(ctx context.Context, cmd core.Command) {
	if cmd.Kind != core.KindStop {
		w.logger.Warn("Non-stop command on the priority channel treated as stop", "command", cmd.String(), "id", cmd.ID)
	}

	start := w.clock.Now()
	if err := w.hwCall(ctx, "stop", w.hal.Stop); err != nil && ctx.Err() == nil {
		metrics.CommandsTotal.WithLabelValues(string(core.KindStop), "failed").Inc()
		w.logger.Error(err, "Stop failed on hardware, entering stopped anyway", "id", cmd.ID)
		w.emit(core.Event{Type: core.EventCommandFailed, CommandID: cmd.ID, Reason: err.Error()})
	} else {
		metrics.CommandsTotal.WithLabelValues(string(core.KindStop), "ok").Inc()
	}
	metrics.CommandDuration.WithLabelValues(string(core.KindStop)).Observe(w.clock.Since(start).Seconds())

	changed, err := w.state.fire(EventStop)
	if err != nil {
		w.logger.Error(err, "Stop transition failed")
	}

	purged := w.queues.purgeBatch()
	metrics.CommandsPurged.Add(float64(purged))

	if req := w.queues.dropPendingScan(); req != nil {
		w.logger.Info("Stop dropped a scan that had not started", "scan", req.handle.ID())
		req.handle.finish(core.ErrScanCancelled, w.clock.Now())
		metrics.ScansTotal.WithLabelValues("cancelled").Inc()
	}

	if run := w.active; run != nil {
		w.active = nil
		w.queues.endBatch()
		w.logger.Warn("Scan cancelled", "scan", run.handle.ID(), "done", run.done, "total", run.handle.Total(), "purged", purged)
		w.emit(core.Event{
			Type:      core.EventScanCancelled,
			ScanID:    run.handle.ID(),
			CommandID: cmd.ID,
			Total:     run.handle.Total(),
			Count:     run.done,
		})
		run.handle.finish(core.ErrScanCancelled, w.clock.Now())
		metrics.ScansTotal.WithLabelValues("cancelled").Inc()
		return
	}

	if !changed {
		w.logger.Debug("Stop while already stopped", "id", cmd.ID)
		return
	}

	w.logger.Warn("Stage halted", "id", cmd.ID)
	w.emit(core.Event{Type: core.EventHalted, CommandID: cmd.ID})
}

// beginScan opens the batch of req: gate locked, stale commands purged,
// segments queued.
func (w *Worker) beginScan(req *scanRequest) {
	h := req.handle

	if state := w.state.State(); state != core.StateIdle {
		w.queues.settlePendingPurge()
		reason := fmt.Sprintf("scan cannot start while %s", state)
		w.logger.Warn("Scan refused", "scan", h.ID(), "state", state)
		w.emit(core.Event{Type: core.EventCommandRefused, ScanID: h.ID(), Reason: reason})
		h.finish(core.ErrStopped, w.clock.Now())
		metrics.ScansTotal.WithLabelValues("refused").Inc()
		return
	}

	if _, err := w.state.fire(EventBeginScan); err != nil {
		w.queues.settlePendingPurge()
		w.logger.Error(err, "Scan transition failed", "scan", h.ID())
		w.emit(core.Event{Type: core.EventCommandRefused, ScanID: h.ID(), Reason: err.Error()})
		h.finish(fmt.Errorf("%w: %v", core.ErrInvariant, err), w.clock.Now())
		return
	}

	purged := w.queues.beginBatch(req.segments)
	if n := len(purged); n > 0 {
		metrics.CommandsPurged.Add(float64(n))
		w.logger.Warn("Purged queued commands before scan", "scan", h.ID(), "count", n)
		w.emit(core.Event{Type: core.EventCommandsPurged, ScanID: h.ID(), Count: n})
	}

	cfg := h.Config()
	run := &scanRun{handle: h, dwell: cfg.StabilizationDelay, averaging: cfg.Averaging}
	if cfg.Mode == core.FlyScan {
		run.dwell, run.averaging = 0, 1
	}
	if run.averaging < 1 {
		run.averaging = 1
	}
	w.active = run
	h.start()

	w.logger.Info("Scan started", "scan", h.ID(), "total", h.Total(), "mode", cfg.Mode, "pattern", cfg.Pattern)
	w.emit(core.Event{Type: core.EventScanStarted, ScanID: h.ID(), Total: h.Total()})
}

// executeSegment runs one batch member of the active scan.
func (w *Worker) executeSegment(ctx context.Context, cmd core.Command) error {
	run := w.active
	if run == nil || run.handle.ID() != cmd.ScanID {
		return fmt.Errorf("%w: segment %s of scan %q without an active batch", core.ErrInvariant, cmd, cmd.ScanID)
	}

	if cmd.Kind == core.KindConfigure {
		if err := w.hwCall(ctx, "configure", func(ctx context.Context) error {
			return w.hal.Configure(ctx, cmd.Settings)
		}); err != nil {
			w.failScan(ctx, run, -1, err)
		}
		return nil
	}

	p := cmd.Point
	start := w.clock.Now()

	if err := w.moveTo(ctx, p.X, p.Y); err != nil {
		if !errors.Is(err, errPreempted) {
			w.failScan(ctx, run, p.Index, err)
		}
		return nil
	}

	// A Stop that arrived during the move wins over the acquisition.
	if w.queues.hasPriority() {
		return nil
	}

	var sample *core.Sample
	if p.Acquire {
		if !w.dwell(ctx, run.dwell) {
			return nil
		}
		s, err := w.acquire(ctx, run.averaging)
		if err != nil {
			w.failScan(ctx, run, p.Index, err)
			return nil
		}
		sample = &s
	}

	metrics.CommandDuration.WithLabelValues(string(core.KindScanSegment)).Observe(w.clock.Since(start).Seconds())
	metrics.ScanPoints.Inc()

	run.done++
	run.handle.advance(run.done)
	w.emit(core.Event{Type: core.EventPointAcquired, ScanID: run.handle.ID(), Point: &p, Sample: sample})

	if run.done == run.handle.Total() {
		w.completeScan(run)
	}
	return nil
}

func (w *Worker) completeScan(run *scanRun) {
	w.active = nil
	w.queues.endBatch()

	if _, err := w.state.fire(EventScanDone); err != nil {
		w.logger.Error(err, "Scan completion transition failed", "scan", run.handle.ID())
	}

	w.logger.Info("Scan completed", "scan", run.handle.ID(), "total", run.done)
	w.emit(core.Event{Type: core.EventScanCompleted, ScanID: run.handle.ID(), Total: run.done})
	run.handle.finish(nil, w.clock.Now())
	metrics.ScansTotal.WithLabelValues("completed").Inc()
}

// failScan ends the active scan on a hardware error: the stage is stopped,
// the remaining segments are dropped and the gate opens again.
func (w *Worker) failScan(ctx context.Context, run *scanRun, index int, cause error) {
	if ctx.Err() != nil {
		// Shutdown interrupted the call and settles the handle itself.
		return
	}
	w.active = nil

	purged := w.queues.purgeBatch()
	metrics.CommandsPurged.Add(float64(purged))
	w.queues.endBatch()

	if err := w.hwCall(ctx, "stop", w.hal.Stop); err != nil {
		w.logger.Error(err, "Stop after scan failure failed")
	}

	if _, err := w.state.fire(EventFail); err != nil {
		w.logger.Error(err, "Scan failure transition failed", "scan", run.handle.ID())
	}

	w.logger.Error(cause, "Scan failed", "scan", run.handle.ID(), "index", index, "done", run.done)
	w.emit(core.Event{
		Type:   core.EventScanFailed,
		ScanID: run.handle.ID(),
		Total:  run.handle.Total(),
		Count:  run.done,
		Reason: cause.Error(),
	})
	run.handle.finish(&core.ScanError{ScanID: run.handle.ID(), Index: index, Err: cause}, w.clock.Now())
	metrics.ScansTotal.WithLabelValues("failed").Inc()
}

func (w *Worker) reset(cmd core.Command) {
	_, err := w.state.fire(EventReset)
	switch {
	case err == nil:
		w.logger.Info("Worker reset", "id", cmd.ID)
	case isInvalid(err):
		w.logger.Debug("Reset ignored", "state", w.state.State(), "id", cmd.ID)
	default:
		w.logger.Error(err, "Reset transition failed", "id", cmd.ID)
	}
}

func (w *Worker) refuse(cmd core.Command, reason string) {
	metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), "refused").Inc()
	w.logger.Warn("Command refused", "command", cmd.String(), "id", cmd.ID, "reason", reason)
	w.emit(core.Event{Type: core.EventCommandRefused, CommandID: cmd.ID, Reason: reason})
}

func (w *Worker) moveTo(ctx context.Context, x, y float64) error {
	if err := w.preemptibleCall(ctx, "move_to", func(ctx context.Context) error {
		return w.hal.MoveTo(ctx, x, y)
	}); err != nil {
		return err
	}
	w.settle(ctx)
	return nil
}

// home stops any residual motion, then runs the homing sequence.
func (w *Worker) home(ctx context.Context, axis core.Axis) error {
	if err := w.hwCall(ctx, "stop", w.hal.Stop); err != nil {
		return err
	}
	if err := w.preemptibleCall(ctx, "home", func(ctx context.Context) error {
		return w.hal.Home(ctx, axis)
	}); err != nil {
		return err
	}
	w.settle(ctx)
	return nil
}

// preemptibleCall is hwCall for motions: a Stop queued while fn runs
// cancels the context fn sees. An interrupted call returns errPreempted
// with the position read back wherever the stage came to rest.
func (w *Worker) preemptibleCall(ctx context.Context, op string, fn func(context.Context) error) error {
	pctx, release := w.preemptible(ctx)
	err := w.hwCall(pctx, op, fn)
	preempted := errors.Is(context.Cause(pctx), errPreempted)
	release()

	if err == nil || !preempted || ctx.Err() != nil {
		return err
	}
	if _, rerr := w.readPosition(ctx); rerr != nil && ctx.Err() == nil {
		w.logger.Warn("Position read back after preempted move failed", "error", rerr)
	}
	return errPreempted
}

// preemptible derives a context that is cancelled with errPreempted once a
// Stop sits in the priority queue. A stale prio token left by an already
// executed Stop is ignored.
func (w *Worker) preemptible(ctx context.Context) (context.Context, func()) {
	pctx, cancel := context.WithCancelCause(ctx)
	if w.queues.hasPriority() {
		cancel(errPreempted)
		return pctx, func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-done:
				return
			case <-pctx.Done():
				return
			case <-w.queues.prio:
				if w.queues.hasPriority() {
					cancel(errPreempted)
					return
				}
			}
		}
	}()

	return pctx, func() {
		close(done)
		<-exited
		cancel(nil)
	}
}

// settle waits for the controller to update its status, then publishes the
// new position. A failed read back does not fail the move.
func (w *Worker) settle(ctx context.Context) {
	w.dwell(ctx, w.settleDelay)
	if _, err := w.readPosition(ctx); err != nil && ctx.Err() == nil {
		w.logger.Warn("Position read back after move failed", "error", err)
	}
}

func (w *Worker) readPosition(ctx context.Context) (core.Position, error) {
	var pos core.Position
	err := w.hwCall(ctx, "read_position", func(ctx context.Context) error {
		var err error
		pos, err = w.hal.ReadPosition(ctx)
		return err
	})
	if err != nil {
		return core.Position{}, err
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = w.clock.Now()
	}
	w.position.Store(pos)
	return pos, nil
}

// poll is the background position read. Failures are logged once per
// outage rather than once per interval.
func (w *Worker) poll(ctx context.Context) {
	pos, err := w.readPosition(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.PositionPolls.WithLabelValues("error").Inc()
		if !w.pollFailing {
			w.logger.Warn("Position poll failing", "error", err)
		}
		w.pollFailing = true
		return
	}

	metrics.PositionPolls.WithLabelValues("ok").Inc()
	if w.pollFailing {
		w.logger.Info("Position poll recovered")
		w.pollFailing = false
	}
	w.logger.Debug("Position polled", "x", pos.X, "y", pos.Y)
}

// acquire averages n samples channel by channel.
func (w *Worker) acquire(ctx context.Context, n int) (core.Sample, error) {
	var sum core.Sample
	for i := 0; i < n; i++ {
		var s core.Sample
		err := w.hwCall(ctx, "acquire", func(ctx context.Context) error {
			var err error
			s, err = w.acq.AcquireSample(ctx)
			return err
		})
		if err != nil {
			return core.Sample{}, err
		}

		if i == 0 {
			sum.Values = make([]float64, len(s.Values))
		} else if len(s.Values) != len(sum.Values) {
			return core.Sample{}, &core.HwError{Op: "acquire", Err: fmt.Errorf("channel count changed from %d to %d", len(sum.Values), len(s.Values))}
		}
		for c, v := range s.Values {
			sum.Values[c] += v
		}
		sum.Timestamp = s.Timestamp
	}

	for c := range sum.Values {
		sum.Values[c] /= float64(n)
	}
	if sum.Timestamp.IsZero() {
		sum.Timestamp = w.clock.Now()
	}
	return sum, nil
}

// dwell waits d and reports whether it ran to the end. A queued Stop or
// shutdown cuts it short.
func (w *Worker) dwell(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !w.queues.hasPriority()
	}

	timer := w.clock.NewTimer(d)
	defer timer.Stop()

	for {
		if w.queues.hasPriority() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C():
			return !w.queues.hasPriority()
		case <-w.queues.prio:
		}
	}
}

// hwCall runs fn under the command timeout and normalizes its error to a
// *core.HwError. Cancellation of ctx itself is returned as is.
func (w *Worker) hwCall(ctx context.Context, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, w.commandTimeout)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return &core.HwError{Op: op, Err: core.ErrTimeout}
	}
	if core.IsHwError(err) {
		return err
	}
	return &core.HwError{Op: op, Err: err}
}

// emit stamps e and hands it to the sink. Worker goroutine only.
func (w *Worker) emit(e core.Event) {
	w.seq++
	e.Seq = w.seq
	e.Time = w.clock.Now()
	w.sink.Publish(e)
}

// shutdown settles everything still in flight once Run returns.
func (w *Worker) shutdown() {
	w.exited.Store(true)
	pending, scan := w.queues.close()

	ctx, cancel := context.WithTimeout(context.Background(), w.commandTimeout)
	defer cancel()
	if err := w.hal.Stop(ctx); err != nil {
		w.logger.Error(err, "Stop on shutdown failed")
	}

	now := w.clock.Now()
	if scan != nil {
		scan.handle.finish(core.ErrClosed, now)
	}
	if run := w.active; run != nil {
		w.active = nil
		w.emit(core.Event{
			Type:   core.EventScanCancelled,
			ScanID: run.handle.ID(),
			Total:  run.handle.Total(),
			Count:  run.done,
			Reason: "worker shut down",
		})
		run.handle.finish(core.ErrClosed, now)
		metrics.ScansTotal.WithLabelValues("cancelled").Inc()
	}
	if n := len(pending); n > 0 {
		w.logger.Warn("Discarded queued commands on shutdown", "count", n)
		w.emit(core.Event{Type: core.EventCommandsPurged, Count: n, Reason: "worker shut down"})
	}

	w.logger.Info("Motion worker stopped")
}
