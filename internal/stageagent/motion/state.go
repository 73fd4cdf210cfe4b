package motion

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/looplab/fsm"

	"github.com/aefi-io/aefi/internal/pkg/metrics"
	fsmutil "github.com/aefi-io/aefi/internal/pkg/util/fsm"
	"github.com/aefi-io/aefi/internal/stageagent/core"
)

const (
	// EventMove starts a non-batch MoveTo or Home.
	EventMove = "move"
	// EventDone ends a move.
	EventDone = "done"
	// EventFail ends a move (back to idle) or a scan (into stopped) on a
	// hardware error.
	EventFail = "fail"
	// EventBeginScan opens a batch.
	EventBeginScan = "begin_scan"
	// EventScanDone closes a batch after its last point.
	EventScanDone = "scan_done"
	// EventStop is accepted from every state, including stopped itself.
	EventStop = "stop"
	// EventReset is the only way out of stopped.
	EventReset = "reset"
)

var (
	idle     = core.StateIdle.String()
	moving   = core.StateMoving.String()
	scanning = core.StateScanning.String()
	stopped  = core.StateStopped.String()
)

// stateMachine tracks the worker state. Transitions happen on the worker
// goroutine; current mirrors the state for lock-free readers.
type stateMachine struct {
	*fsm.FSM

	current atomic.Int32
	onEnter func(from, to core.WorkerState)
}

func newStateMachine(onEnter func(from, to core.WorkerState)) *stateMachine {
	s := &stateMachine{onEnter: onEnter}

	events := fsm.Events{
		{Name: EventMove, Src: []string{idle}, Dst: moving},
		{Name: EventDone, Src: []string{moving}, Dst: idle},
		{Name: EventFail, Src: []string{moving}, Dst: idle},
		{Name: EventFail, Src: []string{scanning}, Dst: stopped},
		{Name: EventBeginScan, Src: []string{idle}, Dst: scanning},
		{Name: EventScanDone, Src: []string{scanning}, Dst: idle},
		{Name: EventStop, Src: []string{idle, moving, scanning, stopped}, Dst: stopped},
		{Name: EventReset, Src: []string{stopped}, Dst: idle},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.Transition(s.actionEnterState),
	}

	s.FSM = fsm.NewFSM(idle, events, callbacks)
	s.current.Store(int32(core.StateIdle))
	metrics.WorkerState.Set(float64(core.StateIdle))
	return s
}

func (s *stateMachine) actionEnterState(_ context.Context, src, dst string) error {
	from, err := core.ParseWorkerState(src)
	if err != nil {
		return err
	}
	to, err := core.ParseWorkerState(dst)
	if err != nil {
		return err
	}

	s.current.Store(int32(to))
	metrics.WorkerState.Set(float64(to))
	if s.onEnter != nil {
		s.onEnter(from, to)
	}
	return nil
}

// State is the last entered state. Safe from any goroutine.
func (s *stateMachine) State() core.WorkerState {
	return core.WorkerState(s.current.Load())
}

// fire runs event and reports whether the state changed. A self-transition
// (Stop while stopped) is not an error. Events that are illegal from the
// current state come back as *fsm.InvalidEventError-wrapping errors.
func (s *stateMachine) fire(event string) (bool, error) {
	// Background: transitions must complete even while the worker shuts down.
	err := s.Event(context.Background(), event)
	if err == nil {
		return true, nil
	}

	var noop fsm.NoTransitionError
	if errors.As(err, &noop) && noop.Err == nil {
		return false, nil
	}
	return false, err
}

// isInvalid reports whether err means the event is not legal from the
// current state.
func isInvalid(err error) bool {
	var invalid fsm.InvalidEventError
	return errors.As(err, &invalid)
}
