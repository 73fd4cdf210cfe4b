package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aefi-io/aefi/internal/stageagent/core"
)

var errBoom = errors.New("boom")

// fakeStage moves instantly and records every call.
type fakeStage struct {
	mu       sync.Mutex
	pos      core.Position
	moves    []core.Position
	stops    int
	homes    []core.Axis
	settings []core.MotionSettings

	failMoveAt int // 1-based MoveTo call to fail, 0 never
	failRead   bool

	// blockMoveAt makes that MoveTo call close moveStarted and hang. It
	// halts halfway when ctx is cancelled, or, with holdMove set, ignores
	// ctx and completes once holdMove is closed.
	blockMoveAt int
	moveStarted chan struct{}
	holdMove    chan struct{}
}

func (f *fakeStage) MoveTo(ctx context.Context, x, y float64) error {
	f.mu.Lock()
	f.moves = append(f.moves, core.Position{X: x, Y: y})
	n := len(f.moves)
	if f.failMoveAt > 0 && n == f.failMoveAt {
		f.mu.Unlock()
		return errBoom
	}
	if f.blockMoveAt > 0 && n == f.blockMoveAt {
		from := f.pos
		f.mu.Unlock()
		close(f.moveStarted)

		if f.holdMove != nil {
			<-f.holdMove
		} else {
			<-ctx.Done()
			f.mu.Lock()
			f.pos.X, f.pos.Y = (from.X+x)/2, (from.Y+y)/2
			f.mu.Unlock()
			return ctx.Err()
		}
		f.mu.Lock()
	}
	f.pos.X, f.pos.Y = x, y
	f.mu.Unlock()
	return nil
}

// blockMove arms blockMoveAt for the n-th MoveTo.
func (f *fakeStage) blockMove(n int) {
	f.blockMoveAt = n
	f.moveStarted = make(chan struct{})
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func (f *fakeStage) Home(ctx context.Context, axis core.Axis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homes = append(f.homes, axis)
	if axis == core.AxisAll || axis == core.AxisX {
		f.pos.X = 0
	}
	if axis == core.AxisAll || axis == core.AxisY {
		f.pos.Y = 0
	}
	return nil
}

func (f *fakeStage) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeStage) ReadPosition(ctx context.Context) (core.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead {
		return core.Position{}, errBoom
	}
	return f.pos, nil
}

func (f *fakeStage) Configure(ctx context.Context, s core.MotionSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, s)
	return nil
}

func (f *fakeStage) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeStage) moveLog() []core.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Position(nil), f.moves...)
}

// fakeADC returns the same frame every time.
type fakeADC struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (a *fakeADC) AcquireSample(ctx context.Context) (core.Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail {
		return core.Sample{}, errBoom
	}
	return core.Sample{Values: []float64{1, 2}}, nil
}

// recorder keeps every event. hook runs on the worker goroutine before the
// event is stored.
type recorder struct {
	mu     sync.Mutex
	events []core.Event
	hook   func(core.Event)
}

func (r *recorder) Publish(e core.Event) {
	if r.hook != nil {
		r.hook(e)
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

func (r *recorder) ofType(t core.EventType) []core.Event {
	var out []core.Event
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) types() []core.EventType {
	var out []core.EventType
	for _, e := range r.all() {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	s     *Scheduler
	stage *fakeStage
	adc   *fakeADC
	rec   *recorder
	done  chan error
	stop  context.CancelFunc
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{stage: &fakeStage{}, adc: &fakeADC{}, rec: &recorder{}}
	opts = append([]Option{
		WithPollInterval(5 * time.Millisecond),
		WithSettleDelay(0),
		WithCommandTimeout(time.Second),
		WithScanDefaults(0, 1),
	}, opts...)
	h.s = New(h.stage, h.adc, h.rec, opts...)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.s.Run(ctx) }()
	t.Cleanup(func() { h.shutdown(t) })
}

func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	if h.stop == nil {
		return
	}
	h.stop()
	h.stop = nil
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func (h *harness) waitState(t *testing.T, want core.WorkerState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.s.CurrentState() == want }, 2*time.Second, time.Millisecond,
		"state %s, want %s", h.s.CurrentState(), want)
}

func grid3x3() core.ScanConfig {
	return core.ScanConfig{XMin: 0, XMax: 2, YMin: 0, YMax: 2, XPoints: 3, YPoints: 3}
}
