package core

import "context"

// MotionHAL is the port to the stage controller. Calls are synchronous and
// must return once ctx is done. The worker is the only caller.
type MotionHAL interface {
	MoveTo(ctx context.Context, x, y float64) error
	Home(ctx context.Context, axis Axis) error
	Stop(ctx context.Context) error
	ReadPosition(ctx context.Context) (Position, error)
	Configure(ctx context.Context, s MotionSettings) error
}

// Acquirer takes one sample at the current stage position.
type Acquirer interface {
	AcquireSample(ctx context.Context) (Sample, error)
}

// EventSink receives the worker's events in emission order. Publish is
// called from the worker goroutine and must not block.
type EventSink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(e Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// DiscardSink drops every event.
var DiscardSink EventSink = SinkFunc(func(Event) {})
