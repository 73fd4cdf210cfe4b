// Package fsm adapts error returning functions to looplab/fsm callbacks.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent stores the error of fn on the event, where fsm.Event picks it up.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Transition is WrapEvent for callbacks that only need the source and
// destination state names.
func Transition(fn func(ctx context.Context, src, dst string) error) fsm.Callback {
	return WrapEvent(func(ctx context.Context, event *fsm.Event) error {
		return fn(ctx, event.Src, event.Dst)
	})
}
