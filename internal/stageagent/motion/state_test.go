package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aefi-io/aefi/internal/stageagent/core"
)

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		want   core.WorkerState
	}{
		{"move and done", []string{EventMove, EventDone}, core.StateIdle},
		{"failed move returns to idle", []string{EventMove, EventFail}, core.StateIdle},
		{"scan completes", []string{EventBeginScan, EventScanDone}, core.StateIdle},
		{"failed scan stops", []string{EventBeginScan, EventFail}, core.StateStopped},
		{"stop while moving", []string{EventMove, EventStop}, core.StateStopped},
		{"stop while scanning", []string{EventBeginScan, EventStop}, core.StateStopped},
		{"reset after stop", []string{EventStop, EventReset}, core.StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStateMachine(nil)
			for _, e := range tt.events {
				changed, err := s.fire(e)
				require.NoError(t, err, e)
				assert.True(t, changed, e)
			}
			assert.Equal(t, tt.want, s.State())
			assert.Equal(t, tt.want.String(), s.Current())
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	var entered []core.WorkerState
	s := newStateMachine(func(_, to core.WorkerState) { entered = append(entered, to) })

	changed, err := s.fire(EventStop)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.fire(EventStop)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, []core.WorkerState{core.StateStopped}, entered)
}

func TestIllegalEvents(t *testing.T) {
	s := newStateMachine(nil)

	_, err := s.fire(EventReset)
	require.Error(t, err)
	assert.True(t, isInvalid(err))

	_, err = s.fire(EventDone)
	assert.True(t, isInvalid(err))

	_, err = s.fire(EventStop)
	require.NoError(t, err)
	for _, e := range []string{EventMove, EventBeginScan, EventScanDone} {
		_, err = s.fire(e)
		assert.True(t, isInvalid(err), e)
	}
	assert.Equal(t, core.StateStopped, s.State())
}
