package bus

import (
	"github.com/aefi-io/aefi/internal/pkg/mqtt/paths"
	"github.com/aefi-io/aefi/internal/stageagent/core"
)

// segments maps every event type to the topic segment it is published on.
var segments = make(map[core.EventType]string)

func segmentFor(t core.EventType) (string, bool) {
	s, ok := segments[t]
	return s, ok
}

func init() {
	for _, t := range []core.EventType{
		core.EventScanStarted,
		core.EventPointAcquired,
		core.EventScanCompleted,
		core.EventScanFailed,
		core.EventScanCancelled,
	} {
		segments[t] = paths.ScanEvents
	}

	for _, t := range []core.EventType{
		core.EventHalted,
		core.EventCommandFailed,
		core.EventCommandRefused,
		core.EventCommandsPurged,
	} {
		segments[t] = paths.MotionEvents
	}
}
