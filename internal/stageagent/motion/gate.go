package motion

import (
	"errors"
	"fmt"

	"github.com/aefi-io/aefi/internal/stageagent/core"
)

var (
	errGateLocked  = fmt.Errorf("%w: batch in progress", core.ErrRejected)
	errScanPending = fmt.Errorf("%w: another scan is waiting to start", core.ErrRejected)
	errForeignSeg  = fmt.Errorf("%w: batch segments are issued by the gate only", core.ErrRejected)
)

// BatchGateState is a snapshot of the gate on the normal channel.
//
// Locked is true between the start of a batch and its last segment (or the
// Stop or failure that ends it early). PendingPurge is true while a scan
// request waits for the worker; its purge of stale normal commands has not
// run yet.
type BatchGateState struct {
	Locked       bool `json:"locked"`
	PendingPurge bool `json:"pending_purge"`
}

// The methods below are called by the worker only.

// beginBatch locks the gate, drops every queued command that is not part of
// a batch and appends segments in trajectory order, all in one critical
// section. The dropped commands are returned for reporting.
func (q *queues) beginBatch(segments []core.Command) (purged []core.Command) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.gate.Locked = true

	kept := q.normal[:0]
	for _, c := range q.normal {
		if c.BatchMember {
			kept = append(kept, c)
		} else {
			purged = append(purged, c)
		}
	}
	for i := len(kept); i < len(q.normal); i++ {
		q.normal[i] = core.Command{}
	}
	q.normal = append(kept, segments...)

	q.gate.PendingPurge = false
	q.reportLocked()
	return purged
}

// endBatch unlocks the gate.
func (q *queues) endBatch() {
	q.mu.Lock()
	q.gate.Locked = false
	q.mu.Unlock()
}

// purgeBatch drops the remaining segments of an interrupted batch and
// reports how many there were.
func (q *queues) purgeBatch() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.normal[:0]
	n := 0
	for _, c := range q.normal {
		if c.BatchMember {
			n++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(q.normal); i++ {
		q.normal[i] = core.Command{}
	}
	q.normal = kept
	q.reportLocked()
	return n
}

// dropPendingScan takes a waiting scan request away before it began.
func (q *queues) dropPendingScan() *scanRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	req := q.scan
	q.scan = nil
	q.gate.PendingPurge = false
	return req
}

// settlePendingPurge clears PendingPurge for a request that was popped but
// never began.
func (q *queues) settlePendingPurge() {
	q.mu.Lock()
	q.gate.PendingPurge = q.scan != nil
	q.mu.Unlock()
}

func (q *queues) gateState() BatchGateState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gate
}

// rejectReason maps a submission error to the metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrClosed):
		return "closed"
	case errors.Is(err, core.ErrStopped):
		return "stopped"
	case errors.Is(err, errGateLocked):
		return "gate_locked"
	case errors.Is(err, errScanPending):
		return "busy"
	case errors.Is(err, errForeignSeg):
		return "foreign_segment"
	case errors.Is(err, core.ErrInvalidConfig):
		return "invalid_config"
	}
	return "malformed"
}
