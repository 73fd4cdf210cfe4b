package motion

import (
	"sync"

	"github.com/aefi-io/aefi/internal/pkg/metrics"
	"github.com/aefi-io/aefi/internal/stageagent/core"
)

// scanRequest carries a generated trajectory from SubmitScan to the worker.
type scanRequest struct {
	handle   *ScanHandle
	segments []core.Command
}

// queues is the priority/normal channel pair together with the batch gate
// guarding the normal channel. Both live under one mutex so that a gate
// check and the enqueue it guards cannot be split by a concurrent begin.
//
// Producers are any goroutine; the consumer is the worker alone.
type queues struct {
	mu       sync.Mutex
	priority []core.Command
	normal   []core.Command
	scan     *scanRequest
	gate     BatchGateState
	closed   bool

	// wake is signalled on every push, prio on priority pushes only. Both
	// hold at most one token.
	wake chan struct{}
	prio chan struct{}
}

func newQueues() *queues {
	return &queues{
		wake: make(chan struct{}, 1),
		prio: make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// pushPriority never blocks and never fails for backpressure.
func (q *queues) pushPriority(cmd core.Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrClosed
	}
	q.priority = append(q.priority, cmd)
	q.reportLocked()
	q.mu.Unlock()

	signal(q.prio)
	signal(q.wake)
	return nil
}

// pushNormal enqueues cmd unless the gate is locked and cmd is foreign to
// the batch.
func (q *queues) pushNormal(cmd core.Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrClosed
	}
	if q.gate.Locked && !cmd.BatchMember {
		q.mu.Unlock()
		return errGateLocked
	}
	q.normal = append(q.normal, cmd)
	q.reportLocked()
	q.mu.Unlock()

	signal(q.wake)
	return nil
}

// pushScan parks a scan request for the worker. Only one may wait at a time
// and none while a batch runs.
func (q *queues) pushScan(req *scanRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.closed:
		return core.ErrClosed
	case q.gate.Locked:
		return errGateLocked
	case q.scan != nil:
		return errScanPending
	}

	q.scan = req
	q.gate.PendingPurge = true
	signal(q.wake)
	return nil
}

func (q *queues) popPriority() (core.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.priority) == 0 {
		return core.Command{}, false
	}
	cmd := q.priority[0]
	q.priority[0] = core.Command{}
	q.priority = q.priority[1:]
	q.reportLocked()
	return cmd, true
}

// popScan hands over the waiting scan request. PendingPurge stays set until
// beginBatch or dropPendingScan settles it.
func (q *queues) popScan() (*scanRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req := q.scan
	q.scan = nil
	return req, req != nil
}

func (q *queues) popNormal() (core.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.normal) == 0 {
		return core.Command{}, false
	}
	cmd := q.normal[0]
	q.normal[0] = core.Command{}
	q.normal = q.normal[1:]
	q.reportLocked()
	return cmd, true
}

func (q *queues) hasPriority() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority) > 0
}

func (q *queues) depths() (priority, normal int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority), len(q.normal)
}

// close refuses further pushes and returns whatever was still queued. Batch
// members are excluded from the returned commands since their scan is
// settled separately.
func (q *queues) close() (pending []core.Command, scan *scanRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	pending = append(pending, q.priority...)
	for _, c := range q.normal {
		if !c.BatchMember {
			pending = append(pending, c)
		}
	}
	scan = q.scan

	q.priority, q.normal, q.scan = nil, nil, nil
	q.gate = BatchGateState{}
	q.reportLocked()
	return pending, scan
}

func (q *queues) reportLocked() {
	metrics.QueueDepth.WithLabelValues("priority").Set(float64(len(q.priority)))
	metrics.QueueDepth.WithLabelValues("normal").Set(float64(len(q.normal)))
}
