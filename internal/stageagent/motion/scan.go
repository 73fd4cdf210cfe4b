package motion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aefi-io/aefi/internal/stageagent/core"
)

// ScanPhase is the lifecycle of a ScanHandle as seen by callers.
type ScanPhase string

const (
	ScanPending   ScanPhase = "pending"
	ScanRunning   ScanPhase = "running"
	ScanCompleted ScanPhase = "completed"
	ScanCancelled ScanPhase = "cancelled"
	ScanFailed    ScanPhase = "failed"
)

// ScanHandle follows one submitted scan. It is returned by SubmitScan and
// settled by the worker exactly once.
type ScanHandle struct {
	id        string
	config    core.ScanConfig
	points    []core.GridPoint
	submitted time.Time

	started  atomic.Bool
	progress atomic.Int64

	once     sync.Once
	done     chan struct{}
	mu       sync.Mutex
	err      error
	finished time.Time
}

func newScanHandle(id string, cfg core.ScanConfig, points []core.GridPoint, now time.Time) *ScanHandle {
	return &ScanHandle{
		id:        id,
		config:    cfg,
		points:    points,
		submitted: now,
		done:      make(chan struct{}),
	}
}

func (h *ScanHandle) ID() string { return h.id }

// Config is the scan configuration with agent defaults applied.
func (h *ScanHandle) Config() core.ScanConfig { return h.config }

// Total is the number of grid points.
func (h *ScanHandle) Total() int { return len(h.points) }

// Trajectory returns a copy of the generated points.
func (h *ScanHandle) Trajectory() []core.GridPoint {
	out := make([]core.GridPoint, len(h.points))
	copy(out, h.points)
	return out
}

// Progress is the number of points completed so far.
func (h *ScanHandle) Progress() int { return int(h.progress.Load()) }

// Done is closed once the scan completed, failed or was cancelled.
func (h *ScanHandle) Done() <-chan struct{} { return h.done }

// Err is nil while running and after completion. Otherwise it is
// core.ErrScanCancelled, core.ErrClosed, core.ErrStopped or a *core.ScanError.
func (h *ScanHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the scan ends or ctx is done.
func (h *ScanHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Phase derives the lifecycle phase from the handle's state.
func (h *ScanHandle) Phase() ScanPhase {
	select {
	case <-h.done:
	default:
		if h.started.Load() {
			return ScanRunning
		}
		return ScanPending
	}

	err := h.Err()
	switch {
	case err == nil:
		return ScanCompleted
	case errors.Is(err, core.ErrScanCancelled), errors.Is(err, core.ErrClosed), errors.Is(err, core.ErrStopped):
		return ScanCancelled
	}
	return ScanFailed
}

// ScanStatus is a JSON friendly snapshot of a handle.
type ScanStatus struct {
	ID         string          `json:"id"`
	Phase      ScanPhase       `json:"phase"`
	Total      int             `json:"total"`
	Progress   int             `json:"progress"`
	Error      string          `json:"error,omitempty"`
	Config     core.ScanConfig `json:"config"`
	Submitted  time.Time       `json:"submitted"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func (h *ScanHandle) Status() ScanStatus {
	st := ScanStatus{
		ID:        h.id,
		Phase:     h.Phase(),
		Total:     h.Total(),
		Progress:  h.Progress(),
		Config:    h.config,
		Submitted: h.submitted,
	}

	h.mu.Lock()
	if h.err != nil {
		st.Error = h.err.Error()
	}
	if !h.finished.IsZero() {
		t := h.finished
		st.FinishedAt = &t
	}
	h.mu.Unlock()
	return st
}

func (h *ScanHandle) start() { h.started.Store(true) }

func (h *ScanHandle) advance(done int) { h.progress.Store(int64(done)) }

func (h *ScanHandle) finish(err error, now time.Time) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.finished = now
		h.mu.Unlock()
		close(h.done)
	})
}

// scanRegistry remembers recent handles for status queries. Finished
// handles beyond limit are forgotten oldest first; running ones are kept.
type scanRegistry struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]*ScanHandle
}

func newScanRegistry(limit int) *scanRegistry {
	if limit < 1 {
		limit = 1
	}
	return &scanRegistry{limit: limit, byID: make(map[string]*ScanHandle)}
}

func (r *scanRegistry) add(h *ScanHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[h.id] = h
	r.order = append(r.order, h.id)

	for len(r.order) > r.limit {
		evicted := false
		for i, id := range r.order {
			old := r.byID[id]
			select {
			case <-old.done:
			default:
				continue
			}
			delete(r.byID, id)
			r.order = append(r.order[:i], r.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

func (r *scanRegistry) get(id string) (*ScanHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	return h, ok
}

// list returns the remembered handles, oldest first.
func (r *scanRegistry) list() []*ScanHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ScanHandle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
