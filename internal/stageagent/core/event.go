package core

import "time"

type EventType string

const (
	EventScanStarted   EventType = "scan.started"
	EventPointAcquired EventType = "scan.point_acquired"
	EventScanCompleted EventType = "scan.completed"
	EventScanFailed    EventType = "scan.failed"
	EventScanCancelled EventType = "scan.cancelled"

	EventHalted         EventType = "motion.halted"
	EventCommandFailed  EventType = "motion.command_failed"
	EventCommandRefused EventType = "motion.command_refused"
	EventCommandsPurged EventType = "motion.commands_purged"
)

// IsScan reports whether t belongs to a scan's event stream.
func (t EventType) IsScan() bool {
	switch t {
	case EventScanStarted, EventPointAcquired, EventScanCompleted, EventScanFailed, EventScanCancelled:
		return true
	}
	return false
}

// Terminal reports whether t ends a scan.
func (t EventType) Terminal() bool {
	switch t {
	case EventScanCompleted, EventScanFailed, EventScanCancelled:
		return true
	}
	return false
}

// Event is emitted by the motion worker in order. Seq increases by one per
// event so consumers can deduplicate redeliveries.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	ScanID    string `json:"scan_id,omitempty"`
	CommandID string `json:"command_id,omitempty"`

	// PointAcquired. Sample is nil for points that do not acquire.
	Point  *GridPoint `json:"point,omitempty"`
	Sample *Sample    `json:"sample,omitempty"`

	// ScanStarted and ScanCompleted carry the trajectory length.
	Total int `json:"total,omitempty"`

	// Count of commands dropped by a purge, or points done when a scan ended early.
	Count int `json:"count,omitempty"`

	// Reason for failures and refusals.
	Reason string `json:"reason,omitempty"`
}
