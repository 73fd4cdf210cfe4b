package paths

// Topic segments of the stage agent. Every topic has the form
// {root}/{segment}/{axisID}.

// Events, QoS 1, not retained.
const (
	// ScanEvents carries the event stream of every scan.
	// Payload: core.Event with type scan.*
	// Pattern: {root}/events/scan/{axisID}
	ScanEvents = "events/scan"

	// MotionEvents carries halts, refusals, failures and purges.
	// Pattern: {root}/events/motion/{axisID}
	MotionEvents = "events/motion"
)

// Telemetry.
const (
	// Position is the periodic position report.
	// Payload: { "x": 1.0, "y": 2.0, "timestamp": "..." }
	// Pattern: {root}/telemetry/position/{axisID}
	Position = "telemetry/position"

	// State is the worker state, retained so late subscribers see it.
	// Payload: { "state": "idle", "gate": {...} }
	// Pattern: {root}/telemetry/state/{axisID}
	State = "telemetry/state"

	// Online is true while the agent is connected. The broker publishes the
	// false value from the Will message.
	// Payload: { "online": true, "timestamp": "..." }
	// Pattern: {root}/online/{axisID}
	Online = "online"
)
