package core

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// CommandKind identifies what a Command asks the worker to do.
type CommandKind string

const (
	KindMoveTo      CommandKind = "move_to"
	KindHome        CommandKind = "home"
	KindStop        CommandKind = "stop"
	KindGetPosition CommandKind = "get_position"
	KindConfigure   CommandKind = "configure"
	KindScanSegment CommandKind = "scan_segment"

	// KindReset leaves the Stopped state.
	KindReset CommandKind = "reset"
)

// ParseCommandKind accepts the wire names used by the HTTP API.
func ParseCommandKind(s string) (CommandKind, error) {
	switch k := CommandKind(s); k {
	case KindMoveTo, KindHome, KindStop, KindGetPosition, KindConfigure, KindScanSegment, KindReset:
		return k, nil
	}
	return "", fmt.Errorf("unknown command kind %q", s)
}

// AllowedWhenStopped reports whether a command of this kind may run while
// the worker is halted. Anything that moves the stage needs a Reset first.
func (k CommandKind) AllowedWhenStopped() bool {
	switch k {
	case KindReset, KindGetPosition, KindConfigure, KindStop:
		return true
	}
	return false
}

// Command is a value handed to the worker. It is copied into the queue and
// never modified afterwards.
type Command struct {
	ID   string      `json:"id"`
	Kind CommandKind `json:"kind"`

	// MoveTo target.
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// Home axis.
	Axis Axis `json:"axis,omitempty"`

	// Configure payload.
	Settings MotionSettings `json:"settings,omitempty"`

	// Batch segment fields, set only by the batch gate.
	ScanID      string    `json:"scan_id,omitempty"`
	Point       GridPoint `json:"point,omitempty"`
	BatchMember bool      `json:"batch_member,omitempty"`

	Priority    bool      `json:"priority,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func newCommand(kind CommandKind) Command {
	return Command{ID: uuid.NewString(), Kind: kind, SubmittedAt: time.Now()}
}

func MoveTo(x, y float64) Command {
	c := newCommand(KindMoveTo)
	c.X, c.Y = x, y
	return c
}

func Home(axis Axis) Command {
	c := newCommand(KindHome)
	c.Axis = axis
	return c
}

func Stop() Command {
	c := newCommand(KindStop)
	c.Priority = true
	return c
}

func GetPosition() Command { return newCommand(KindGetPosition) }

func Reset() Command { return newCommand(KindReset) }

func Configure(s MotionSettings) Command {
	c := newCommand(KindConfigure)
	c.Settings = s
	return c
}

// Segment builds the batch member that visits p as part of scan scanID.
func Segment(scanID string, p GridPoint) Command {
	c := newCommand(KindScanSegment)
	c.ScanID = scanID
	c.Point = p
	c.BatchMember = true
	return c
}

// BatchConfigure is a Configure that runs inside a batch, e.g. the speed
// change that opens a fly scan.
func BatchConfigure(scanID string, s MotionSettings) Command {
	c := Configure(s)
	c.ScanID = scanID
	c.BatchMember = true
	return c
}

// Validate checks the fields the kind relies on.
func (c Command) Validate() error {
	switch c.Kind {
	case KindMoveTo:
		if !finite(c.X) || !finite(c.Y) {
			return fmt.Errorf("move_to target (%g, %g) is not finite", c.X, c.Y)
		}
	case KindHome:
		if !c.Axis.Valid() {
			return fmt.Errorf("home: unknown axis %q", c.Axis)
		}
	case KindConfigure:
		if c.Settings.Speed < 0 || !finite(c.Settings.Speed) {
			return fmt.Errorf("configure: speed %g out of range", c.Settings.Speed)
		}
	case KindStop, KindGetPosition, KindReset, KindScanSegment:
	default:
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
	return nil
}

func (c Command) String() string {
	switch c.Kind {
	case KindMoveTo:
		return fmt.Sprintf("%s(%g, %g)", c.Kind, c.X, c.Y)
	case KindHome:
		if c.Axis == AxisAll {
			return "home(all)"
		}
		return fmt.Sprintf("home(%s)", c.Axis)
	case KindScanSegment:
		return fmt.Sprintf("%s(%d)", c.Kind, c.Point.Index)
	}
	return string(c.Kind)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
