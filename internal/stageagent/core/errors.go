package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig rejects scan parameters before any hardware is touched.
	ErrInvalidConfig = errors.New("invalid scan configuration")

	// ErrRejected is returned by a submission the worker will not accept now,
	// most often because a batch holds the gate.
	ErrRejected = errors.New("submission rejected")

	// ErrStopped wraps ErrRejected for commands submitted while the worker is
	// halted. Reset clears it.
	ErrStopped = fmt.Errorf("%w: worker stopped, reset required", ErrRejected)

	// ErrClosed is returned once the worker loop has exited.
	ErrClosed = errors.New("motion worker closed")

	// ErrTimeout marks a hardware call that exceeded the command timeout.
	ErrTimeout = errors.New("hardware timeout")

	// ErrInvariant indicates a scheduling bug. It ends the worker that hit it.
	ErrInvariant = errors.New("internal invariant violation")

	// ErrScanCancelled is the outcome of a scan interrupted by Stop.
	ErrScanCancelled = errors.New("scan cancelled")
)

// ConfigError names the offending ScanConfig field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// HwError wraps a failure reported by a hardware adapter.
type HwError struct {
	Op  string
	Err error
}

func (e *HwError) Error() string {
	return fmt.Sprintf("hardware %s: %v", e.Op, e.Err)
}

func (e *HwError) Unwrap() error { return e.Err }

// IsHwError reports whether err carries a *HwError.
func IsHwError(err error) bool {
	var hw *HwError
	return errors.As(err, &hw)
}

// ScanError is the terminal error of a scan that failed on hardware.
type ScanError struct {
	ScanID string
	Index  int
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s failed at point %d: %v", e.ScanID, e.Index, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }
