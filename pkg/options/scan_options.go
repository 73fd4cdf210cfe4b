package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ScanOptions)(nil)

// maxGridPoints mirrors the scheduler's hard ceiling; options does not
// import the agent packages.
const maxGridPoints = 1 << 24

// ScanOptions holds defaults applied to scan requests that leave them unset.
type ScanOptions struct {
	StabilizationDelay time.Duration `json:"stabilization-delay" mapstructure:"stabilization-delay"`
	Averaging          int           `json:"averaging" mapstructure:"averaging"`

	// History is how many finished scan handles stay queryable.
	History int `json:"history" mapstructure:"history"`

	// MaxPoints caps XPoints*YPoints of a single scan.
	MaxPoints int `json:"max-points" mapstructure:"max-points"`
}

func NewScanOptions() *ScanOptions {
	return &ScanOptions{
		StabilizationDelay: 50 * time.Millisecond,
		Averaging:          1,
		History:            32,
		MaxPoints:          1_000_000,
	}
}

func (o *ScanOptions) Validate() []error {
	var errs []error
	if o.StabilizationDelay < 0 {
		errs = append(errs, fmt.Errorf("scan.stabilization-delay must not be negative"))
	}
	if o.Averaging < 1 {
		errs = append(errs, fmt.Errorf("scan.averaging must be at least 1, got %d", o.Averaging))
	}
	if o.History < 1 {
		errs = append(errs, fmt.Errorf("scan.history must be at least 1, got %d", o.History))
	}
	if o.MaxPoints < 4 || o.MaxPoints > maxGridPoints {
		errs = append(errs, fmt.Errorf("scan.max-points must be between 4 and %d, got %d", maxGridPoints, o.MaxPoints))
	}
	return errs
}

func (o *ScanOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.StabilizationDelay, "scan.stabilization-delay", o.StabilizationDelay, "Default dwell before acquiring at each step-scan point.")
	fs.IntVar(&o.Averaging, "scan.averaging", o.Averaging, "Default number of samples averaged per step-scan point.")
	fs.IntVar(&o.History, "scan.history", o.History, "Number of finished scans kept for status queries.")
	fs.IntVar(&o.MaxPoints, "scan.max-points", o.MaxPoints, "Largest grid, in points, a single scan may request.")
}
