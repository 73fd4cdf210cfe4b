package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MotionOptions)(nil)

// MotionOptions configures the motion worker that owns the stage link.
type MotionOptions struct {
	// AxisID names the stage in topics, logs and archives.
	AxisID string `json:"axis-id" mapstructure:"axis-id"`

	// PollInterval is the idle sleep between background position reads.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// CommandTimeout bounds every hardware call.
	CommandTimeout time.Duration `json:"command-timeout" mapstructure:"command-timeout"`

	// SettleDelay is waited after each move before the position is read back;
	// the controller's status register lags the motor.
	SettleDelay time.Duration `json:"settle-delay" mapstructure:"settle-delay"`

	// DeviceLock is a lock file held for the agent's lifetime so only one
	// process drives the link. Empty disables locking.
	DeviceLock string `json:"device-lock" mapstructure:"device-lock"`
}

func NewMotionOptions() *MotionOptions {
	return &MotionOptions{
		AxisID:         "stage-0",
		PollInterval:   100 * time.Millisecond,
		CommandTimeout: 30 * time.Second,
		SettleDelay:    250 * time.Millisecond,
		DeviceLock:     "/tmp/aefi-stage-0.lock",
	}
}

func (o *MotionOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error

	if o.AxisID == "" {
		errs = append(errs, fmt.Errorf("motion.axis-id must not be empty"))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("motion.poll-interval must be positive, got %s", o.PollInterval))
	}
	if o.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("motion.command-timeout must be positive, got %s", o.CommandTimeout))
	}
	if o.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("motion.settle-delay must not be negative"))
	}

	return errs
}

func (o *MotionOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.AxisID, "motion.axis-id", o.AxisID, "Name of the stage, used in topics and archives.")
	fs.DurationVar(&o.PollInterval, "motion.poll-interval", o.PollInterval, "Idle interval between background position reads. Hot-reloadable.")
	fs.DurationVar(&o.CommandTimeout, "motion.command-timeout", o.CommandTimeout, "Upper bound for any single hardware call.")
	fs.DurationVar(&o.SettleDelay, "motion.settle-delay", o.SettleDelay, "Wait after each move before reading the position back.")
	fs.StringVar(&o.DeviceLock, "motion.device-lock", o.DeviceLock, "Lock file guaranteeing one agent per stage link. Empty disables it.")
}
