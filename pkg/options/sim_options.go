package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SimOptions)(nil)

// SimOptions configures the simulated stage and ADC used when no controller
// is attached.
type SimOptions struct {
	// Speed in mm/s until a Configure command changes it.
	Speed         float64       `json:"speed" mapstructure:"speed"`
	HomeDuration  time.Duration `json:"home-duration" mapstructure:"home-duration"`
	SampleLatency time.Duration `json:"sample-latency" mapstructure:"sample-latency"`
	Channels      int           `json:"channels" mapstructure:"channels"`
	Noise         float64       `json:"noise" mapstructure:"noise"`
}

func NewSimOptions() *SimOptions {
	return &SimOptions{
		Speed:         20,
		HomeDuration:  500 * time.Millisecond,
		SampleLatency: 10 * time.Millisecond,
		Channels:      4,
		Noise:         0.01,
	}
}

func (o *SimOptions) Validate() []error {
	var errs []error
	if o.Speed <= 0 {
		errs = append(errs, fmt.Errorf("sim.speed must be positive, got %g", o.Speed))
	}
	if o.Channels < 1 {
		errs = append(errs, fmt.Errorf("sim.channels must be at least 1, got %d", o.Channels))
	}
	if o.HomeDuration < 0 || o.SampleLatency < 0 {
		errs = append(errs, fmt.Errorf("sim durations must not be negative"))
	}
	if o.Noise < 0 {
		errs = append(errs, fmt.Errorf("sim.noise must not be negative"))
	}
	return errs
}

func (o *SimOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.Speed, "sim.speed", o.Speed, "Simulated stage speed in mm/s.")
	fs.DurationVar(&o.HomeDuration, "sim.home-duration", o.HomeDuration, "Time the simulated homing sequence takes.")
	fs.DurationVar(&o.SampleLatency, "sim.sample-latency", o.SampleLatency, "Simulated ADC conversion time per sample.")
	fs.IntVar(&o.Channels, "sim.channels", o.Channels, "Number of simulated ADC channels.")
	fs.Float64Var(&o.Noise, "sim.noise", o.Noise, "Amplitude of the uniform noise added to simulated samples.")
}
