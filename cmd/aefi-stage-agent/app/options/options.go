package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/aefi-io/aefi/internal/stageagent"
	"github.com/aefi-io/aefi/pkg/app"
	"github.com/aefi-io/aefi/pkg/log"
	"github.com/aefi-io/aefi/pkg/options"
)

type AgentOptions struct {
	MotionOptions *options.MotionOptions `json:"motion" mapstructure:"motion"`
	ScanOptions   *options.ScanOptions   `json:"scan" mapstructure:"scan"`
	SimOptions    *options.SimOptions    `json:"sim" mapstructure:"sim"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	S3Options     *options.S3Options     `json:"s3" mapstructure:"s3"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		MotionOptions: options.NewMotionOptions(),
		ScanOptions:   options.NewScanOptions(),
		SimOptions:    options.NewSimOptions(),
		HttpOptions:   options.NewHttpOptions(),
		MqttOptions:   options.NewMqttOptions(),
		S3Options:     options.NewS3Options(),
		Log:           log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MotionOptions.AddFlags(fss.FlagSet("motion"))
	o.ScanOptions.AddFlags(fss.FlagSet("scan"))
	o.SimOptions.AddFlags(fss.FlagSet("simulator"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MotionOptions.Validate()...)
	errs = append(errs, o.ScanOptions.Validate()...)
	errs = append(errs, o.SimOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*stageagent.Config, error) {
	return &stageagent.Config{
		MotionOptions: o.MotionOptions,
		ScanOptions:   o.ScanOptions,
		SimOptions:    o.SimOptions,
		HttpOptions:   o.HttpOptions,
		MqttOptions:   o.MqttOptions,
		S3Options:     o.S3Options,
	}, nil
}
