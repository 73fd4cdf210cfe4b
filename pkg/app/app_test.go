package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type demoOptions struct {
	Demo struct {
		Name   string        `mapstructure:"name"`
		Period time.Duration `mapstructure:"period"`
	} `mapstructure:"demo"`

	completed bool
}

func newDemoOptions() *demoOptions {
	o := &demoOptions{}
	o.Demo.Name = "default"
	o.Demo.Period = time.Second
	return o
}

func (o *demoOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("demo")
	fs.StringVar(&o.Demo.Name, "demo.name", o.Demo.Name, "Name.")
	fs.DurationVar(&o.Demo.Period, "demo.period", o.Demo.Period, "Period.")
	return fss
}

func (o *demoOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *demoOptions) Validate() error {
	if o.Demo.Period <= 0 {
		return errors.New("demo.period must be positive")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, opts *demoOptions, args ...string) error {
	t.Helper()
	ran := false
	a := NewApp("aefi-demo", "demo",
		WithOptions(opts),
		WithDefaultValidArgs(),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)
	cmd := a.Command()
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		assert.True(t, ran)
	}
	return err
}

func TestDefaultsWithoutConfig(t *testing.T) {
	opts := newDemoOptions()
	require.NoError(t, execute(t, opts))
	assert.Equal(t, "default", opts.Demo.Name)
	assert.Equal(t, time.Second, opts.Demo.Period)
	assert.True(t, opts.completed)
}

func TestConfigFileThenFlagOverride(t *testing.T) {
	path := writeConfig(t, "demo:\n  name: from-file\n  period: 250ms\n")

	opts := newDemoOptions()
	require.NoError(t, execute(t, opts, "--config", path))
	assert.Equal(t, "from-file", opts.Demo.Name)
	assert.Equal(t, 250*time.Millisecond, opts.Demo.Period)

	opts = newDemoOptions()
	require.NoError(t, execute(t, opts, "-c", path, "--demo.name", "from-flag"))
	assert.Equal(t, "from-flag", opts.Demo.Name)
	assert.Equal(t, 250*time.Millisecond, opts.Demo.Period)
}

func TestEnvironmentOverridesConfig(t *testing.T) {
	path := writeConfig(t, "demo:\n  name: from-file\n")
	t.Setenv("AEFI_DEMO_NAME", "from-env")

	opts := newDemoOptions()
	require.NoError(t, execute(t, opts, "--config", path))
	assert.Equal(t, "from-env", opts.Demo.Name)
}

func TestValidationAndArgs(t *testing.T) {
	require.Error(t, execute(t, newDemoOptions(), "--demo.period", "0s"))
	require.Error(t, execute(t, newDemoOptions(), "extra"))
	require.Error(t, execute(t, newDemoOptions(), "--config", filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestReloadRevalidates(t *testing.T) {
	opts := newDemoOptions()
	reloads := 0
	a := NewApp("aefi-demo", "demo", WithOptions(opts), WithReloadFunc(func() error {
		reloads++
		return nil
	}))
	a.configFile = writeConfig(t, "demo:\n  period: 2s\n")
	require.NoError(t, a.loadConfig(a.Command().Flags()))
	assert.Equal(t, 2*time.Second, opts.Demo.Period)

	// Options are decoded again from the viper state on every reload.
	a.viper.Set("demo.period", "3s")
	require.NoError(t, a.reload())
	assert.Equal(t, 3*time.Second, opts.Demo.Period)
	assert.Equal(t, 1, reloads)

	a.viper.Set("demo.period", "-1s")
	require.Error(t, a.reload())
	assert.Equal(t, 1, reloads)
}
