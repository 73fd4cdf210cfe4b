// Package app builds the cobra command every aefi binary runs behind: named
// flag sets, one config file, AEFI_* environment overrides and an optional
// reload hook fired when the config file changes.
package app

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"
	"k8s.io/component-base/version/verflag"

	"github.com/aefi-io/aefi/pkg/log"
)

// EnvPrefix prefixes the environment variables that override flags, so
// --motion.poll-interval becomes AEFI_MOTION_POLL_INTERVAL.
const EnvPrefix = "AEFI"

// RunFunc is the body of the command, run once options are loaded and valid.
type RunFunc func() error

// ReloadFunc is called after the config file changed and the options were
// reloaded and validated again.
type ReloadFunc func() error

// NamedFlagSetOptions is implemented by the options of every binary.
type NamedFlagSetOptions interface {
	Flags() cliflag.NamedFlagSets
	Complete() error
	Validate() error
}

type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	reloadFunc  ReloadFunc
	noConfig    bool
	args        cobra.PositionalArgs

	configFile string
	viper      *viper.Viper
	cmd        *cobra.Command

	// Guards options while a reload rewrites them.
	mu sync.Mutex
}

type Option func(*App)

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithReloadFunc watches the config file and calls fn on every change.
func WithReloadFunc(fn ReloadFunc) Option {
	return func(a *App) { a.reloadFunc = fn }
}

// WithNoConfig drops the --config flag.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{name: name, shortDesc: shortDesc}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command is the underlying cobra command.
func (a *App) Command() *cobra.Command { return a.cmd }

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", a.name, err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
		RunE:          a.runCommand,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}

	global := namedFlagSets.FlagSet("global")
	if !a.noConfig {
		global.StringVarP(&a.configFile, "config", "c", "", "Read configuration from this file (yaml, json or toml).")
	}
	verflag.AddFlags(global)
	globalflag.AddGlobalFlags(global, cmd.Name())

	fs := cmd.Flags()
	for _, name := range namedFlagSets.Order {
		fs.AddFlagSet(namedFlagSets.FlagSets[name])
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	verflag.PrintAndExitIfRequested()

	if !a.noConfig {
		if err := a.loadConfig(cmd.Flags()); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if a.reloadFunc != nil && a.configFile != "" {
		a.watchConfig()
	}

	if a.runFunc == nil {
		return nil
	}
	return a.runFunc()
}

// loadConfig layers flags over environment over the config file over flag
// defaults and decodes the result into the options.
func (a *App) loadConfig(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.configFile, err)
		}
	}

	a.viper = v
	if a.options == nil {
		return nil
	}
	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (a *App) watchConfig() {
	a.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		log.Info("Config file changed, reloading", "file", e.Name)
		if err := a.reload(); err != nil {
			log.Error(err, "Config reload rejected", "file", e.Name)
		}
	})
	a.viper.WatchConfig()
}

func (a *App) reload() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.options != nil {
		if err := a.viper.Unmarshal(a.options); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}
	return a.reloadFunc()
}
