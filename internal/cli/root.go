// Package cli implements the fleetexec command line front-end. It plays the
// role the desktop shell otherwise would: building batch requests, streaming
// result and progress events to the operator, and exporting outcomes.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fleetexec/fleetexec/internal/audit"
	"github.com/fleetexec/fleetexec/internal/config"
	"github.com/fleetexec/fleetexec/internal/engine"
	"github.com/fleetexec/fleetexec/internal/logging"
	"github.com/fleetexec/fleetexec/internal/validate"

	"github.com/spf13/cobra"
)

// app carries the state shared by all subcommands.
type app struct {
	cfg      *config.Config
	recorder audit.Recorder
	store    *audit.Store
	engine   *engine.Engine
}

// Execute runs the CLI.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	a := &app{}
	var (
		configFile string
		logLevel   string
		logFormat  string
		noAudit    bool
	)

	cmd := &cobra.Command{
		Use:           "fleetexec",
		Short:         "Run shell commands across a fleet of hosts over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			if configFile != "" {
				loader.SetConfigFile(configFile)
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if logFormat != "" {
				cfg.Logging.Format = logFormat
			}
			logging.Init(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})
			a.cfg = cfg

			a.recorder = audit.Nop{}
			if cfg.Audit.Enabled && !noAudit {
				if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
					return fmt.Errorf("create audit directory: %w", err)
				}
				store, err := audit.Open(cfg.Audit.Path, audit.Options{
					MinLevel:  cfg.Audit.MinLevel,
					Retention: time24h(cfg.Audit.RetentionDays),
				})
				if err != nil {
					return fmt.Errorf("open audit log: %w", err)
				}
				a.store = store
				a.recorder = store
			}

			a.engine = engine.New(a.recorder, validate.NewDenyList())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.store != nil {
				a.store.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $HOME/.config/fleetexec/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging format (json, console)")
	cmd.PersistentFlags().BoolVar(&noAudit, "no-audit", false, "disable the audit log for this invocation")

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newExecCmd(a))
	cmd.AddCommand(newAuditCmd(a))
	return cmd
}
