package cli

import (
	"fmt"
	"strings"

	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/spf13/cobra"
)

func newExecCmd(a *app) *cobra.Command {
	var (
		auth           authFlags
		host           string
		port           int
		skipValidation bool
		testOnly       bool
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND",
		Short: "Run a command on a single host",
		Args: func(cmd *cobra.Command, args []string) error {
			if testOnly {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if auth.user == "" {
				auth.user = a.cfg.SessionDefaults.Username
			}

			material, err := auth.material()
			if err != nil {
				return err
			}
			defer material.Close()

			entry := models.HostEntry{IP: host, Port: port}
			template := sessionTemplate(a.cfg.SessionDefaults, auth.user, material)

			var result *models.CommandResult
			if testOnly {
				result, err = a.engine.TestConnection(entry, template, a.cfg.SessionDefaults.Port)
			} else {
				result, err = a.engine.ExecuteSSHCommand(entry, template, a.cfg.SessionDefaults.Port, strings.Join(args, " "), skipValidation)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Stdout != "" {
				fmt.Fprint(out, result.Stdout)
			}
			if result.Stderr != "" {
				fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
			}
			if result.VehicleID != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "vehicle: %s\n", result.VehicleID)
			}
			if result.ExitStatus != 0 {
				return fmt.Errorf("remote command exited with status %d", result.ExitStatus)
			}
			return nil
		},
	}

	auth.register(cmd)
	cmd.Flags().StringVarP(&host, "host", "H", "", "target host (IP or DNS name)")
	cmd.MarkFlagRequired("host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "target port (default from config)")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "bypass the command safety validator")
	cmd.Flags().BoolVar(&testOnly, "test", false, "only test connectivity and credentials")

	return cmd
}
