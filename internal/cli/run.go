package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fleetexec/fleetexec/internal/events"
	"github.com/fleetexec/fleetexec/internal/export"
	"github.com/fleetexec/fleetexec/internal/hostfile"
	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		auth           authFlags
		hostsFile      string
		maxConcurrent  int
		retry          bool
		retryInterval  time.Duration
		retryAttempts  int
		skipValidation bool
		outputPath     string
		quiet          bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND",
		Short: "Run a command on every host in a host file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")

			data, err := os.ReadFile(hostsFile)
			if err != nil {
				return fmt.Errorf("read hosts file: %w", err)
			}
			hosts, err := hostfile.Parse(data, filepath.Ext(hostsFile))
			if err != nil {
				return fmt.Errorf("parse hosts file: %w", err)
			}

			material, err := auth.material()
			if err != nil {
				return err
			}
			defer material.Close()

			req := models.BatchRequest{
				Hosts:            hosts,
				ConfigTemplate:   sessionTemplate(a.cfg.SessionDefaults, auth.user, material),
				DefaultPort:      a.cfg.SessionDefaults.Port,
				Command:          command,
				MaxConcurrent:    maxConcurrent,
				RetryFailedHosts: retry,
				RetryInterval:    retryInterval,
				RetryMaxAttempts: retryAttempts,
				SkipValidation:   skipValidation,
			}

			// Ctrl-C trips the engine's token; a second one kills us.
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				<-sigs
				signal.Stop(sigs)
				fmt.Fprintln(os.Stderr, "cancelling...")
				a.engine.CancelCommandExecution()
			}()

			ch := events.NewChannel(64)
			var render sync.WaitGroup
			render.Add(1)
			go func() {
				defer render.Done()
				renderEvents(cmd, ch, quiet)
			}()

			results, err := a.engine.ExecuteBatchCommands(req, ch)
			ch.CloseSend()
			render.Wait()
			if err != nil {
				return err
			}

			printSummary(cmd, results)

			if outputPath != "" {
				if err := export.ToFile(outputPath, results); err != nil {
					return fmt.Errorf("export results: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "results written to %s\n", outputPath)
			}
			return nil
		},
	}

	auth.register(cmd)
	cmd.Flags().StringVarP(&hostsFile, "hosts", "f", "", "host file (.txt, .csv, .xlsx)")
	cmd.MarkFlagRequired("hosts")
	cmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "c", 0, "parallel session bound (default from config)")
	cmd.Flags().BoolVar(&retry, "retry", false, "re-queue hosts whose failure is retryable")
	cmd.Flags().DurationVar(&retryInterval, "retry-interval", 0, "pause between retry rounds (default from config)")
	cmd.Flags().IntVar(&retryAttempts, "retry-max-attempts", -1, "retry round cap, 0 = until cancelled (default from config)")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "bypass the command safety validator")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "export results to file (.csv, .html, .xlsx)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-host output, print only the summary")

	// Config-dependent defaults resolve after the root PreRun loads config.
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if auth.user == "" {
			auth.user = a.cfg.SessionDefaults.Username
		}
		if maxConcurrent == 0 {
			maxConcurrent = a.cfg.BatchDefaults.MaxConcurrent
		}
		if retryInterval == 0 {
			retryInterval = a.cfg.BatchDefaults.RetryInterval()
		}
		if retryAttempts < 0 {
			retryAttempts = a.cfg.BatchDefaults.RetryMaxAttempts
		}
		if !cmd.Flags().Changed("retry") {
			retry = a.cfg.BatchDefaults.RetryFailedHosts
		}
		return nil
	}

	return cmd
}

// renderEvents prints results as they complete and progress to stderr.
func renderEvents(cmd *cobra.Command, ch *events.Channel, quiet bool) {
	out := cmd.OutOrStdout()
	for ev := range ch.C() {
		switch ev.Type {
		case events.TypeResult:
			if quiet {
				continue
			}
			printOutcome(out, ev.Result)
		case events.TypeProgress:
			fmt.Fprintf(cmd.ErrOrStderr(), "\r[%d/%d] %s",
				ev.Progress.Completed, ev.Progress.Total, ev.Progress.Host)
			if ev.Progress.Completed == ev.Progress.Total {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
		}
	}
}

func printOutcome(out io.Writer, o *models.BatchOutcome) {
	switch {
	case o.Err != nil:
		fmt.Fprintf(out, "%s  FAILED (%s): %s\n", o.Host, o.Err.Kind, o.Err.Message)
	case o.Result.ExitStatus != 0:
		fmt.Fprintf(out, "%s  exit %d\n%s", o.Host, o.Result.ExitStatus, indent(o.Result.Stderr))
	default:
		fmt.Fprintf(out, "%s  ok\n%s", o.Host, indent(o.Result.Stdout))
	}
}

func printSummary(cmd *cobra.Command, results []models.BatchOutcome) {
	succeeded, remoteFailed, failed := 0, 0, 0
	for i := range results {
		switch {
		case results[i].Err != nil:
			failed++
		case results[i].Result.ExitStatus != 0:
			remoteFailed++
		default:
			succeeded++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d ok, %d non-zero exit, %d failed, %d total\n",
		succeeded, remoteFailed, failed, len(results))
}

func indent(s string) string {
	if s == "" {
		return ""
	}
	trimmed := strings.TrimRight(s, "\n")
	return "    " + strings.ReplaceAll(trimmed, "\n", "\n    ") + "\n"
}
