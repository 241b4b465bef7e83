package cli

import (
	"fmt"

	"github.com/fleetexec/fleetexec/internal/audit"

	"github.com/spf13/cobra"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	var (
		limit  int
		action string
		level  string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent audit records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.store == nil {
				return fmt.Errorf("audit log is disabled")
			}
			records, err := a.store.Records(cmd.Context(), audit.Query{
				Limit:  limit,
				Action: action,
				Level:  level,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%s  %-5s  %-24s  %s\n",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.Level, r.Action, r.Details)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records to show")
	list.Flags().StringVar(&action, "action", "", "filter by action")
	list.Flags().StringVar(&level, "level", "", "filter by level")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every audit record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.store == nil {
				return fmt.Errorf("audit log is disabled")
			}
			if err := a.store.Clear(); err != nil {
				return err
			}
			a.recorder.Record(audit.LevelInfo, "clear_audit_logs", "audit log cleared", "")
			return nil
		},
	}

	cmd.AddCommand(list, clearCmd)
	return cmd
}
