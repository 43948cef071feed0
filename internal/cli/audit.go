package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/actiongate/actiongate/internal/timeline"
)

var (
	auditTrace string
	auditTeam  string
	auditUser  string
	auditLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recently dispatched actions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTimeline(func(tl *timeline.TimelineService) error {
			recs, err := tl.ListAudit(cmd.Context(), timeline.AuditFilter{
				TraceID: auditTrace,
				TeamID:  auditTeam,
				UserID:  auditUser,
				Limit:   auditLimit,
			})
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No actions recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tUSER\tOPERATION\tRESULT\tDURATION\tTRACE")
			for _, r := range recs {
				result := color.GreenString("ok")
				if !r.Success {
					result = color.RedString("failed (%s)", r.FailureClass)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.UTC().Format(time.RFC3339), r.UserID, r.Operation, result, r.Duration, r.TraceID)
			}
			return tw.Flush()
		})
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditTrace, "trace", "", "Filter by trace id")
	auditCmd.Flags().StringVar(&auditTeam, "team", "", "Filter by Slack team id")
	auditCmd.Flags().StringVar(&auditUser, "user", "", "Filter by Slack user id")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum rows")
	rootCmd.AddCommand(auditCmd)
}
