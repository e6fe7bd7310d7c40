package commands

import (
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		output string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history [pkg]",
		Short: "Show recorded lifecycle operations",
		Long: `History prints the newest lifecycle events from the ledger, optionally for
a single package.`,
		Example: `  sl-pkg history
  sl-pkg history bash --limit 5 -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "history"
			format, err := parseFormat(cmd, output)
			if err != nil {
				return err
			}
			var pkg string
			if len(args) == 1 {
				pkg = args[0]
			}

			ctx := cmd.Context()
			s, err := newSession(op)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			ledger, err := s.openLedger(ctx, op)
			if err != nil {
				return err
			}
			events, err := ledger.ListEvents(ctx, pkg, limit)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), format, events, func(t *table) {
				t.header("TIME", "PACKAGE", "OPERATION", "STATUS", "MESSAGE")
				for _, e := range events {
					t.row(e.Timestamp.Local().Format(time.DateTime), e.Package, e.Operation, string(e.Status), e.Message)
				}
			})
		},
	}

	addOutputFlag(cmd, &output)
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}
