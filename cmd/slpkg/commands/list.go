package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/scratchlinux/slpkg/pkg/stores"
)

func newListCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Long:  `List prints the installed-package ledger.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "list"
			format, err := parseFormat(cmd, output)
			if err != nil {
				return err
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
			packages, err := ledger.List(ctx)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), format, packages, func(t *table) {
				t.header("NAME", "VERSION", "ABSOLUTE", "INSTALLED")
				for _, p := range packages {
					t.row(p.Name, p.Version, strconv.FormatInt(p.AbsoluteVersion, 10), p.InstallDate.Format(stores.DateLayout))
				}
			})
		},
	}

	addOutputFlag(cmd, &output)
	return cmd
}
