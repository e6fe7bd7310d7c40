package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scratchlinux/slpkg/pkg/engine"
)

func newDetectCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "detect <pkg>...",
		Short: "Detect installed packages and reconcile the ledger",
		Long: `Detect runs each manifest's detect hook. Packages found on the system are
added to the ledger if missing; packages not found are removed from it.
The command succeeds only if every package was detected as installed.`,
		Example: `  # Adopt packages built by hand into the ledger
  sl-pkg detect --trust-all glibc zlib`,
		Args: packagesArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "detect"
			if err := requireRoot(op); err != nil {
				return err
			}
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
			eng, err := s.newEngine(ctx, op, s.settings.CacheDir, engine.Options{}, ledger)
			if err != nil {
				return err
			}

			results, detectErr := eng.DetectAll(ctx, args)
			if err := render(cmd.OutOrStdout(), format, results, func(t *table) {
				t.header("PACKAGE", "INSTALLED", "LEDGER", "ERROR")
				for _, r := range results {
					msg := ""
					if r.Err != nil && !engine.IsClass(r.Err, engine.ClassHook) {
						msg = r.Err.Error()
					}
					t.row(r.Name, fmt.Sprint(r.Installed), string(r.Action), msg)
				}
			}); err != nil {
				return err
			}
			return detectErr
		},
	}

	addOutputFlag(cmd, &output)
	return cmd
}
