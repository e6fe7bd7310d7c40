package commands

import (
	"github.com/spf13/cobra"

	"github.com/scratchlinux/slpkg/pkg/engine"
)

func newDownloadCommand() *cobra.Command {
	var build bool

	cmd := &cobra.Command{
		Use:   "download <pkg>...",
		Short: "Download package sources into the user cache",
		Long: `Download fetches and inspects each manifest, then downloads its sources and
patches into the user cache. With --build the sources are also extracted
and built. Nothing is installed or recorded, so root is not required.`,
		Example: `  # Fetch sources for later
  sl-pkg download coreutils

  # Fetch and build without installing
  sl-pkg download --build coreutils`,
		Args: packagesArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "download"
			ctx := cmd.Context()

			s, err := newSession(op)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			eng, err := s.newEngine(ctx, op, s.settings.UserCacheDir, engine.Options{Build: build}, nil)
			if err != nil {
				return err
			}

			return eng.RunBatch(ctx, args, eng.Download)
		},
	}

	cmd.Flags().BoolVarP(&build, "build", "b", false, "also extract and build the sources")

	return cmd
}
