package commands

import (
	"github.com/spf13/cobra"

	"github.com/scratchlinux/slpkg/pkg/engine"
)

func newInstallCommand() *cobra.Command {
	var (
		keepGoing    bool
		forceInstall bool
	)

	cmd := &cobra.Command{
		Use:   "install <pkg>...",
		Short: "Download, build and install packages",
		Long: `Install runs each package through the full lifecycle: fetch the manifest,
inspect it, download the sources, build, install and record the result in
the installed-package ledger. Packages are processed one at a time in the
order given.`,
		Example: `  # Install two packages, reviewing each manifest
  sl-pkg install zlib bash

  # Continue past failing packages and record packages whose hooks failed
  sl-pkg install --keep-going --force-install gcc binutils`,
		Args: packagesArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "install"
			if err := requireRoot(op); err != nil {
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

			eng, err := s.newEngine(ctx, op, s.settings.CacheDir, engine.Options{
				KeepGoing:    keepGoing,
				ForceInstall: forceInstall,
			}, ledger)
			if err != nil {
				return err
			}

			return eng.RunBatch(ctx, args, eng.Install)
		},
	}

	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "continue with the next package after a failure")
	cmd.Flags().BoolVar(&forceInstall, "force-install", false, "record packages even when build or install hooks fail")

	return cmd
}
