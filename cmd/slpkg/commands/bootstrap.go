package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scratchlinux/slpkg/pkg/bootstrap"
	"github.com/scratchlinux/slpkg/pkg/cache"
	"github.com/scratchlinux/slpkg/pkg/engine"
)

func newBootstrapCommand() *cobra.Command {
	var (
		keepGoing    bool
		forceInstall bool
		version      string
	)

	cmd := &cobra.Command{
		Use:   "bootstrap <target>",
		Short: "Deploy a base system into a target root",
		Long: `Bootstrap fetches a base release from the mirror, extracts its tarball into
the target, prepares the target as a chroot and runs sl-pkg inside it to
install the release's package list. Manifests are trusted without review.

Virtual filesystems mounted under the target are always unmounted once the
chroot install has been attempted, even if it failed.`,
		Example: `  # Deploy the configured release onto a mounted partition
  sl-pkg bootstrap /mnt/lfs

  # Deploy a specific release and keep going past failing packages
  sl-pkg bootstrap --version 12.1 --keep-going /mnt/lfs`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return usageError(cmd, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "bootstrap"
			if err := requireRoot(op); err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := newSession(op)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if version == "" {
				version = s.settings.BootstrapVersion
			}
			configFile, err := filepath.Abs(s.settings.Path)
			if err != nil {
				return engine.NewError(engine.ClassConfig, op, "", err)
			}

			c := cache.New(s.settings.CacheDir)
			if err := c.Ensure(); err != nil {
				return engine.NewError(engine.ClassConfig, op, "", err)
			}

			orch, err := bootstrap.New(bootstrap.Options{
				Mirror:       s.settings.Mirror,
				Version:      version,
				Target:       args[0],
				KeepGoing:    keepGoing,
				ForceInstall: forceInstall,
				ChrootBinary: s.settings.ChrootBinary,
				ConfigPath:   configFile,
				CacheDirs:    []string{s.settings.CacheDir, s.settings.UserCacheDir},
				LogLevel:     s.tel.Config.Logging.Level,
				Term:         os.Getenv("TERM"),
				NProc:        s.settings.NProc,
			}, bootstrap.Deps{
				Cache:     c,
				Fetcher:   s.fetcher(),
				Mounter:   bootstrap.UnixMounter{Logger: s.logger},
				Runner:    bootstrap.ExecRunner{},
				Telemetry: s.tel,
			})
			if err != nil {
				return err
			}

			return orch.Run(ctx)
		},
	}

	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "continue past failing packages inside the chroot")
	cmd.Flags().BoolVar(&forceInstall, "force-install", false, "record packages inside the chroot even when hooks fail")
	cmd.Flags().StringVar(&version, "version", "", "base release to deploy (default BOOTSTRAP_VERSION)")

	return cmd
}
