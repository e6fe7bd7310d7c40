package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/scratchlinux/slpkg/pkg/engine"
)

var (
	// Global flags
	configPath string
	dryRun     bool
	trustAll   bool
	verbose    bool
)

// unstableWarning is logged when stdout is not a terminal.
const unstableWarning = "sl-pkg does not have a stable CLI interface. Use with caution in scripts."

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sl-pkg",
		Short: "Scratch Linux Packager",
		Long: `sl-pkg is a source-based package manager.

For each package it fetches a PACKAGE manifest from the mirror, lets you
inspect it, downloads and builds the sources, runs the manifest's install
hooks and records the result in the installed-package ledger.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				log.Warn().Msg(unstableWarning)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "accepted for compatibility; operations still run")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "simulate", false, "alias of --dry-run")
	rootCmd.PersistentFlags().BoolVar(&trustAll, "trust-all", false, "skip the manifest review prompt")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(cmd, err)
	})

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newDownloadCommand())
	rootCmd.AddCommand(newDetectCommand())
	rootCmd.AddCommand(newBootstrapCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func usageError(cmd *cobra.Command, err error) error {
	return engine.NewError(engine.ClassConfig, cmd.Name(), "", err)
}

// packagesArg requires at least one package name.
func packagesArg(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usageError(cmd, errors.New("at least one package name is required"))
	}
	return nil
}
