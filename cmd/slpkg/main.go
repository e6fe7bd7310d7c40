package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scratchlinux/slpkg/cmd/slpkg/commands"
	"github.com/scratchlinux/slpkg/pkg/engine"
	"github.com/scratchlinux/slpkg/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// Cancelled on interrupt so hooks, transfers and the chroot child stop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn().Msg("Received interrupt signal, stopping...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("sl-pkg failed")
		cancel()
		os.Exit(engine.ExitCode(err))
	}
}

// setupLogging configures the global logger used before the configuration
// file is loaded. Commands replace it once settings are known. Levels are
// filtered per logger, so the global level stays open.
func setupLogging() {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(telemetry.ParseLevel(os.Getenv("LOG_LEVEL")))
}
