package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/scratchlinux/slpkg/pkg/cache"
	"github.com/scratchlinux/slpkg/pkg/config"
	"github.com/scratchlinux/slpkg/pkg/engine"
	"github.com/scratchlinux/slpkg/pkg/fetch"
	"github.com/scratchlinux/slpkg/pkg/inspect"
	"github.com/scratchlinux/slpkg/pkg/manifest"
	"github.com/scratchlinux/slpkg/pkg/policy"
	"github.com/scratchlinux/slpkg/pkg/stores"
	"github.com/scratchlinux/slpkg/pkg/telemetry"
	"github.com/scratchlinux/slpkg/pkg/vcs"
)

// session holds what every command builds from the configuration file.
type session struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	closers  []func() error
}

// newSession locates and loads the configuration, then sets up telemetry.
func newSession(op string) (*session, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.Locate(config.SystemConfigPath, config.LocalConfigPath)
		if err != nil {
			return nil, engine.NewError(engine.ClassConfig, op, "", err)
		}
	}

	settings, err := config.LoadSettings(path)
	if err != nil {
		return nil, engine.NewError(engine.ClassConfig, op, "", err)
	}

	cfg := telemetryConfig(settings, os.Getenv)
	cfg.Logging.NoColor = !term.IsTerminal(int(os.Stderr.Fd()))

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, engine.NewError(engine.ClassConfig, op, "", fmt.Errorf("failed to set up telemetry: %w", err))
	}

	logger := tel.Logger.Zerolog()
	log.Logger = logger
	logger.Debug().Str("config", path).Str("mirror", settings.Mirror).Msg("configuration loaded")

	return &session{
		settings: settings,
		tel:      tel,
		logger:   logger,
	}, nil
}

// telemetryConfig maps settings onto telemetry. The LOG_LEVEL environment
// variable overrides the configured level and --verbose overrides both.
func telemetryConfig(settings *config.Settings, getenv func(string) string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = settings.LogLevel
	if env := getenv("LOG_LEVEL"); env != "" {
		cfg.Logging.Level = env
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = settings.LogFormat
	cfg.Tracing.Enabled = settings.TraceExporter != "none"
	cfg.Tracing.Exporter = settings.TraceExporter
	cfg.Tracing.Endpoint = settings.TraceEndpoint
	cfg.Metrics.Enabled = settings.MetricsTextfile != ""
	cfg.Metrics.TextfilePath = settings.MetricsTextfile
	return cfg
}

// Close flushes telemetry and releases transports.
func (s *session) Close(ctx context.Context) {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	errs = append(errs, s.tel.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// requireRoot fails with a privilege error unless running as root.
func requireRoot(op string) error {
	if unix.Geteuid() != 0 {
		return engine.NewError(engine.ClassPrivilege, op, "", errors.New("this operation must be run as root"))
	}
	return nil
}

// openLedger opens and migrates the installed-package ledger.
func (s *session) openLedger(ctx context.Context, op string) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: s.settings.DBPath})
	if err != nil {
		return nil, engine.NewError(engine.ClassConfig, op, "", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, engine.NewError(engine.ClassLedger, op, "", err)
	}
	s.closers = append(s.closers, store.Close)
	if err := store.Migrate(ctx); err != nil {
		return nil, engine.NewError(engine.ClassLedger, op, "", err)
	}
	return store, nil
}

func (s *session) fetcher() *fetch.Mux {
	sftpFetcher := fetch.NewSFTPFetcher(s.settings.SSHUser, s.settings.SSHKey, s.settings.SSHKnownHosts, s.logger)
	s.closers = append(s.closers, sftpFetcher.Close)
	return fetch.New(
		fetch.WithTransport("sftp", sftpFetcher),
		fetch.WithMetrics(s.tel.Metrics),
		fetch.WithLogger(s.logger),
	)
}

// newEngine wires an engine over the cache rooted at cacheRoot. ledger may
// be nil for operations that never record.
func (s *session) newEngine(ctx context.Context, op, cacheRoot string, opts engine.Options, ledger engine.Ledger) (*engine.Engine, error) {
	c := cache.New(cacheRoot)
	if err := c.Ensure(); err != nil {
		return nil, engine.NewError(engine.ClassConfig, op, "", err)
	}

	policies, err := policy.NewEngine(s.logger)
	if err != nil {
		return nil, engine.NewError(engine.ClassPolicy, op, "", err)
	}
	if s.settings.PolicyDir != "" {
		if err := policies.LoadPolicies(ctx, []string{s.settings.PolicyDir}); err != nil {
			return nil, engine.NewError(engine.ClassPolicy, op, "", err)
		}
	}

	opts.Mirror = s.settings.Mirror
	opts.TrustAll = opts.TrustAll || trustAll
	opts.DryRun = dryRun
	opts.HookTimeout = s.settings.HookTimeout
	opts.NProc = s.settings.NProc
	opts.Env = s.settings.Env

	return engine.New(opts, engine.Deps{
		Cache:     c,
		Fetcher:   s.fetcher(),
		Sandbox:   manifest.NewSandbox(manifest.WithLogger(s.logger), manifest.WithNProc(opts.NProc)),
		Policies:  policies,
		Reviewer:  inspect.NewTerminal(s.settings.Pager, s.settings.Editor, inspect.WithLogger(s.logger)),
		VCS:       vcs.NewGit(manifest.ExecRunner{}, s.logger),
		Ledger:    ledger,
		Telemetry: s.tel,
	})
}
