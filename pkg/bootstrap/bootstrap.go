// Package bootstrap deploys a base release into a target root and runs
// sl-pkg inside it to install the release's package list.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/scratchlinux/slpkg/pkg/archive"
	"github.com/scratchlinux/slpkg/pkg/cache"
	"github.com/scratchlinux/slpkg/pkg/engine"
	"github.com/scratchlinux/slpkg/pkg/fetch"
	"github.com/scratchlinux/slpkg/pkg/telemetry"
)

const (
	opBootstrap = "bootstrap"

	chrootPath = "/usr/bin:/usr/sbin:/bin:/sbin"
	chrootPS1  = `(sl-pkg chroot) \u:\w\$ `
)

// Child is the sl-pkg invocation run inside the target.
type Child struct {
	Root   string
	Argv   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// ChildRunner runs a Child and returns its exit status.
type ChildRunner interface {
	Run(ctx context.Context, c Child) (int, error)
}

// Options configure one bootstrap.
type Options struct {
	Mirror  string
	Version string
	Target  string

	KeepGoing    bool
	ForceInstall bool

	// ChrootBinary is where the running binary is copied inside the target.
	ChrootBinary string

	// ConfigPath is the host configuration, copied to the same path inside
	// the target.
	ConfigPath string

	// CacheDirs are the cache roots, as seen inside the target, purged after
	// the child has run.
	CacheDirs []string

	LogLevel string
	Term     string
	NProc    int

	// HostRoot is prefixed to host file paths. Empty means /.
	HostRoot string
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Cache     *cache.Cache
	Fetcher   fetch.Fetcher
	Mounter   Mounter
	Runner    ChildRunner
	Telemetry *telemetry.Telemetry

	// Executable returns the running binary. Defaults to os.Executable.
	Executable func() (string, error)

	// IsMountPoint defaults to the device comparison in this package.
	IsMountPoint func(path string) (bool, error)

	Stdout io.Writer
	Stderr io.Writer
}

// Orchestrator runs a bootstrap.
type Orchestrator struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
}

// New returns an orchestrator for opts.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	switch {
	case opts.Target == "":
		return nil, engine.NewError(engine.ClassConfig, opBootstrap, "", errors.New("target is required"))
	case opts.Version == "":
		return nil, engine.NewError(engine.ClassConfig, opBootstrap, "", errors.New("no bootstrap version configured"))
	case opts.Mirror == "":
		return nil, engine.NewError(engine.ClassConfig, opBootstrap, "", errors.New("mirror is required"))
	case opts.ChrootBinary == "" || !filepath.IsAbs(opts.ChrootBinary):
		return nil, engine.NewError(engine.ClassConfig, opBootstrap, "", fmt.Errorf("chroot binary must be an absolute path, got %q", opts.ChrootBinary))
	case deps.Cache == nil || deps.Fetcher == nil || deps.Mounter == nil || deps.Runner == nil:
		return nil, engine.NewError(engine.ClassConfig, opBootstrap, "", errors.New("cache, fetcher, mounter and runner are required"))
	}

	// The version names a cache directory, so it must not carry a path.
	if err := ValidateVersion(opts.Version); err != nil {
		return nil, engine.NewError(engine.ClassConfig, opBootstrap, "", err)
	}

	target, err := filepath.Abs(opts.Target)
	if err != nil {
		return nil, engine.NewError(engine.ClassConfig, opBootstrap, "", err)
	}
	opts.Target = target
	if opts.HostRoot == "" {
		opts.HostRoot = "/"
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop()
	}
	if deps.Executable == nil {
		deps.Executable = os.Executable
	}
	if deps.IsMountPoint == nil {
		deps.IsMountPoint = IsMountPoint
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}

	return &Orchestrator{
		opts:   opts,
		deps:   deps,
		logger: deps.Telemetry.Logger.NewComponentLogger("bootstrap").Zerolog(),
	}, nil
}

// Run deploys the release and runs the child install. Failures before the
// child leave no mounts behind; once mounting starts, teardown and cache
// purge always run and the child's failure is returned afterwards.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	ctx, span := o.deps.Telemetry.Tracer.StartSpan(ctx, "bootstrap.run",
		telemetry.AttrOperation.String(opBootstrap))
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
			o.deps.Telemetry.Metrics.RecordError(string(engine.ClassOf(err)))
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	logger := o.logger.With().Str("target", o.opts.Target).Str("version", o.opts.Version).Logger()

	if err := o.checkTarget(logger); err != nil {
		return err
	}

	release, packages, err := o.fetchRelease(ctx, logger)
	if err != nil {
		return err
	}

	if err := o.timed("extract", func() error { return o.extract(ctx, release, logger) }); err != nil {
		return err
	}

	mounts := &mountTable{root: o.opts.Target, mounter: o.deps.Mounter, logger: logger}
	defer func() {
		if cleanupErr := o.cleanup(mounts, logger); cleanupErr != nil {
			err = errors.Join(err, cleanupErr)
		}
	}()

	if err := o.timed("prepare", func() error { return o.prepare(mounts, logger) }); err != nil {
		return err
	}

	return o.timed("child", func() error { return o.runChild(ctx, packages, logger) })
}

func (o *Orchestrator) timed(phase string, fn func() error) error {
	timer := telemetry.NewTimer()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.deps.Telemetry.Metrics.RecordStep("bootstrap_"+phase, status, timer.Duration())
	return err
}

func (o *Orchestrator) checkTarget(logger zerolog.Logger) error {
	info, err := os.Stat(o.opts.Target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn().Msg("target does not exist; it will be created")
		return nil
	case err != nil:
		return engine.NewError(engine.ClassConfig, opBootstrap, "", fmt.Errorf("failed to stat target: %w", err))
	case !info.IsDir():
		return engine.NewError(engine.ClassConfig, opBootstrap, "", fmt.Errorf("target %s is not a directory", o.opts.Target))
	}

	mounted, err := o.deps.IsMountPoint(o.opts.Target)
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine whether target is a mount point")
		return nil
	}
	if !mounted {
		logger.Warn().Msg("target is not a mount point; the base system will share the parent filesystem")
	}
	return nil
}

func (o *Orchestrator) fetchRelease(ctx context.Context, logger zerolog.Logger) (*Release, []string, error) {
	acquisition := func(err error) error {
		return engine.NewError(engine.ClassAcquisition, opBootstrap, "", err)
	}

	dir, err := o.deps.Cache.Dir(ReleaseDir(o.opts.Version))
	if err != nil {
		return nil, nil, acquisition(err)
	}

	baseURL := ReleaseURL(o.opts.Mirror, o.opts.Version)
	releasePath := filepath.Join(dir, ReleaseFile)
	if err := o.deps.Fetcher.Fetch(ctx, fetch.Join(baseURL, ReleaseFile), releasePath); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, nil, acquisition(fmt.Errorf("release %s not found on mirror: %w", o.opts.Version, err))
		}
		return nil, nil, acquisition(err)
	}

	release, err := ParseReleaseFile(releasePath, o.opts.Version, baseURL)
	if err != nil {
		return nil, nil, engine.NewError(engine.ClassPolicy, opBootstrap, "", err)
	}
	logger.Info().Str("tarball", release.Tarball).Str("packages", release.PackageList).Msg("release resolved")

	tarballPath := filepath.Join(dir, fetch.FileName(release.Tarball))
	if err := o.deps.Fetcher.Fetch(ctx, release.Tarball, tarballPath); err != nil {
		return nil, nil, acquisition(fmt.Errorf("failed to fetch base tarball: %w", err))
	}
	release.Tarball = tarballPath

	listPath := filepath.Join(dir, fetch.FileName(release.PackageList))
	if err := o.deps.Fetcher.Fetch(ctx, release.PackageList, listPath); err != nil {
		return nil, nil, acquisition(fmt.Errorf("failed to fetch package list: %w", err))
	}

	f, err := os.Open(listPath)
	if err != nil {
		return nil, nil, acquisition(err)
	}
	defer f.Close()
	packages, err := ParsePackageList(f)
	if err != nil {
		return nil, nil, engine.NewError(engine.ClassPolicy, opBootstrap, "", err)
	}
	return release, packages, nil
}

func (o *Orchestrator) extract(ctx context.Context, release *Release, logger zerolog.Logger) error {
	if err := os.MkdirAll(o.opts.Target, 0755); err != nil {
		return engine.NewError(engine.ClassAcquisition, opBootstrap, "", fmt.Errorf("failed to create target: %w", err))
	}
	logger.Info().Str("archive", release.Tarball).Msg("extracting base system")
	err := archive.ExtractFile(ctx, release.Tarball, o.opts.Target, archive.Options{
		PreserveOwner: os.Geteuid() == 0,
		Logger:        logger,
	})
	if err != nil {
		return engine.NewError(engine.ClassAcquisition, opBootstrap, "", err)
	}
	return nil
}

func (o *Orchestrator) prepare(mounts *mountTable, logger zerolog.Logger) error {
	privilege := func(err error) error {
		return engine.NewError(engine.ClassPrivilege, opBootstrap, "", err)
	}
	if err := mounts.setup(); err != nil {
		return privilege(err)
	}
	if err := copyHostFiles(o.opts.HostRoot, o.opts.Target, logger); err != nil {
		return privilege(err)
	}

	self, err := o.deps.Executable()
	if err != nil {
		return privilege(fmt.Errorf("failed to locate running binary: %w", err))
	}
	if err := copyFile(self, o.inTarget(o.opts.ChrootBinary)); err != nil {
		return privilege(err)
	}
	if err := os.Chmod(o.inTarget(o.opts.ChrootBinary), 0755); err != nil {
		return privilege(err)
	}

	if o.opts.ConfigPath != "" {
		if err := copyFile(o.opts.ConfigPath, o.inTarget(o.opts.ConfigPath)); err != nil {
			return privilege(err)
		}
	}
	return nil
}

// ChildArgs returns the argument vector of the chrooted install.
func (o *Orchestrator) ChildArgs(packages []string) []string {
	argv := []string{o.opts.ChrootBinary}
	if o.opts.ConfigPath != "" {
		argv = append(argv, "--config", o.opts.ConfigPath)
	}
	argv = append(argv, "install", "--trust-all")
	if o.opts.KeepGoing {
		argv = append(argv, "--keep-going")
	}
	if o.opts.ForceInstall {
		argv = append(argv, "--force-install")
	}
	return append(argv, packages...)
}

// ChildEnv returns the fixed environment of the chrooted install.
func (o *Orchestrator) ChildEnv() []string {
	term := o.opts.Term
	if term == "" {
		term = "linux"
	}
	return []string{
		"HOME=/root",
		"TERM=" + term,
		"PS1=" + chrootPS1,
		"PATH=" + chrootPath,
		"LOG_LEVEL=" + o.opts.LogLevel,
		"NPROC=" + strconv.Itoa(o.opts.NProc),
	}
}

func (o *Orchestrator) runChild(ctx context.Context, packages []string, logger zerolog.Logger) error {
	if len(packages) == 0 {
		logger.Info().Msg("package list is empty; nothing to install in the chroot")
		return nil
	}

	argv := o.ChildArgs(packages)
	logger.Info().Strs("argv", argv).Int("packages", len(packages)).Msg("entering chroot")

	code, err := o.deps.Runner.Run(ctx, Child{
		Root:   o.opts.Target,
		Argv:   argv,
		Env:    o.ChildEnv(),
		Stdout: o.deps.Stdout,
		Stderr: o.deps.Stderr,
	})
	if err != nil {
		if ctx.Err() != nil {
			return engine.NewError(engine.ClassAborted, opBootstrap, "", err)
		}
		return engine.NewError(engine.ClassHook, opBootstrap, "", err)
	}
	if code != 0 {
		return engine.NewError(engine.ClassHook, opBootstrap, "", fmt.Errorf("chroot install exited with status %d", code))
	}
	logger.Info().Msg("chroot install finished")
	return nil
}

func (o *Orchestrator) cleanup(mounts *mountTable, logger zerolog.Logger) error {
	var errs []error
	if err := mounts.teardown(); err != nil {
		errs = append(errs, err)
	}
	for _, dir := range o.opts.CacheDirs {
		root := o.inTarget(dir)
		if err := cache.New(root).Purge(); err != nil {
			errs = append(errs, fmt.Errorf("failed to purge %s: %w", root, err))
			continue
		}
		logger.Debug().Str("cache", root).Msg("purged chroot cache")
	}
	if len(errs) > 0 {
		logger.Error().Err(errors.Join(errs...)).Msg("bootstrap cleanup incomplete")
		return engine.NewError(engine.ClassPrivilege, opBootstrap, "", errors.Join(errs...))
	}
	return nil
}

func (o *Orchestrator) inTarget(p string) string {
	return filepath.Join(o.opts.Target, p)
}
