package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scratchlinux/slpkg/pkg/archive"
	"github.com/scratchlinux/slpkg/pkg/cache"
	"github.com/scratchlinux/slpkg/pkg/fetch"
	"github.com/scratchlinux/slpkg/pkg/inspect"
	"github.com/scratchlinux/slpkg/pkg/manifest"
	"github.com/scratchlinux/slpkg/pkg/policy"
	"github.com/scratchlinux/slpkg/pkg/stores"
	"github.com/scratchlinux/slpkg/pkg/telemetry"
	"github.com/scratchlinux/slpkg/pkg/vcs"
)

// Ledger is the subset of the installed-package store the engine uses.
type Ledger interface {
	Upsert(ctx context.Context, name, version string, absoluteVersion int64, date time.Time) error
	Exists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (*stores.InstalledPackage, error)
	Delete(ctx context.Context, name string) error
	AppendEvent(ctx context.Context, event *stores.Event) error
}

// PolicyEvaluator evaluates trust policies for a manifest.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input *policy.Input) (*policy.Result, error)
}

// SourceSyncer clones or updates a git working copy.
type SourceSyncer interface {
	Sync(ctx context.Context, url, dir string) (vcs.Action, error)
}

// Options are the per-invocation modes.
type Options struct {
	// Mirror is the base URL manifests are fetched from.
	Mirror string

	// TrustAll skips the operator review.
	TrustAll bool

	// ForceInstall tolerates BUILD and INSTALL hook failures.
	ForceInstall bool

	// KeepGoing continues a batch past failing packages.
	KeepGoing bool

	// DryRun is accepted and logged but not enforced.
	DryRun bool

	// Build adds BUILD to downloads.
	Build bool

	// NProc is exported to hooks. Zero means runtime.NumCPU.
	NProc int

	// HookTimeout bounds each hook when positive.
	HookTimeout time.Duration

	// Env is exported to every hook command.
	Env map[string]string
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Cache     *cache.Cache
	Fetcher   fetch.Fetcher
	Sandbox   *manifest.Sandbox
	Policies  PolicyEvaluator
	Reviewer  inspect.Reviewer
	VCS       SourceSyncer
	Ledger    Ledger
	Telemetry *telemetry.Telemetry

	// Now returns the current time; the ledger stores its calendar date.
	Now func() time.Time
}

// Engine drives packages through the lifecycle. It is not reentrant: one
// engine per cache root and one process per ledger.
type Engine struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
}

// New validates deps and returns an engine.
func New(opts Options, deps Deps) (*Engine, error) {
	switch {
	case deps.Cache == nil:
		return nil, NewError(ClassConfig, "engine", "", errors.New("cache is required"))
	case deps.Fetcher == nil:
		return nil, NewError(ClassConfig, "engine", "", errors.New("fetcher is required"))
	case deps.Sandbox == nil:
		return nil, NewError(ClassConfig, "engine", "", errors.New("sandbox is required"))
	case deps.Policies == nil:
		return nil, NewError(ClassConfig, "engine", "", errors.New("policy evaluator is required"))
	case deps.VCS == nil:
		return nil, NewError(ClassConfig, "engine", "", errors.New("git is required"))
	case opts.Mirror == "":
		return nil, NewError(ClassConfig, "engine", "", errors.New("mirror is required"))
	}

	if deps.Reviewer == nil || opts.TrustAll {
		deps.Reviewer = inspect.TrustAll{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.NProc <= 0 {
		opts.NProc = runtime.NumCPU()
	}

	e := &Engine{
		opts:   opts,
		deps:   deps,
		logger: deps.Telemetry.Logger.NewComponentLogger("engine").Zerolog(),
	}
	if opts.DryRun {
		e.logger.Warn().Msg("dry run requested; this mode is not enforced yet and operations will run")
	}
	return e, nil
}

// Install runs FETCH_MANIFEST, INSPECT, DOWNLOAD, BUILD, INSTALL and RECORD.
func (e *Engine) Install(ctx context.Context, name string) error {
	if e.deps.Ledger == nil {
		return NewError(ClassConfig, string(OpInstall), name, errors.New("ledger is required for install"))
	}
	return e.runPackage(ctx, OpInstall, name, e.runSteps(Steps(OpInstall, true)))
}

// Download runs FETCH_MANIFEST, INSPECT and DOWNLOAD, plus BUILD when the
// Build option is set.
func (e *Engine) Download(ctx context.Context, name string) error {
	return e.runPackage(ctx, OpDownload, name, e.runSteps(Steps(OpDownload, e.opts.Build)))
}

// RunBatch applies fn to each package in order. Without keep-going the first
// failure stops the batch; with it every failure is collected and joined.
func (e *Engine) RunBatch(ctx context.Context, names []string, fn func(context.Context, string) error) error {
	var errs []error
	cancelled := false

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, NewError(ClassAborted, "batch", name, err))
			cancelled = true
			break
		}
		if err := fn(ctx, name); err != nil {
			errs = append(errs, err)
			if !e.opts.KeepGoing {
				break
			}
		}
	}

	status := summarise(len(names), len(errs), cancelled)
	e.logger.Info().
		Int("packages", len(names)).
		Int("failed", len(errs)).
		Str("status", string(status)).
		Msg("batch finished")

	return errors.Join(errs...)
}

func (e *Engine) runPackage(ctx context.Context, op Operation, name string, fn func(context.Context, *WorkContext) error) error {
	tel := e.deps.Telemetry
	ctx, span := tel.Tracer.StartPackageSpan(ctx, string(op), name)
	defer span.End()

	logger := e.logger.With().Str("package", name).Str("operation", string(op)).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("starting")

	wc := newWorkContext(op, e.deps.Cache.Root(), name, e.opts.Env)
	err := fn(ctx, wc)

	status := stores.EventStatusSucceeded
	if wc.Forced {
		status = stores.EventStatusForced
	}
	if err != nil {
		status = stores.EventStatusFailed
		tel.Metrics.RecordError(string(ClassOf(err)))
		telemetry.RecordError(span, err)
		logger.Error().Err(err).Msg("failed")
	} else {
		telemetry.RecordSuccess(span)
		logger.Info().Str("status", string(status)).Msg("done")
	}
	tel.Metrics.RecordPackage(string(op), string(status))

	// Installs and detections that reached their final step append their own
	// events.
	if op == OpDownload || (err != nil && !errors.Is(err, ErrNotInstalled)) {
		e.appendEvent(ctx, name, op, status, err)
	}
	return err
}

func (e *Engine) runSteps(steps []Step) func(context.Context, *WorkContext) error {
	return func(ctx context.Context, wc *WorkContext) error {
		for _, step := range steps {
			if err := e.step(ctx, wc, step); err != nil {
				return err
			}
		}
		return nil
	}
}

func (e *Engine) handler(step Step) func(context.Context, *WorkContext) error {
	switch step {
	case StepFetchManifest:
		return e.fetchManifest
	case StepInspect:
		return e.inspect
	case StepDownload:
		return e.download
	case StepBuild:
		return e.build
	case StepInstall:
		return e.install
	case StepRecord:
		return e.record
	case StepDetect:
		return e.detect
	default:
		return nil
	}
}

func (e *Engine) step(ctx context.Context, wc *WorkContext, step Step) error {
	fn := e.handler(step)
	if fn == nil {
		return NewError(ClassConfig, string(wc.Operation), wc.Name, step.Validate())
	}

	ctx, span := e.deps.Telemetry.Tracer.StartStepSpan(ctx, string(step), wc.Name)
	defer span.End()

	zerolog.Ctx(ctx).Debug().Str("step", string(step)).Msg("step started")
	timer := telemetry.NewTimer()
	err := fn(ctx, wc)

	status := "ok"
	if err != nil {
		status = "error"
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	e.deps.Telemetry.Metrics.RecordStep(string(step), status, timer.Duration())
	return err
}

func (e *Engine) fetchManifest(ctx context.Context, wc *WorkContext) error {
	op := string(wc.Operation)

	dir, created, err := e.deps.Cache.Prepare(wc.Name)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidName) {
			return NewError(ClassConfig, op, wc.Name, err)
		}
		return NewError(ClassAcquisition, op, wc.Name, err)
	}
	wc.PkgDir = dir
	wc.createdDir = created
	wc.ManifestPath = filepath.Join(dir, ManifestFile)

	url := fetch.Join(e.opts.Mirror, wc.Name, ManifestFile)
	zerolog.Ctx(ctx).Debug().Str("url", url).Msg("fetching manifest")

	if err := e.deps.Fetcher.Fetch(ctx, url, wc.ManifestPath); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			if wc.createdDir {
				if rmErr := os.Remove(dir); rmErr != nil {
					zerolog.Ctx(ctx).Warn().Err(rmErr).Str("dir", dir).Msg("package directory was not removed")
				}
			}
			return NewError(ClassAcquisition, op, wc.Name, fmt.Errorf("%w: %s", ErrPackageNotFound, wc.Name))
		}
		return NewError(ClassAcquisition, op, wc.Name, err)
	}
	return nil
}

func (e *Engine) inspect(ctx context.Context, wc *WorkContext) error {
	op := string(wc.Operation)
	logger := zerolog.Ctx(ctx)

	m, err := e.deps.Sandbox.Load(ctx, wc.Name, wc.ManifestPath)
	if err != nil {
		return NewError(ClassPolicy, op, wc.Name, err)
	}
	wc.Manifest = m

	if len(m.Depends) > 0 {
		logger.Info().Strs("depends", m.Depends).Msg("dependencies are not resolved; install them first")
	}

	result, err := e.deps.Policies.Evaluate(ctx, policy.NewInput(m, policy.Context{
		Operation: op,
		Mirror:    e.opts.Mirror,
		TrustAll:  e.opts.TrustAll,
		DryRun:    e.opts.DryRun,
	}))
	if err != nil {
		return NewError(ClassPolicy, op, wc.Name, err)
	}
	for _, w := range result.Warnings {
		logger.Warn().Str("policy", w.Policy).Msg(w.Message)
	}
	if !result.Allowed {
		messages := make([]string, 0, len(result.Violations))
		for _, v := range result.Violations {
			messages = append(messages, v.Policy+": "+v.Message)
		}
		return NewError(ClassPolicy, op, wc.Name, fmt.Errorf("%w: %s", ErrPolicyDenied, strings.Join(messages, "; ")))
	}

	ok, err := e.deps.Reviewer.Review(ctx, wc.Name, wc.ManifestPath)
	if err != nil {
		return NewError(ClassAborted, op, wc.Name, err)
	}
	if !ok {
		return NewError(ClassAborted, op, wc.Name, ErrOperatorAborted)
	}
	return nil
}

func (e *Engine) download(ctx context.Context, wc *WorkContext) error {
	op := string(wc.Operation)
	m := wc.Manifest
	logger := zerolog.Ctx(ctx)

	if m.Metapackage {
		logger.Info().Msg("metapackage; nothing to download")
		return nil
	}

	if m.IsGit() {
		wc.SrcDir = wc.gitDir()
		action, err := e.deps.VCS.Sync(ctx, m.URL, wc.SrcDir)
		if err != nil {
			return NewError(ClassAcquisition, op, wc.Name, err)
		}
		logger.Info().Str("action", string(action)).Str("dir", wc.SrcDir).Msg("working copy ready")
	} else {
		archiveName, err := fetch.ArchiveName(wc.Name, m.Version, m.URL)
		if err != nil {
			return NewError(ClassAcquisition, op, wc.Name, err)
		}
		wc.ArchivePath = filepath.Join(wc.PkgDir, archiveName)
		if err := e.deps.Fetcher.Fetch(ctx, m.URL, wc.ArchivePath); err != nil {
			return NewError(ClassAcquisition, op, wc.Name, fmt.Errorf("failed to fetch source: %w", err))
		}
		logger.Info().Str("archive", wc.ArchivePath).Msg("source downloaded")
	}

	for _, p := range m.Patches {
		dest := filepath.Join(wc.PkgDir, fetch.FileName(p))
		if err := e.deps.Fetcher.Fetch(ctx, p, dest); err != nil {
			return NewError(ClassAcquisition, op, wc.Name, fmt.Errorf("failed to fetch patch %s: %w", p, err))
		}
		wc.Patches = append(wc.Patches, dest)
	}
	return nil
}

func (e *Engine) build(ctx context.Context, wc *WorkContext) error {
	op := string(wc.Operation)
	m := wc.Manifest

	if m.Metapackage {
		return nil
	}

	if m.IsGit() {
		wc.SrcDir = wc.gitDir()
		wc.BuildDir = wc.SrcDir
	} else {
		wc.BuildDir = filepath.Join(wc.PkgDir, buildDirName)
		wc.SrcDir = wc.BuildDir
		if err := os.RemoveAll(wc.BuildDir); err != nil {
			return NewError(ClassAcquisition, op, wc.Name, fmt.Errorf("failed to clear build directory: %w", err))
		}
		if err := os.MkdirAll(wc.BuildDir, 0755); err != nil {
			return NewError(ClassAcquisition, op, wc.Name, fmt.Errorf("failed to create build directory: %w", err))
		}
		if err := archive.ExtractFile(ctx, wc.ArchivePath, wc.BuildDir, archive.Options{
			Strip:  1,
			Logger: *zerolog.Ctx(ctx),
		}); err != nil {
			return NewError(ClassAcquisition, op, wc.Name, err)
		}
	}

	for _, hook := range []string{manifest.HookPrepare, manifest.HookBuild} {
		if err := e.runHook(ctx, wc, hook); err != nil {
			if err := e.tolerate(ctx, wc, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) install(ctx context.Context, wc *WorkContext) error {
	if wc.Manifest.Metapackage {
		return nil
	}
	for _, hook := range []string{manifest.HookInstall, manifest.HookPostInstall} {
		if err := e.runHook(ctx, wc, hook); err != nil {
			if err := e.tolerate(ctx, wc, err); err != nil {
				return err
			}
		}
	}
	return nil
}

// tolerate turns a hook failure into a warning under force-install.
// Interruption is never tolerated.
func (e *Engine) tolerate(ctx context.Context, wc *WorkContext, err error) error {
	if !e.opts.ForceInstall || wc.Operation != OpInstall || ctx.Err() != nil {
		return err
	}
	zerolog.Ctx(ctx).Warn().Err(err).Msg("hook failed; continuing because of --force-install")
	wc.Forced = true
	return nil
}

func (e *Engine) record(ctx context.Context, wc *WorkContext) error {
	m := wc.Manifest
	logger := zerolog.Ctx(ctx)

	previous, err := e.deps.Ledger.Get(ctx, wc.Name)
	switch {
	case errors.Is(err, stores.ErrNotFound):
		e.deps.Telemetry.Metrics.RecordLedgerChange("insert")
	case err != nil:
		return NewError(ClassLedger, string(OpInstall), wc.Name, err)
	default:
		logVersionChange(logger, previous, m)
		e.deps.Telemetry.Metrics.RecordLedgerChange("update")
	}

	if err := e.deps.Ledger.Upsert(ctx, wc.Name, m.Version, m.AbsoluteVersion, e.deps.Now()); err != nil {
		return NewError(ClassLedger, string(OpInstall), wc.Name, err)
	}

	status := stores.EventStatusSucceeded
	if wc.Forced {
		status = stores.EventStatusForced
	}
	e.appendEvent(ctx, wc.Name, OpInstall, status, nil)
	logger.Info().Str("version", m.Version).Int64("absolute_version", m.AbsoluteVersion).Msg("recorded")
	return nil
}

func logVersionChange(logger *zerolog.Logger, previous *stores.InstalledPackage, m *manifest.Manifest) {
	event := logger.Info().Str("from", previous.Version).Str("to", m.Version)

	if previous.Version == manifest.GitVersion || m.IsGit() {
		event.Msg("reinstalling")
		return
	}
	oldV, errOld := manifest.ParseVersion(previous.Version)
	newV, errNew := m.ParsedVersion()
	if errOld != nil || errNew != nil {
		event.Msg("reinstalling")
		return
	}
	switch c := newV.Compare(oldV); {
	case c > 0:
		event.Msg("upgrading")
	case c < 0:
		event.Msg("downgrading")
	default:
		event.Msg("reinstalling")
	}
}

// runHook runs hook if the manifest defines it. A missing hook is a no-op.
func (e *Engine) runHook(ctx context.Context, wc *WorkContext, hook string) error {
	if !wc.Manifest.HasHook(hook) {
		zerolog.Ctx(ctx).Debug().Str("hook", hook).Msg("hook not defined; skipping")
		return nil
	}

	if e.opts.HookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.HookTimeout)
		defer cancel()
	}

	zerolog.Ctx(ctx).Info().Str("hook", hook).Msg("running hook")
	if err := e.deps.Sandbox.RunHook(ctx, wc.Manifest, hook, wc.HookContext(e.opts.NProc)); err != nil {
		e.deps.Telemetry.Metrics.RecordHookFailure(hook)
		class := ClassHook
		if errors.Is(err, context.Canceled) {
			class = ClassAborted
		}
		return NewError(class, string(wc.Operation), wc.Name, err)
	}
	return nil
}

// appendEvent records history when a ledger is available. History is
// best-effort: a failure is logged, never returned.
func (e *Engine) appendEvent(ctx context.Context, name string, op Operation, status stores.EventStatus, cause error) {
	if e.deps.Ledger == nil {
		return
	}
	event := &stores.Event{
		RunID:     e.deps.Telemetry.RunID,
		Package:   name,
		Operation: string(op),
		Status:    status,
		Timestamp: e.deps.Now(),
	}
	if cause != nil {
		event.Message = cause.Error()
	}
	if err := e.deps.Ledger.AppendEvent(ctx, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to append history event")
	}
}
