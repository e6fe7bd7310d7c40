package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const (
	threadCtxKey  = "sl-pkg.ctx"
	threadHookKey = "sl-pkg.hook"

	// DefaultMaxSteps bounds Starlark interpretation, not the commands hooks run.
	DefaultMaxSteps = 10_000_000
)

var (
	// ErrMissingHook is returned when the manifest does not define a hook.
	ErrMissingHook = errors.New("hook not defined")

	// ErrHookFailed is returned when a hook returns False.
	ErrHookFailed = errors.New("hook reported failure")
)

// HookError wraps a failure raised while running a named hook.
type HookError struct {
	Hook string
	Err  error
}

// Error implements the error interface.
func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook: %v", e.Hook, e.Err)
}

// Unwrap returns the underlying error.
func (e *HookError) Unwrap() error {
	return e.Err
}

// HookContext carries the package paths a hook may work with.
type HookContext struct {
	Name     string
	Version  string
	PkgDir   string
	SrcDir   string
	BuildDir string
	// WorkDir is the default directory for run(). Relative dir= arguments
	// resolve against it and must stay under PkgDir.
	WorkDir string
	Patches []string
	NProc   int
	// Env is exported to every command on top of the allow-listed host
	// environment.
	Env map[string]string
}

// Sandbox evaluates package manifests and runs their hooks. The only
// side-effecting builtin is run(), which executes an argv without a shell.
type Sandbox struct {
	executor Executor
	logger   zerolog.Logger
	maxSteps uint64
	nproc    int
	hostEnv  func() []string
	stdout   io.Writer
	stderr   io.Writer
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithExecutor replaces the command executor.
func WithExecutor(e Executor) Option {
	return func(s *Sandbox) { s.executor = e }
}

// WithLogger sets the logger used for print() output and command tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sandbox) { s.logger = l }
}

// WithMaxSteps sets the Starlark execution step budget.
func WithMaxSteps(n uint64) Option {
	return func(s *Sandbox) { s.maxSteps = n }
}

// WithNProc sets the NPROC global manifests see. Hooks get their NPROC
// from HookContext, so callers pass the same value to both.
func WithNProc(n int) Option {
	return func(s *Sandbox) {
		if n > 0 {
			s.nproc = n
		}
	}
}

// WithHostEnv sets the source of the host environment. Only allow-listed
// variables reach hook commands.
func WithHostEnv(fn func() []string) Option {
	return func(s *Sandbox) { s.hostEnv = fn }
}

// WithOutput redirects command output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Sandbox) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// NewSandbox creates a sandbox backed by real processes unless overridden.
func NewSandbox(opts ...Option) *Sandbox {
	s := &Sandbox{
		executor: ExecRunner{},
		logger:   zerolog.Nop(),
		maxSteps: DefaultMaxSteps,
		nproc:    runtime.NumCPU(),
		hostEnv:  os.Environ,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads and evaluates the manifest at path for the requested package.
func (s *Sandbox) Load(ctx context.Context, name, path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return s.Parse(ctx, name, path, src)
}

// Parse evaluates manifest source. Top-level code cannot call run().
func (s *Sandbox) Parse(ctx context.Context, name, path string, src []byte) (*Manifest, error) {
	thread, done := s.newThread(ctx, name, nil)
	defer done()

	globals, err := starlark.ExecFile(thread, path, src, s.predeclared())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}

	m, err := fromGlobals(name, path, src, globals)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RunHook calls the named hook. A hook fails when it raises or returns False.
func (s *Sandbox) RunHook(ctx context.Context, m *Manifest, hook string, hc *HookContext) error {
	fn, ok := m.hooks[hook]
	if !ok {
		return &HookError{Hook: hook, Err: ErrMissingHook}
	}

	thread, done := s.newThread(ctx, m.Name, hc)
	defer done()

	var args starlark.Tuple
	switch fn.NumParams() {
	case 0:
	case 1:
		args = starlark.Tuple{hookStruct(hc)}
	default:
		return &HookError{Hook: hook, Err: fmt.Errorf("expected 0 or 1 parameters, got %d", fn.NumParams())}
	}

	s.logger.Debug().Str("package", m.Name).Str("hook", hook).Msg("Running hook")

	result, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &HookError{Hook: hook, Err: ctxErr}
		}
		return &HookError{Hook: hook, Err: err}
	}
	if result == starlark.False {
		return &HookError{Hook: hook, Err: ErrHookFailed}
	}
	return nil
}

func (s *Sandbox) newThread(ctx context.Context, name string, hc *HookContext) (*starlark.Thread, func()) {
	logger := s.logger
	thread := &starlark.Thread{
		Name: "sl-pkg:" + name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info().Str("package", name).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)
	thread.SetLocal(threadCtxKey, ctx)
	if hc != nil {
		thread.SetLocal(threadHookKey, hc)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	return thread, func() { close(done) }
}

func (s *Sandbox) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"run":    starlark.NewBuiltin("run", s.builtinRun),
		"exists": starlark.NewBuiltin("exists", builtinExists),
		"NPROC":  starlark.MakeInt(s.nproc),
	}
}

// builtinRun implements run(*argv, dir="", env={}, check=True).
func (s *Sandbox) builtinRun(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	hc, _ := thread.Local(threadHookKey).(*HookContext)
	if hc == nil {
		return nil, fmt.Errorf("%s: only available inside hooks", b.Name())
	}
	ctx, _ := thread.Local(threadCtxKey).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		dir     string
		envDict *starlark.Dict
		check   = true
	)
	if err := starlark.UnpackArgs(b.Name(), nil, kwargs, "dir?", &dir, "env?", &envDict, "check?", &check); err != nil {
		return nil, err
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("%s: at least one argument is required", b.Name())
	}
	argv := make([]string, len(args))
	for i, arg := range args {
		str, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a string, got %s", b.Name(), i, arg.Type())
		}
		argv[i] = str
	}

	workDir, err := resolveDir(hc, dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	callEnv := make(map[string]string)
	if envDict != nil {
		for _, item := range envDict.Items() {
			key, ok1 := starlark.AsString(item[0])
			value, ok2 := starlark.AsString(item[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("%s: env keys and values must be strings", b.Name())
			}
			callEnv[key] = value
		}
	}

	s.logger.Debug().Str("package", hc.Name).Strs("argv", argv).Str("dir", workDir).Msg("Running command")

	code, err := s.executor.Run(ctx, Command{
		Argv:   argv,
		Dir:    workDir,
		Env:    buildEnv(s.hostEnv(), hc.Env, packageVars(hc), callEnv),
		Stdout: s.stdout,
		Stderr: s.stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if code != 0 && check {
		return nil, fmt.Errorf("%s: command %q exited with status %d", b.Name(), strings.Join(argv, " "), code)
	}

	return starlark.Bool(code == 0), nil
}

// builtinExists implements exists(path).
func builtinExists(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	_, err := os.Lstat(path)
	return starlark.Bool(err == nil), nil
}

// resolveDir confines a run() working directory to the package directory.
func resolveDir(hc *HookContext, dir string) (string, error) {
	base := hc.WorkDir
	if base == "" {
		base = hc.PkgDir
	}
	if dir == "" {
		return base, nil
	}

	path := dir
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(hc.PkgDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("directory %s escapes package directory %s", dir, hc.PkgDir)
	}
	return path, nil
}

func hookStruct(hc *HookContext) starlark.Value {
	patches := make([]starlark.Value, len(hc.Patches))
	for i, p := range hc.Patches {
		patches[i] = starlark.String(p)
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"name":     starlark.String(hc.Name),
		"version":  starlark.String(hc.Version),
		"pkgdir":   starlark.String(hc.PkgDir),
		"srcdir":   starlark.String(hc.SrcDir),
		"builddir": starlark.String(hc.BuildDir),
		"patches":  starlark.NewList(patches),
		"nproc":    starlark.MakeInt(hc.NProc),
	})
}
