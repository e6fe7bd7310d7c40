// Package inspect implements the operator review gate shown before a
// downloaded manifest is trusted.
package inspect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/scratchlinux/slpkg/pkg/manifest"
)

// ErrNoTerminal is returned when a review is required but stdin is not a
// terminal. Pass --trust-all to skip the review.
var ErrNoTerminal = errors.New("manifest review requires a terminal (use --trust-all to skip)")

// DefaultViewer is used when neither PAGER nor EDITOR is set.
const DefaultViewer = "less"

// Reviewer asks the operator whether a package may proceed.
type Reviewer interface {
	Review(ctx context.Context, name, manifestPath string) (bool, error)
}

// Terminal prompts on a terminal and opens the manifest in a viewer.
type Terminal struct {
	in     *bufio.Reader
	out    io.Writer
	isTTY  func() bool
	viewer []string
	exec   manifest.Executor
	logger zerolog.Logger
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithIO replaces stdin and stderr.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Terminal) {
		t.in = bufio.NewReader(in)
		t.out = out
	}
}

// WithTTYCheck replaces the terminal detection.
func WithTTYCheck(isTTY func() bool) Option {
	return func(t *Terminal) { t.isTTY = isTTY }
}

// WithExecutor replaces the process runner used for the viewer.
func WithExecutor(exec manifest.Executor) Option {
	return func(t *Terminal) { t.exec = exec }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Terminal) { t.logger = logger }
}

// NewTerminal returns a reviewer using the first non-empty of pager, editor
// and DefaultViewer. The viewer value may carry arguments ("less -R").
func NewTerminal(pager, editor string, opts ...Option) *Terminal {
	viewer := pager
	if strings.TrimSpace(viewer) == "" {
		viewer = editor
	}
	if strings.TrimSpace(viewer) == "" {
		viewer = DefaultViewer
	}

	t := &Terminal{
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stderr,
		isTTY:  func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		viewer: strings.Fields(viewer),
		exec:   manifest.ExecRunner{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Viewer returns the viewer argv prefix.
func (t *Terminal) Viewer() []string {
	return t.viewer
}

// Review implements Reviewer. Declining the inspection lets the package
// proceed; after viewing, the operator must confirm.
func (t *Terminal) Review(ctx context.Context, name, manifestPath string) (bool, error) {
	if !t.isTTY() {
		return false, ErrNoTerminal
	}
	if _, err := os.Stat(manifestPath); err != nil {
		return false, fmt.Errorf("failed to find manifest for %s: %w", name, err)
	}

	inspect, err := t.ask(fmt.Sprintf("inspect PACKAGE file for %s? (highly recommended) ", name))
	if err != nil {
		return false, err
	}
	if !inspect {
		return true, nil
	}

	argv := append(append([]string{}, t.viewer...), manifestPath)
	t.logger.Debug().Strs("argv", argv).Msg("opening manifest viewer")
	code, err := t.exec.Run(ctx, manifest.Command{
		Argv:   argv,
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return false, fmt.Errorf("failed to run viewer %s: %w", t.viewer[0], err)
	}
	if code != 0 {
		t.logger.Warn().Int("exit_code", code).Str("viewer", t.viewer[0]).Msg("viewer exited with an error")
	}

	return t.ask("continue operations? ")
}

// ask prints prompt and reads one line. Only answers starting with y or Y
// are affirmative.
func (t *Terminal) ask(prompt string) (bool, error) {
	fmt.Fprint(t.out, prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	return YesOrNo(line), nil
}

// YesOrNo reports whether an answer is affirmative.
func YesOrNo(answer string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")
}

// TrustAll approves every package without asking.
type TrustAll struct{}

// Review implements Reviewer.
func (TrustAll) Review(context.Context, string, string) (bool, error) {
	return true, nil
}
