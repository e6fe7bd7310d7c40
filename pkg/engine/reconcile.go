package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/scratchlinux/slpkg/pkg/manifest"
	"github.com/scratchlinux/slpkg/pkg/stores"
)

// LedgerAction is the change detection applies to one ledger row.
type LedgerAction string

const (
	LedgerInsert    LedgerAction = "insert"
	LedgerDelete    LedgerAction = "delete"
	LedgerUnchanged LedgerAction = "unchanged"
)

// Reconcile decides the ledger change from a detection outcome and whether
// the package already has a row. Existing rows are never refreshed.
func Reconcile(installed, recorded bool) LedgerAction {
	switch {
	case installed && !recorded:
		return LedgerInsert
	case !installed && recorded:
		return LedgerDelete
	default:
		return LedgerUnchanged
	}
}

// DetectResult is the outcome of detecting one package.
type DetectResult struct {
	Name      string       `json:"name" yaml:"name"`
	Installed bool         `json:"installed" yaml:"installed"`
	Action    LedgerAction `json:"action" yaml:"action"`
	Err       error        `json:"-" yaml:"-"`
}

// Detect runs FETCH_MANIFEST, INSPECT and the detect hook for name, then
// reconciles the ledger. A package that is not installed returns
// ErrNotInstalled after its row, if any, has been removed.
func (e *Engine) Detect(ctx context.Context, name string) (*DetectResult, error) {
	result := &DetectResult{Name: name, Action: LedgerUnchanged}
	if e.deps.Ledger == nil {
		err := NewError(ClassConfig, string(OpDetect), name, errors.New("ledger is required for detect"))
		result.Err = err
		return result, err
	}

	err := e.runPackage(ctx, OpDetect, name, func(ctx context.Context, wc *WorkContext) error {
		if err := e.runSteps(Steps(OpDetect, false))(ctx, wc); err != nil {
			return err
		}
		result.Installed = wc.detected
		result.Action = wc.ledgerAction
		if !wc.detected {
			return NewError(ClassHook, string(OpDetect), name, ErrNotInstalled)
		}
		return nil
	})
	result.Err = err
	return result, err
}

// DetectAll detects every package. Detection never stops early; the joined
// error is nil only if every package was detected as installed.
func (e *Engine) DetectAll(ctx context.Context, names []string) ([]*DetectResult, error) {
	results := make([]*DetectResult, 0, len(names))
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, NewError(ClassAborted, string(OpDetect), name, err))
			break
		}
		r, err := e.Detect(ctx, name)
		results = append(results, r)
		if err != nil {
			errs = append(errs, err)
		}
	}

	installed := 0
	for _, r := range results {
		if r.Installed {
			installed++
		}
	}
	e.logger.Info().
		Int("packages", len(names)).
		Int("installed", installed).
		Msg("detection finished")

	return results, errors.Join(errs...)
}

func (e *Engine) detect(ctx context.Context, wc *WorkContext) error {
	op := string(OpDetect)
	logger := zerolog.Ctx(ctx)

	if !wc.Manifest.HasHook(manifest.HookDetect) {
		return NewError(ClassHook, op, wc.Name, fmt.Errorf("%w: %s", manifest.ErrMissingHook, manifest.HookDetect))
	}

	wc.SrcDir = wc.PkgDir
	err := e.deps.Sandbox.RunHook(ctx, wc.Manifest, manifest.HookDetect, wc.HookContext(e.opts.NProc))
	switch {
	case err == nil:
		wc.detected = true
	case errors.Is(err, context.Canceled):
		return NewError(ClassAborted, op, wc.Name, err)
	default:
		// Any hook failure, raised or returned, means not installed.
		logger.Debug().Err(err).Msg("detect hook failed")
		wc.detected = false
	}

	recorded, err := e.deps.Ledger.Exists(ctx, wc.Name)
	if err != nil {
		return NewError(ClassLedger, op, wc.Name, err)
	}

	wc.ledgerAction = Reconcile(wc.detected, recorded)
	switch wc.ledgerAction {
	case LedgerInsert:
		m := wc.Manifest
		if err := e.deps.Ledger.Upsert(ctx, wc.Name, m.Version, m.AbsoluteVersion, e.deps.Now()); err != nil {
			return NewError(ClassLedger, op, wc.Name, err)
		}
		e.deps.Telemetry.Metrics.RecordLedgerChange(string(LedgerInsert))
	case LedgerDelete:
		if err := e.deps.Ledger.Delete(ctx, wc.Name); err != nil {
			return NewError(ClassLedger, op, wc.Name, err)
		}
		e.deps.Telemetry.Metrics.RecordLedgerChange(string(LedgerDelete))
	}

	status := stores.EventStatusAbsent
	if wc.detected {
		status = stores.EventStatusDetected
	}
	e.appendEvent(ctx, wc.Name, OpDetect, status, nil)
	logger.Info().
		Bool("installed", wc.detected).
		Str("ledger", string(wc.ledgerAction)).
		Msg("detected")
	return nil
}
