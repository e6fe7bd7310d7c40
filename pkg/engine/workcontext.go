package engine

import (
	"path/filepath"

	"github.com/scratchlinux/slpkg/pkg/manifest"
)

// ManifestFile is the name of the manifest inside a package directory.
const ManifestFile = "PACKAGE"

// buildDirName is the extraction directory for tarball packages.
const buildDirName = "build"

// WorkContext is the per-package state threaded through every step. Paths
// are absolute so no step depends on the process working directory.
type WorkContext struct {
	Name         string
	Operation    Operation
	Root         string
	PkgDir       string
	ManifestPath string
	Manifest     *manifest.Manifest

	// SrcDir is the source tree: the git working copy or BuildDir.
	SrcDir      string
	BuildDir    string
	ArchivePath string
	Patches     []string
	Env         map[string]string

	// Forced is set when a hook failure was tolerated under force-install.
	Forced bool

	createdDir   bool
	detected     bool
	ledgerAction LedgerAction
}

func newWorkContext(op Operation, root, name string, env map[string]string) *WorkContext {
	return &WorkContext{
		Name:      name,
		Operation: op,
		Root:      root,
		Env:       env,
	}
}

// gitDir is where a git package's working copy lives.
func (w *WorkContext) gitDir() string {
	return filepath.Join(w.PkgDir, w.Name)
}

// HookContext returns the paths exposed to manifest hooks.
func (w *WorkContext) HookContext(nproc int) *manifest.HookContext {
	workDir := w.SrcDir
	if workDir == "" {
		workDir = w.PkgDir
	}
	version := ""
	if w.Manifest != nil {
		version = w.Manifest.Version
	}
	return &manifest.HookContext{
		Name:     w.Name,
		Version:  version,
		PkgDir:   w.PkgDir,
		SrcDir:   w.SrcDir,
		BuildDir: w.BuildDir,
		WorkDir:  workDir,
		Patches:  w.Patches,
		NProc:    nproc,
		Env:      w.Env,
	}
}
