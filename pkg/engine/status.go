package engine

import (
	"fmt"
)

// Operation is a top-level lifecycle operation on one package.
type Operation string

const (
	OpInstall  Operation = "install"
	OpDownload Operation = "download"
	OpDetect   Operation = "detect"
)

// Step is one phase of the package lifecycle.
type Step string

const (
	StepFetchManifest Step = "fetch_manifest"
	StepInspect       Step = "inspect"
	StepDownload      Step = "download"
	StepBuild         Step = "build"
	StepInstall       Step = "install"
	StepRecord        Step = "record"
	StepDetect        Step = "detect"
)

// Validate checks if the step is valid.
func (s Step) Validate() error {
	switch s {
	case StepFetchManifest, StepInspect, StepDownload, StepBuild,
		StepInstall, StepRecord, StepDetect:
		return nil
	default:
		return fmt.Errorf("invalid step: %s", s)
	}
}

// Steps returns the steps op runs, in order. build adds BUILD to downloads.
func Steps(op Operation, build bool) []Step {
	switch op {
	case OpInstall:
		return []Step{StepFetchManifest, StepInspect, StepDownload, StepBuild, StepInstall, StepRecord}
	case OpDownload:
		if build {
			return []Step{StepFetchManifest, StepInspect, StepDownload, StepBuild}
		}
		return []Step{StepFetchManifest, StepInspect, StepDownload}
	case OpDetect:
		return []Step{StepFetchManifest, StepInspect, StepDetect}
	default:
		return nil
	}
}

// RunStatus summarises a batch of package operations.
type RunStatus string

const (
	// RunStatusSucceeded indicates every package succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates no package succeeded.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some packages failed under keep-going.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the batch was interrupted.
	RunStatusCancelled RunStatus = "cancelled"
)

// summarise derives the batch status from counts.
func summarise(total, failed int, cancelled bool) RunStatus {
	switch {
	case cancelled:
		return RunStatusCancelled
	case failed == 0:
		return RunStatusSucceeded
	case failed >= total:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}
