package engine

import (
	"errors"
	"fmt"
)

// ErrorClass groups failures by how the CLI reacts to them.
type ErrorClass string

const (
	// ClassConfig covers unreadable or invalid configuration and bad usage.
	// It aborts the process before side effects.
	ClassConfig ErrorClass = "config"

	// ClassAcquisition covers manifest, source, patch and repository retrieval
	// and extraction. It aborts the current package.
	ClassAcquisition ErrorClass = "acquisition"

	// ClassHook covers failing manifest hooks and the bootstrap child.
	ClassHook ErrorClass = "hook"

	// ClassPrivilege is returned when root is required but not held.
	ClassPrivilege ErrorClass = "privilege"

	// ClassLedger covers installed-package store failures.
	ClassLedger ErrorClass = "ledger"

	// ClassPolicy covers invalid manifests and trust policy denials.
	ClassPolicy ErrorClass = "policy"

	// ClassAborted covers operator refusal and interruption.
	ClassAborted ErrorClass = "aborted"
)

var (
	// ErrPackageNotFound is returned when the mirror has no manifest for a package.
	ErrPackageNotFound = errors.New("package not found")

	// ErrOperatorAborted is returned when the operator declines a package.
	ErrOperatorAborted = errors.New("aborted by operator")

	// ErrPolicyDenied is returned when a trust policy blocks a package.
	ErrPolicyDenied = errors.New("denied by policy")

	// ErrNotInstalled is returned by detection for packages whose detect hook failed.
	ErrNotInstalled = errors.New("not installed")
)

// Error is a classified failure of one operation on one package.
type Error struct {
	Class   ErrorClass
	Op      string
	Package string
	Err     error
}

// NewError creates a classified error.
func NewError(class ErrorClass, op, pkg string, err error) *Error {
	return &Error{Class: class, Op: op, Package: pkg, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Package != "" && e.Op != "":
		return fmt.Sprintf("[%s] %s %s: %v", e.Class, e.Op, e.Package, e.Err)
	case e.Op != "":
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Op, e.Err)
	default:
		return fmt.Sprintf("[%s] %v", e.Class, e.Err)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// ClassOf returns the class of the first classified error in err's tree,
// or "" when there is none.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsClass reports whether err carries the given class anywhere in its tree.
func IsClass(err error, class ErrorClass) bool {
	return errors.Is(err, &Error{Class: class})
}

// Exit codes returned by the CLI.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitPrivilege = 3
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsClass(err, ClassPrivilege):
		return ExitPrivilege
	case ClassOf(err) == ClassConfig:
		return ExitConfig
	default:
		return ExitFailure
	}
}
