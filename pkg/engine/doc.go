// Package engine drives packages through the sl-pkg lifecycle.
//
// # Overview
//
// Every package operation runs a fixed sequence of steps against one
// WorkContext:
//
//  1. FETCH_MANIFEST - create the package directory and fetch PACKAGE from the mirror
//  2. INSPECT - evaluate the manifest, apply trust policies and ask the operator
//  3. DOWNLOAD - fetch the source tarball and patches, or clone/pull a git repository
//  4. BUILD - extract the tarball into a fresh build directory and run prepare and build
//  5. INSTALL - run do_install and postinst
//  6. RECORD - upsert the installed-package ledger
//
// Install runs all six. Download stops after DOWNLOAD, or after BUILD when
// requested. Detect runs FETCH_MANIFEST and INSPECT, then the manifest's detect
// hook, and reconciles the ledger with the outcome (see Reconcile).
//
// # Errors
//
// Failures are returned as *Error carrying an ErrorClass. The CLI maps classes
// to exit codes with ExitCode. Acquisition, policy and ledger failures always
// abort the package; hook failures during BUILD and INSTALL are tolerated when
// ForceInstall is set, and the package is still recorded.
//
// # Batches
//
// RunBatch applies an operation to packages in order. Without KeepGoing the
// first failure ends the batch; with it every failure is collected and joined
// with errors.Join.
package engine
