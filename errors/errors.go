// Package errors provides error handling for subman.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints attached to failures
//   - Marks, so typed errors match the taxonomy sentinels below
//
// Usage:
//
//	// Wrap with context
//	if err := resolve(); err != nil {
//	    return errors.Wrapf(err, "failed to resolve %s", name)
//	}
//
//	// Classify a failure so callers can branch on it
//	return errors.Mark(errors.Newf("registry returned %d", code), errors.ErrNetworkFailure)
//
//	// Add hints for users
//	return errors.WithHint(err, "re-run with --override to replace the source")
//
//	// Check errors
//	if errors.Is(err, errors.ErrNetworkFailure) {
//	    // retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors forming the engine's taxonomy.
// Typed errors in the domain packages match these through errors.Is.
var (
	// ErrNotFound indicates a crate, ref or path does not exist
	ErrNotFound = New("not found")

	// ErrNoSatisfyingVersion indicates the crate exists but no version meets the constraint
	ErrNoSatisfyingVersion = New("no satisfying version")

	// ErrNetworkFailure indicates a transient transport failure; retried with backoff
	ErrNetworkFailure = New("network failure")

	// ErrAuthFailure indicates the registry or remote rejected our credentials; never retried
	ErrAuthFailure = New("authentication failed")

	// ErrManifestParse indicates the existing dependency manifest is malformed
	ErrManifestParse = New("manifest parse error")

	// ErrCompositionParse indicates the runtime composition source could not be understood
	ErrCompositionParse = New("composition parse error")

	// ErrBlocked indicates a plan was refused because of an incompatible source change
	ErrBlocked = New("integration blocked")

	// ErrIOFailure indicates a read or write of a project file failed before anything changed
	ErrIOFailure = New("i/o failure")

	// ErrRolledBack indicates a transaction failed and every file was restored
	ErrRolledBack = New("transaction rolled back")

	// ErrRollbackFailed indicates restoration itself failed; manual recovery is required
	ErrRollbackFailed = New("rollback failed")

	// ErrCancelled indicates the caller cancelled the operation
	ErrCancelled = New("cancelled")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Only network failures qualify; auth failures never do, even when wrapped together.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrNetworkFailure) && !Is(err, ErrAuthFailure)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}
