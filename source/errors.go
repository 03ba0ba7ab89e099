package source

import (
	"fmt"

	"github.com/teranos/subman/errors"
)

// Failure classifies why a descriptor could not be resolved
type Failure int

const (
	NotFound Failure = iota
	NoSatisfyingVersion
	NetworkFailure
	AuthFailure
)

func (f Failure) String() string {
	switch f {
	case NotFound:
		return "not found"
	case NoSatisfyingVersion:
		return "no satisfying version"
	case NetworkFailure:
		return "network failure"
	case AuthFailure:
		return "authentication failed"
	default:
		return "unknown failure"
	}
}

func (f Failure) sentinel() error {
	switch f {
	case NotFound:
		return errors.ErrNotFound
	case NoSatisfyingVersion:
		return errors.ErrNoSatisfyingVersion
	case NetworkFailure:
		return errors.ErrNetworkFailure
	case AuthFailure:
		return errors.ErrAuthFailure
	default:
		return nil
	}
}

// ResolutionError reports a descriptor that could not be resolved.
// It matches the errors.Err* sentinel of its Failure through errors.Is.
type ResolutionError struct {
	Failure  Failure
	Pallet   string
	Source   string // index URL, remote or path that was consulted
	Attempts int
	Err      error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s: %s", e.Pallet, e.Failure)
	if e.Source != "" {
		msg += " (" + e.Source + ")"
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *ResolutionError) Is(target error) bool {
	s := e.Failure.sentinel()
	return s != nil && target == s
}

func failure(f Failure, d Descriptor, src string, cause error) error {
	return &ResolutionError{Failure: f, Pallet: d.Name(), Source: src, Attempts: 1, Err: cause}
}

func failuref(f Failure, d Descriptor, src, format string, args ...interface{}) error {
	return failure(f, d, src, errors.Newf(format, args...))
}
