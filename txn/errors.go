package txn

import (
	"fmt"
	"strings"

	"github.com/teranos/subman/errors"
)

// Failure classifies a failed transaction
type Failure int

const (
	// IOFailure: a project file could not be read or snapshotted; nothing was written
	IOFailure Failure = iota
	// RolledBack: the transaction failed and every file was restored
	RolledBack
	// RollbackFailed: restoring failed; snapshot copies are left for manual recovery
	RollbackFailed
)

func (f Failure) String() string {
	switch f {
	case IOFailure:
		return "i/o failure"
	case RolledBack:
		return "rolled back"
	case RollbackFailed:
		return "rollback failed"
	default:
		return "unknown"
	}
}

// TransactionError reports a plan that was not committed
type TransactionError struct {
	Kind Failure
	TxID string

	// Snapshots maps each file that may be damaged to its preserved copy
	Snapshots map[string]string

	Err         error // what made the transaction fail
	RollbackErr error // what made the rollback fail
}

func (e *TransactionError) Error() string {
	msg := fmt.Sprintf("transaction %s %s", e.TxID, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.RollbackErr != nil {
		msg += "; restore: " + e.RollbackErr.Error()
	}
	return msg
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool {
	switch e.Kind {
	case IOFailure:
		return target == errors.ErrIOFailure
	case RolledBack:
		return target == errors.ErrRolledBack
	case RollbackFailed:
		return target == errors.ErrRollbackFailed
	}
	return false
}

// recoveryHint tells the user how to restore files by hand
func recoveryHint(snapshots map[string]string) string {
	var b strings.Builder
	b.WriteString("automatic recovery is not safe; restore these files by hand:")
	for file, snap := range snapshots {
		fmt.Fprintf(&b, "\n  mv %s %s", snap, file)
	}
	return b.String()
}
