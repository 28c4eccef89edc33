package reactive

import (
	"errors"

	"github.com/samsarahq/go/oops"
)

// ErrWrongState is returned (wrapped) whenever an operation is invoked in a
// state that forbids it: reading Output while Computing, SetOutput when not
// Computing, AddUsed when Consistent, AddUsedBy when Computing. These are
// programmer errors in the caller, not runtime conditions to recover from,
// but Go favors returning them over panicking so callers can choose.
var ErrWrongState = errors.New("reactive: operation invalid in current state")

func wrongStateError(op string, s State) error {
	return oops.Wrapf(ErrWrongState, "%s: invalid while %s", op, s)
}
