// File: xfer/errors.go
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy for units and sessions.

package xfer

import (
	"errors"
	"fmt"
)

var (
	// Parameter errors.
	ErrBadParam  = errors.New("xfer: bad parameter")
	ErrBadHandle = errors.New("xfer: invalid or closed unit")

	// ErrBadFunction is returned when an operation is not allowed in the
	// unit's current state (blocking perform on a unit owned by a session).
	ErrBadFunction = errors.New("xfer: function not allowed in this state")

	// Ownership protocol errors.
	ErrAlreadyOwned   = errors.New("xfer: unit already owned by this session")
	ErrOwnedElsewhere = errors.New("xfer: unit owned by another session")
	ErrAlreadyRemoved = errors.New("xfer: unit not owned by any session")

	// ErrInternal wraps every engine failure not covered above.
	ErrInternal = errors.New("xfer: internal error")

	// ErrSessionStopped is handed to done callbacks of units force-completed
	// by a session stop, and wrapped by operations on a stopped session.
	ErrSessionStopped = errors.New("xfer: session stopped")
)

var errStopped = fmt.Errorf("%w: %w", ErrInternal, ErrSessionStopped)

func engineErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
