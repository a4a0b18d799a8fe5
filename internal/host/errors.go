package host

import (
	"errors"

	"github.com/hyperengineering/paramlore/internal/types"
)

var (
	// ErrWriteRejected indicates the host refused a write.
	ErrWriteRejected = errors.New("write rejected")

	// ErrUnknownParameter indicates the named attribute does not exist.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrUnsupported indicates the host lacks an optional capability.
	ErrUnsupported = errors.New("capability not supported")

	// ErrRestoreFailed indicates a parameter could not be returned to its
	// pre-probe value.
	ErrRestoreFailed = errors.New("restore failed")
)

// RestoreError reports a parameter left in a modified state.
type RestoreError struct {
	Name     string
	Original types.Value
	Err      error
}

// Error implements the error interface.
func (e *RestoreError) Error() string {
	msg := "restore " + e.Name + " to " + e.Original.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns both the restore sentinel and the last underlying failure.
func (e *RestoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRestoreFailed}
	}
	return []error{ErrRestoreFailed, e.Err}
}
