package printer

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoUsableData is returned when a reply holds no response of the expected
// kind, or the status response lacks a status value.
var ErrNoUsableData = errors.New("no usable data in printer reply")

// TransportFault wraps any connection-level failure (refused, reset, timeout,
// generic I/O) raised while talking to the printer.
type TransportFault struct {
	Verb string
	Err  error
}

func (e *TransportFault) Error() string {
	return fmt.Sprintf("transport fault during %s: %v", e.Verb, e.Err)
}

func (e *TransportFault) Unwrap() error {
	return e.Err
}
