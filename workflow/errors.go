package workflow

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent marks an event that can never be processed: required
// fields are missing or structurally invalid. Callers must acknowledge and
// drop it instead of retrying.
var ErrMalformedEvent = errors.New("malformed order event")

// ErrEventInProgress means another worker holds the STARTED idempotency
// record for this event. The source should redeliver later.
var ErrEventInProgress = errors.New("event processing in progress")

var ErrBlankNotFound = errors.New("blank sku not found")

var ErrBlankInactive = errors.New("blank sku is inactive")

// TransientError wraps a store or network failure that is safe to retry:
// nothing was committed, the whole operation can run again from scratch.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether the caller should retry the whole operation.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrEventInProgress)
}
