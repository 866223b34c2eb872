package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout        = errors.New("execution timed out")
	ErrHostCallQuota  = errors.New("host call quota exceeded")
	ErrInvalidModule  = errors.New("invalid wasm module")
	ErrInvalidRequest = errors.New("invalid sandbox request")
)

// InvokeError wraps errors with invocation context.
type InvokeError struct {
	PluginID string
	Op       string // The exported function that failed
	Err      error
}

func (e *InvokeError) Error() string {
	if e.PluginID != "" {
		return fmt.Sprintf("plugin %s: %s: %s", e.PluginID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *InvokeError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsQuotaExceeded returns true if the error is a host call quota violation.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrHostCallQuota)
}
