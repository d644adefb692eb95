package fabric

import (
	"errors"
	"fmt"
)

// ErrSkipped marks a step that was not attempted because a step it depends
// on failed.
var ErrSkipped = errors.New("skipped")

// PreconditionError reports an invalid inventory or configuration. It is
// raised before any switch is contacted.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// UnreachableError reports a switch that could not be contacted.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("switch %s unreachable", e.Host)
	}
	return fmt.Sprintf("switch %s unreachable: %v", e.Host, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// AuthenticationError reports rejected credentials. Retrying cannot help.
type AuthenticationError struct {
	Host   string
	Detail string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed on %s: %s", e.Host, e.Detail)
}

// CommandError is a configuration call that still failed after retries.
type CommandError struct {
	Switch   string
	Step     string
	Attempts int
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s on %s failed after %d attempt(s): %v", e.Step, e.Switch, e.Attempts, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// AllocationExhaustedError reports an address pool or identifier space
// with nothing left to hand out.
type AllocationExhaustedError struct {
	Resource string
}

func (e *AllocationExhaustedError) Error() string {
	return e.Resource + " exhausted"
}

// IsUnreachable reports whether err carries an UnreachableError.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// IsAuthentication reports whether err carries an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsExhausted reports whether err carries an AllocationExhaustedError.
func IsExhausted(err error) bool {
	var xe *AllocationExhaustedError
	return errors.As(err, &xe)
}
