package fault

import "fmt"

// ValidationError indicates malformed input: message length, deadline, progress range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// AuthorizationError indicates the caller is not the owner or admin.
type AuthorizationError struct {
	Reason string
}

func (e AuthorizationError) Error() string { return e.Reason }

// InvalidStateError indicates an operation illegal for the promise's current status.
type InvalidStateError struct {
	Status string
	Reason string
}

func (e InvalidStateError) Error() string {
	if e.Status == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (status %s)", e.Reason, e.Status)
}

// ConflictError indicates a duplicate pending delete request.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// UpstreamError wraps an unexpected store failure. Callers must treat it as
// unknown outcome and re-query before retrying a write.
type UpstreamError struct {
	Op  string
	Err error
}

func (e UpstreamError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e UpstreamError) Unwrap() error { return e.Err }
