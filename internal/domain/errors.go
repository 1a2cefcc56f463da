package domain

import "fmt"

// RunNotFoundError is returned when the log endpoint answers 404: the run is
// not yet known to the server, or its logs have expired. Pollers treat it as
// "not ready yet" and retry silently.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// ServiceUnavailableError is returned when the remote service answered
// 502/503, or when the request never produced a response at all
// (StatusCode 0). Both route to the dedicated unavailable backoff track.
type ServiceUnavailableError struct {
	StatusCode int
	Reason     string
}

func (e *ServiceUnavailableError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("service unreachable: %s", e.Reason)
	}
	return fmt.Sprintf("service unavailable (%d): %s", e.StatusCode, e.Reason)
}

// HTTPStatusError is returned for any other non-2xx response, or for a 2xx
// response whose body could not be decoded.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected response (%d): %s", e.StatusCode, e.Message)
}

// MissingRunIDError indicates a log poller was constructed without a run id.
// This is a programming error, not an operating condition.
type MissingRunIDError struct{}

func (e *MissingRunIDError) Error() string {
	return "log poller requires a run id"
}
