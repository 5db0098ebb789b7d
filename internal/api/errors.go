package api

import "fmt"

// StatusError is returned for any non-2xx response
type StatusError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("menu api error %d on %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// Temporary reports whether retrying the same request may succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
