package places

import (
	"fmt"
	"net/http"
)

// FetchError describes a failed call to the directory service. Status is zero
// when the request never produced a response.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// retryable reports whether the failure is transient: transport errors,
// throttling, or server-side statuses.
func (e *FetchError) retryable() bool {
	if e.Status == 0 {
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
