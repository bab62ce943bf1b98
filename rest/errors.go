package rest

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConnection reports that the request never got a response.
	ErrConnection = errors.New("rest: connection failed")

	// ErrUnexpectedResponse reports a response body that is not a valid
	// {"Success": ...} / {"Error": ...} envelope for the requested type.
	ErrUnexpectedResponse = errors.New("rest: unexpected response")
)

// RequestError wraps every error returned by Client. Err is ErrConnection,
// ErrUnexpectedResponse (possibly wrapped) or the hub.APIError the server
// answered with.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("rest: %s %s failed with status %d: %v", e.Method, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("rest: %s %s failed: %v", e.Method, e.Path, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
