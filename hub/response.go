package hub

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Response is the envelope every REST response is wrapped in:
// {"Success": T} or {"Error": code}.
type Response[T any] struct {
	Success *T
	Error   *APIError
}

// Ok wraps a successful result.
func Ok[T any](v T) Response[T] {
	return Response[T]{Success: &v}
}

// Fail wraps a server error code.
func Fail[T any](code APIError) Response[T] {
	return Response[T]{Error: &code}
}

// Result unwraps the envelope.
func (r Response[T]) Result() (T, error) {
	var zero T
	switch {
	case r.Error != nil:
		return zero, *r.Error
	case r.Success != nil:
		return *r.Success, nil
	default:
		return zero, errors.New("hub: empty response envelope")
	}
}

func (r Response[T]) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(map[string]APIError{"Error": *r.Error})
	}
	var v T
	if r.Success != nil {
		v = *r.Success
	}
	return json.Marshal(map[string]T{"Success": v})
}

func (r *Response[T]) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode response envelope")
	}
	if len(raw) != 1 {
		return errors.Errorf("hub: response envelope has %d keys, want 1", len(raw))
	}
	if body, ok := raw["Error"]; ok {
		var code APIError
		if err := json.Unmarshal(body, &code); err != nil {
			return errors.Wrap(err, "decode error code")
		}
		r.Success, r.Error = nil, &code
		return nil
	}
	body, ok := raw["Success"]
	if !ok {
		return errors.New("hub: response envelope has neither Success nor Error")
	}
	var v T
	// An empty success body is allowed for endpoints that return nothing.
	if len(bytes.TrimSpace(body)) > 0 && !bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		if err := json.Unmarshal(body, &v); err != nil {
			return errors.Wrap(err, "decode success payload")
		}
	}
	r.Success, r.Error = &v, nil
	return nil
}
