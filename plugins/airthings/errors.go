package airthings

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse marks a 2xx response whose body could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// TimeoutError is returned when a request exceeds the fixed request timeout.
type TimeoutError struct {
	Endpoint string
	Err      error
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out: %v", e.Endpoint, e.Err)
}

func (e TimeoutError) Unwrap() error {
	return e.Err
}

// ForbiddenError is returned on 403; the client lacks the required scope.
type ForbiddenError struct {
	Endpoint string
	Body     string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("airthings api forbidden for %s (check that the API client has the %s scope): %s", e.Endpoint, Scope, strings.TrimSpace(e.Body))
}

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("airthings api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// NetworkError wraps transport-level failures.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("request %s: %v", e.Endpoint, e.Err)
}

func (e NetworkError) Unwrap() error {
	return e.Err
}

type unauthorizedError struct {
	body string
}

func (e unauthorizedError) Error() string {
	return fmt.Sprintf("airthings api unauthorized: %s", strings.TrimSpace(e.body))
}
