package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError means no usable HTTP response arrived: dial failures,
// timeouts, cancelled contexts and truncated bodies.
type NetworkError struct {
	Source string
	Err    error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network: %v", e.Source, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a response with a non-2xx status.
type HTTPError struct {
	Source string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s: http %d %s", e.Source, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NormalizationError means the response shape was not recognized.
type NormalizationError struct {
	Source string
	Err    error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s: normalize: %v", e.Source, e.Err)
}
func (e *NormalizationError) Unwrap() error { return e.Err }

// Kind returns a short label for the error class, used for logs and metrics.
func Kind(err error) string {
	var (
		netErr  *NetworkError
		httpErr *HTTPError
		normErr *NormalizationError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &normErr):
		return "normalization"
	default:
		return "other"
	}
}
