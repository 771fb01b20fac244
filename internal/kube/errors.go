// Package kube provides the HTTP side of talking to a Kubernetes API
// server: session construction, request execution with retry, response
// checking, collection listing, and resource-scope discovery.
package kube

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, kube.ErrGone) to check.
var (
	ErrBadRequest   = errors.New("kube: bad request")
	ErrUnauthorized = errors.New("kube: unauthorized")
	ErrForbidden    = errors.New("kube: forbidden")
	ErrNotFound     = errors.New("kube: not found")
	ErrConflict     = errors.New("kube: conflict")
	ErrGone         = errors.New("kube: resource version gone")
	ErrInvalid      = errors.New("kube: invalid")
	ErrThrottled    = errors.New("kube: throttled")
	ErrServerError  = errors.New("kube: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the
// server's explanation. When the body was a Kubernetes Status object it
// is kept in Status; Message always holds the text to show the user.
type APIError struct {
	StatusCode int
	Status     *metav1.Status
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Status != nil && e.Status.Reason != "" {
		return fmt.Sprintf("kube: HTTP %d (%s): %s", e.StatusCode, e.Status.Reason, e.Message)
	}

	return fmt.Sprintf("kube: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// newAPIError builds an APIError from a non-2xx response body. The API
// server answers with a Status object; anything else is kept verbatim.
func newAPIError(code int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: code,
		Message:    string(body),
		Err:        classifyStatus(code),
	}

	var status metav1.Status
	if err := json.Unmarshal(body, &status); err == nil && status.Kind == "Status" {
		apiErr.Status = &status
		if status.Message != "" {
			apiErr.Message = status.Message
		}
	}

	return apiErr
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusUnprocessableEntity:
		return ErrInvalid
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
