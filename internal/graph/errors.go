// Package graph provides an HTTP client for the Microsoft Graph drive API
// with token injection, automatic retry, and error classification.
package graph

import (
	"fmt"
	"io/fs"
	"net/http"
)

// kindError is a sentinel that optionally maps onto an io/fs error so callers
// holding a filesystem view can test errors.Is(err, fs.ErrNotExist).
type kindError struct {
	msg string
	fs  error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.fs }

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graph.ErrNotFound) to check.
var (
	ErrBadRequest          error = &kindError{msg: "graph: bad request"}
	ErrForbidden           error = &kindError{msg: "graph: forbidden", fs: fs.ErrPermission}
	ErrNotFound            error = &kindError{msg: "graph: not found", fs: fs.ErrNotExist}
	ErrConflict            error = &kindError{msg: "graph: conflict", fs: fs.ErrExist}
	ErrGone                error = &kindError{msg: "graph: resource gone", fs: fs.ErrNotExist}
	ErrLocked              error = &kindError{msg: "graph: resource locked"}
	ErrRangeNotSatisfiable error = &kindError{msg: "graph: range not satisfiable"}
	ErrThrottled           error = &kindError{msg: "graph: throttled"}
	ErrUnavailable         error = &kindError{msg: "graph: service unavailable"}
	ErrAuthExpired         error = &kindError{msg: "graph: authentication expired", fs: fs.ErrPermission}
	ErrProtocolViolation   error = &kindError{msg: "graph: protocol violation"}
	ErrUnknown             error = &kindError{msg: "graph: unexpected response"}
)

// GraphError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type GraphError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *GraphError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
// Statuses with no dedicated kind map to ErrUnknown; the code itself is
// preserved on the GraphError.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	case http.StatusLocked:
		return ErrLocked
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusRequestTimeout:
		return ErrUnavailable
	default:
		if code >= http.StatusInternalServerError {
			return ErrUnavailable
		}

		return ErrUnknown
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
		// 509 Bandwidth Limit Exceeded (SharePoint).
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}
