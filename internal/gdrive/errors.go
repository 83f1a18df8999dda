package gdrive

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Errors that do not come from the remote service.
var (
	ErrServiceInit = errors.New("gdrive: service initialization failed")
	ErrLocalRead   = errors.New("gdrive: local file unreadable")
	ErrLocalWrite  = errors.New("gdrive: local file not writable")
)

// Sentinel errors for HTTP status code classification. Every *RemoteError
// wraps exactly one of them; use errors.Is(err, gdrive.ErrNotFound) to check.
var (
	ErrBadRequest          = errors.New("gdrive: bad request")
	ErrUnauthorized        = errors.New("gdrive: unauthorized")
	ErrForbidden           = errors.New("gdrive: forbidden")
	ErrNotFound            = errors.New("gdrive: not found")
	ErrConflict            = errors.New("gdrive: conflict")
	ErrRangeNotSatisfiable = errors.New("gdrive: range not satisfiable")
	ErrThrottled           = errors.New("gdrive: throttled")
	ErrServerError         = errors.New("gdrive: server error")
	ErrUnexpectedStatus    = errors.New("gdrive: unexpected status")

	// ErrTransport covers failures with no HTTP status: connection errors,
	// canceled contexts, truncated bodies.
	ErrTransport = errors.New("gdrive: transport failure")
)

// RemoteError is a failed Drive API call. It carries the operation, the
// file it targeted (if any), the HTTP status and the server's message.
type RemoteError struct {
	Op         string
	FileID     string
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()

	cause error
}

func (e *RemoteError) Error() string {
	target := e.Op
	if e.FileID != "" {
		target += " " + e.FileID
	}

	if e.StatusCode == 0 {
		return fmt.Sprintf("gdrive: %s: %s", target, e.Message)
	}

	return fmt.Sprintf("gdrive: %s: HTTP %d: %s", target, e.StatusCode, e.Message)
}

// Unwrap exposes both the sentinel and the underlying cause, so
// errors.As(err, **googleapi.Error) and errors.Is(err, context.Canceled)
// keep working.
func (e *RemoteError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Err}
	}

	return []error{e.Err, e.cause}
}

// newRemoteError converts an error returned by the Drive library into a
// *RemoteError.
func newRemoteError(op, fileID string, err error) *RemoteError {
	re := &RemoteError{
		Op:     op,
		FileID: fileID,
		Err:    ErrTransport,
		cause:  err,
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		re.StatusCode = apiErr.Code
		re.Message = apiErr.Message

		if re.Message == "" {
			re.Message = http.StatusText(apiErr.Code)
		}

		re.Err = classifyStatus(apiErr.Code)
		if re.Err == nil {
			re.Err = ErrUnexpectedStatus
		}

		return re
	}

	re.Message = err.Error()

	return re
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes with no sentinel.
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
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
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
		// 509 Bandwidth Limit Exceeded.
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}
