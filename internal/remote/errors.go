package remote

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoBaseURL        = errors.New("remote: base url missing")
	ErrNoToken          = errors.New("remote: api token missing")
	ErrPageNotFound     = errors.New("remote: page not found")
	ErrVersionConflict  = errors.New("remote: version conflict")
	ErrAttachmentAbsent = errors.New("remote: attachment not found")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied
	CodeUnavailable    = "E_UNAVAILABLE"     // remote temporarily unavailable
	CodeUnknownError   = "E_UNKNOWN_ERR"     // unknown error

	// Content errors
	CodePageNotFound    = "E_PAGE_NOT_FOUND"    // the page id does not resolve
	CodeSpaceNotFound   = "E_SPACE_NOT_FOUND"   // the space key does not resolve
	CodeVersionConflict = "E_VERSION_CONFLICT"  // optimistic concurrency rejection
	CodeAttachmentError = "E_ATTACHMENT_FAILED" // attachment transfer rejected
)

// APIError represents an error response from the remote document store.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Transient reports whether the failure is eligible for caller-level retry.
// Retries for these are handled inside the HTTP client; the sync engine only
// uses this to label outcomes.
func (e *APIError) Transient() bool {
	switch e.Code {
	case CodeRateLimited, CodeUnavailable, CodeInternalError:
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func newAPIError(statusCode int, code, message string) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// handleAPIError maps a response into the error taxonomy. Specific status
// codes become sentinel errors so callers can branch with errors.Is.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if !resp.IsErrorState() {
		return nil
	}

	switch resp.StatusCode {
	case 404:
		return fmt.Errorf("%s: %w", operation, ErrPageNotFound)
	case 409:
		return fmt.Errorf("%s: %w", operation, ErrVersionConflict)
	case 401, 403:
		return fmt.Errorf("%s: %w", operation, newAPIError(resp.StatusCode, CodeAccessDenied, resp.String()))
	case 429:
		return fmt.Errorf("%s: %w", operation, newAPIError(resp.StatusCode, CodeRateLimited, resp.String()))
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: %w", operation, newAPIError(resp.StatusCode, CodeUnavailable, resp.String()))
	}

	return fmt.Errorf("%s: %w", operation, newAPIError(resp.StatusCode, CodeInvalidRequest, resp.String()))
}

// IsTransient reports whether err wraps a retry-eligible remote failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}
