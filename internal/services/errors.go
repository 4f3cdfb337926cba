package services

import (
	"errors"
	"fmt"
)

// Validation-class failures. They are detected before any upstream call.
var (
	ErrMalformedArtifact = errors.New("malformed artifact")
	ErrInvalidIdentity   = errors.New("invalid artifact identity")
	ErrInvalidChecksum   = errors.New("invalid sha256 checksum")
	ErrChecksumMismatch  = errors.New("sha256 checksum mismatch")
	ErrNamespaceNotFound = errors.New("namespace not found")
)

var (
	// ErrForbidden means the caller may not publish into the resolved namespace.
	ErrForbidden = errors.New("forbidden")

	// ErrTaskNotFound means upstream does not know the import task.
	ErrTaskNotFound = errors.New("import task not found")

	// ErrArtifactNotFound means upstream has no artifact under the requested filename.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrCollectionNotFound means the collection, version or its namespace is unknown.
	ErrCollectionNotFound = errors.New("collection not found")
)

// ValidationError reports a user-correctable problem with one request field.
// It unwraps to one of the validation sentinels above.
type ValidationError struct {
	Field  string
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, sentinel error, detail string) *ValidationError {
	return &ValidationError{Field: field, Err: sentinel, Detail: detail}
}

// UpstreamError is a transport or upstream-reported failure while talking to
// the upstream content service. StatusCode is 0 when no response was received.
type UpstreamError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s at %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// UnexpectedStatusError is an upstream download status outside 200, 302 and 404.
type UnexpectedStatusError struct {
	StatusCode int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected upstream status code %d", e.StatusCode)
}

// FailureReason classifies err into the label used by the import failure counter.
func FailureReason(err error) string {
	var upstreamErr *UpstreamError
	switch {
	case errors.Is(err, ErrMalformedArtifact):
		return "malformed_artifact"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, ErrInvalidChecksum), errors.Is(err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, ErrNamespaceNotFound):
		return "namespace_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.As(err, &upstreamErr):
		return "upstream"
	default:
		return "internal"
	}
}
