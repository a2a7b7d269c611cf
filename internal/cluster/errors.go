package cluster

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Kind classifies an orchestration error.
type Kind int

const (
	// KindValidation is a bad request. Retrying the same request fails again.
	KindValidation Kind = iota + 1
	// KindNotFound means the cluster or host does not exist or is not visible.
	KindNotFound
	// KindConflict is a concurrent modification or duplicate identity.
	KindConflict
	// KindDownstream wraps a failure of a collaborator.
	KindDownstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDownstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Stable error codes surfaced to API clients.
const (
	CodeBodyRequired       = "CLUSTER_BODY_REQUIRED"
	CodeProjectRequired    = "CLUSTER_PROJECT_REQUIRED"
	CodeHostRequired       = "CLUSTER_HOST_REQUIRED"
	CodeInvalidHost        = "HOST_INVALID"
	CodeInvalidClusterType = "CLUSTER_TYPE_INVALID"
	CodeSingleHostCluster  = "CLUSTER_SINGLE_HOST_OCCUPIED"
	CodeClusterNotFound    = "CLUSTER_NOT_FOUND"
	CodeHostNotFound       = "HOST_NOT_FOUND"
	CodeHostNotInCluster   = "HOST_NOT_IN_CLUSTER"
	CodeCreateFailed       = "CLUSTER_CREATE_FAILED"
	CodeAddHostFailed      = "CLUSTER_ADD_HOST_FAILED"
	CodeReadFailed         = "CLUSTER_READ_FAILED"
	CodePatchFailed        = "CLUSTER_PATCH_FAILED"
	CodeDeleteFailed       = "CLUSTER_DELETE_FAILED"
	CodeRemoveHostFailed   = "CLUSTER_REMOVE_HOST_FAILED"
	CodeTeardownTimeout    = "CLUSTER_TEARDOWN_TIMEOUT"
)

// Error is an orchestration failure with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error without a cause.
func NewValidationError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func downstream(code, message string, cause error) *Error {
	return &Error{Kind: KindDownstream, Code: code, Message: message, Err: cause}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// surface keeps validation and not-found errors as they are and wraps
// everything else into a single downstream error with the given code.
func surface(err error, code, message string) error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok && (e.Kind == KindValidation || e.Kind == KindNotFound) {
		return e
	}
	return downstream(code, message, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
