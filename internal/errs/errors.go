// Package errs defines the cluster-wide error taxonomy used at every
// component boundary, and the mapping onto gRPC status codes for the
// RPC surface.
package errs

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is one of the error kinds surfaced to callers per the cache's
// external interface contract.
type Kind int

const (
	OK Kind = iota
	InvalidArgument
	Unauthenticated
	PermissionDenied
	ResourceExhausted
	NotFound
	DeadlineExceeded
	Unavailable
	Aborted
	Internal
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case ResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case NotFound:
		return "NOT_FOUND"
	case DeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case Unavailable:
		return "UNAVAILABLE"
	case Aborted:
		return "ABORTED"
	default:
		return "INTERNAL"
	}
}

// CacheError is the structured error type threaded through every
// component. It carries enough context to log usefully and to map onto
// a wire error kind without losing the underlying cause.
type CacheError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CacheError) Unwrap() error { return e.Cause }

// WithDetail attaches a key/value used for structured logging.
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToGRPCStatus maps a CacheError onto a gRPC status.
func (e *CacheError) ToGRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Error())
}

func (e *CacheError) grpcCode() codes.Code {
	switch e.Kind {
	case OK:
		return codes.OK
	case InvalidArgument:
		return codes.InvalidArgument
	case Unauthenticated:
		return codes.Unauthenticated
	case PermissionDenied:
		return codes.PermissionDenied
	case ResourceExhausted:
		return codes.ResourceExhausted
	case NotFound:
		return codes.NotFound
	case DeadlineExceeded:
		return codes.DeadlineExceeded
	case Unavailable:
		return codes.Unavailable
	case Aborted:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// New builds a CacheError of the given kind.
func New(kind Kind, message string, cause error) *CacheError {
	return &CacheError{Kind: kind, Message: message, Cause: cause}
}

func Invalidf(format string, args ...interface{}) *CacheError {
	return New(InvalidArgument, fmt.Sprintf(format, args...), nil)
}

func NotFoundf(format string, args ...interface{}) *CacheError {
	return New(NotFound, fmt.Sprintf(format, args...), nil)
}

func Abortedf(format string, args ...interface{}) *CacheError {
	return New(Aborted, fmt.Sprintf(format, args...), nil)
}

func Internalf(cause error, format string, args ...interface{}) *CacheError {
	return New(Internal, fmt.Sprintf(format, args...), cause)
}

func ResourceExhaustedf(format string, args ...interface{}) *CacheError {
	return New(ResourceExhausted, fmt.Sprintf(format, args...), nil)
}

func Unavailablef(format string, args ...interface{}) *CacheError {
	return New(Unavailable, fmt.Sprintf(format, args...), nil)
}

// Is reports whether err is a *CacheError of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CacheError)
	return ok && ce.Kind == kind
}

// GetKind extracts the kind from an error, defaulting to Internal.
func GetKind(err error) Kind {
	if ce, ok := err.(*CacheError); ok {
		return ce.Kind
	}
	return Internal
}
