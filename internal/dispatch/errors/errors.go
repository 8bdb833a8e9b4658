// Package errors defines the normalized error shape shared by every raffel
// protocol adapter, the fixed code taxonomy, and the sentinel errors returned
// by registration APIs.
package errors

import (
	"context"
	sterrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrRouterRequired       = sterrors.New("raffel: router is required")
	ErrRegistryRequired     = sterrors.New("raffel: registry is required")
	ErrEnvelopeRequired     = sterrors.New("raffel: envelope is required")
	ErrHandlerRequired      = sterrors.New("raffel: handler function is required")
	ErrHandlerNameRequired  = sterrors.New("raffel: handler name is required")
	ErrHandlerKindInvalid   = sterrors.New("raffel: handler kind is invalid")
	ErrRegistryClosed       = sterrors.New("raffel: registry is closed")
	ErrServiceRequired      = sterrors.New("raffel: service is required")
	ErrPayloadTypeRequired  = sterrors.New("raffel: payload type is required")
	ErrPayloadPointerNeeded = sterrors.New("raffel: payload type must be a pointer")
)

// Code identifies one entry of the fixed error taxonomy. Adapters translate
// codes into their protocol's native error representation; the dispatch core
// never does.
type Code string

const (
	CodeNotFound              Code = "NOT_FOUND"
	CodeValidationError       Code = "VALIDATION_ERROR"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInvalidType           Code = "INVALID_TYPE"
	CodeInvalidEnvelope       Code = "INVALID_ENVELOPE"
	CodeParseError            Code = "PARSE_ERROR"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeResourceExhausted     Code = "RESOURCE_EXHAUSTED"
	CodeAlreadyExists         Code = "ALREADY_EXISTS"
	CodeFailedPrecondition    Code = "FAILED_PRECONDITION"
	CodeUnprocessableEntity   Code = "UNPROCESSABLE_ENTITY"
	CodePayloadTooLarge       Code = "PAYLOAD_TOO_LARGE"
	CodeMessageTooLarge       Code = "MESSAGE_TOO_LARGE"
	CodeUnsupportedMediaType  Code = "UNSUPPORTED_MEDIA_TYPE"
	CodeNotAcceptable         Code = "NOT_ACCEPTABLE"
	CodeDeadlineExceeded      Code = "DEADLINE_EXCEEDED"
	CodeUnavailable           Code = "UNAVAILABLE"
	CodeBadGateway            Code = "BAD_GATEWAY"
	CodeGatewayTimeout        Code = "GATEWAY_TIMEOUT"
	CodeCancelled             Code = "CANCELLED"
	CodeDataLoss              Code = "DATA_LOSS"
	CodeOutputValidationError Code = "OUTPUT_VALIDATION_ERROR"
	CodeUnimplemented         Code = "UNIMPLEMENTED"
	CodeInternalError         Code = "INTERNAL_ERROR"
)

// statusByCode maps each taxonomy code to its protocol-neutral numeric status.
// The values are HTTP-shaped but the mapping is owned here, not by any adapter.
var statusByCode = map[Code]int{
	CodeNotFound:              http.StatusNotFound,
	CodeValidationError:       http.StatusBadRequest,
	CodeInvalidArgument:       http.StatusBadRequest,
	CodeInvalidType:           http.StatusBadRequest,
	CodeInvalidEnvelope:       http.StatusBadRequest,
	CodeParseError:            http.StatusBadRequest,
	CodeUnauthenticated:       http.StatusUnauthorized,
	CodePermissionDenied:      http.StatusForbidden,
	CodeRateLimited:           http.StatusTooManyRequests,
	CodeResourceExhausted:     http.StatusTooManyRequests,
	CodeAlreadyExists:         http.StatusConflict,
	CodeFailedPrecondition:    http.StatusPreconditionFailed,
	CodeUnprocessableEntity:   http.StatusUnprocessableEntity,
	CodePayloadTooLarge:       http.StatusRequestEntityTooLarge,
	CodeMessageTooLarge:       http.StatusRequestEntityTooLarge,
	CodeUnsupportedMediaType:  http.StatusUnsupportedMediaType,
	CodeNotAcceptable:         http.StatusNotAcceptable,
	CodeDeadlineExceeded:      http.StatusGatewayTimeout,
	CodeUnavailable:           http.StatusServiceUnavailable,
	CodeBadGateway:            http.StatusBadGateway,
	CodeGatewayTimeout:        http.StatusGatewayTimeout,
	CodeCancelled:             499,
	CodeDataLoss:              http.StatusInternalServerError,
	CodeOutputValidationError: http.StatusInternalServerError,
	CodeUnimplemented:         http.StatusNotImplemented,
	CodeInternalError:         http.StatusInternalServerError,
}

// StatusFor returns the protocol-neutral status for a taxonomy code. Unknown
// codes map to 500.
func StatusFor(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the single normalized failure shape that crosses the dispatch core
// boundary. Values are created once per failure and never mutated; the With*
// helpers return copies.
type Error struct {
	Code    Code   `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorCode implements the structural coded-error contract so a normalized
// error survives round trips through foreign error wrappers.
func (e *Error) ErrorCode() string { return string(e.Code) }

// ErrorStatus reports the protocol-neutral numeric status.
func (e *Error) ErrorStatus() int { return e.Status }

// New builds a normalized error with the status taken from the code table.
func New(code Code, message string) *Error {
	return &Error{Code: code, Status: StatusFor(code), Message: message}
}

// Newf builds a normalized error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap builds a normalized error that records cause for unwrapping.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithDetails returns a copy carrying structured details for the adapter to
// render. The receiver is left untouched.
func (e *Error) WithDetails(details any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// statusCoded is the structurally error-shaped contract: a foreign error that
// already carries both a code and a status.
type statusCoded interface {
	ErrorCode() string
	ErrorStatus() int
}

// coded is the weaker contract: a recognizable code with no status of its own.
type coded interface {
	ErrorCode() string
}

// Normalize converts an arbitrary failure (an error or a recovered panic
// value) into a normalized Error. Already-normalized errors pass through
// unchanged, so the operation is idempotent.
func Normalize(v any) *Error {
	switch failure := v.(type) {
	case nil:
		return New(CodeInternalError, "unknown failure")
	case *Error:
		return failure
	case error:
		var normalized *Error
		if sterrors.As(failure, &normalized) {
			return normalized
		}
		if shaped, ok := failure.(statusCoded); ok {
			return &Error{
				Code:    Code(shaped.ErrorCode()),
				Status:  shaped.ErrorStatus(),
				Message: failure.Error(),
				Cause:   failure,
			}
		}
		if shaped, ok := failure.(coded); ok {
			code := Code(shaped.ErrorCode())
			return &Error{
				Code:    code,
				Status:  StatusFor(code),
				Message: failure.Error(),
				Cause:   failure,
			}
		}
		if sterrors.Is(failure, context.Canceled) {
			return Wrap(CodeCancelled, failure.Error(), failure)
		}
		if sterrors.Is(failure, context.DeadlineExceeded) {
			return Wrap(CodeDeadlineExceeded, failure.Error(), failure)
		}
		return Wrap(CodeInternalError, failure.Error(), failure)
	default:
		return New(CodeInternalError, fmt.Sprint(v))
	}
}

// IsOperational reports whether err is a normalized error whose status lies in
// the 400-499 band, separating expected client-input failures from server
// bugs. The predicate is pure.
func IsOperational(err error) bool {
	var normalized *Error
	if !sterrors.As(err, &normalized) {
		return false
	}
	return normalized.Status >= 400 && normalized.Status < 500
}
