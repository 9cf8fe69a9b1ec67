package contract

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorCode classifies every error the pipeline surfaces to callers.
type ErrorCode string

const (
	// ErrorCodeTransientStore covers timeouts and lost connections.
	// Callers retry the same window; all writes are idempotent.
	ErrorCodeTransientStore ErrorCode = "TRANSIENT_STORE_ERROR"

	// ErrorCodeIntegrityViolation covers attempts to rewrite immutable
	// rows: duplicate raw event ids, conflicting offline feature payloads,
	// duplicate model versions.
	ErrorCodeIntegrityViolation ErrorCode = "INTEGRITY_VIOLATION"

	// ErrorCodeMissingUpstreamData means an entity cannot be scored because
	// required upstream state (cluster assignment, feature fields) is absent.
	ErrorCodeMissingUpstreamData ErrorCode = "MISSING_UPSTREAM_DATA"

	// ErrorCodeSchemaMismatch means a feature vector disagrees with the
	// schema the current model was trained against. Never coerced.
	ErrorCodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"

	ErrorCodeInvalidParameterValue ErrorCode = "INVALID_PARAMETER_VALUE"
	ErrorCodeResourceDoesNotExist  ErrorCode = "RESOURCE_DOES_NOT_EXIST"
	ErrorCodeResourceAlreadyExists ErrorCode = "RESOURCE_ALREADY_EXISTS"
	ErrorCodeBadRequest            ErrorCode = "BAD_REQUEST"
	ErrorCodeInternalError         ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code    ErrorCode `json:"error_code"`
	Message string    `json:"message"`
	inner   error
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func NewErrorWith(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, inner: err}
}

func (e *Error) Error() string {
	if e.inner != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.inner)
	}

	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.inner
}

func (e *Error) StatusCode() int {
	switch e.Code {
	case ErrorCodeBadRequest, ErrorCodeInvalidParameterValue, ErrorCodeSchemaMismatch:
		return fiber.StatusBadRequest
	case ErrorCodeResourceDoesNotExist, ErrorCodeMissingUpstreamData:
		return fiber.StatusNotFound
	case ErrorCodeResourceAlreadyExists, ErrorCodeIntegrityViolation:
		return fiber.StatusConflict
	case ErrorCodeTransientStore:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
