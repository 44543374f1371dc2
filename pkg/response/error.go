package response

import (
	"fmt"
	"net/http"
)

// GateError expands a normal error to provide additional meta data
type GateError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error is defined to implement the error interface
func (e GateError) Error() string {
	return e.String()
}

// String provides a string representation of the error
func (e GateError) String() string {
	return fmt.Sprintf("error occurred, code %d (%s): %s", e.Code, e.Code, e.Message)
}

// NewError builds a GateError with a formatted message
func NewError(code ErrorCode, format string, args ...any) GateError {
	return GateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode defines the set of error codes that can be set on a GateError
type ErrorCode int

const (
	// NoErrorCode means the error code hasn't been set
	NoErrorCode ErrorCode = iota
	// ValidationError means the request was missing something or was unsafe
	ValidationError
	// NotFoundError means the thing the request pointed at doesn't exist
	NotFoundError
	// DependencyError means the broker or the workflow engine failed
	DependencyError
	// MalformedMessageError means a message couldn't be decoded
	MalformedMessageError
	// InternalError is everything else
	InternalError
)

var errorNames = [...]string{
	"NoErrorCode",
	"ValidationError",
	"NotFoundError",
	"DependencyError",
	"MalformedMessageError",
	"InternalError",
}

func (c ErrorCode) String() string {
	if c < 0 || int(c) >= len(errorNames) {
		return errorNames[InternalError]
	}

	return errorNames[c]
}

// HTTPStatus maps the code to the status an API caller gets
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ValidationError, MalformedMessageError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case DependencyError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON body sent to HTTP callers when something goes wrong
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Body renders the error for an HTTP caller
func (e GateError) Body() ErrorBody {
	return ErrorBody{Error: e.Code.String(), Message: e.Message}
}
