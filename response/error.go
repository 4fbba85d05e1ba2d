package response

import (
	"fmt"
	"net/http"
)

// Error is an API error. It implements error so services can return it from helpers
// and write it once at the handler
type Error struct {
	StatusCode int
	Message    string
	Messages   []string
	Result     interface{}
}

func (e *Error) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("HTTP %d: %s (%v)", e.StatusCode, e.Message, e.Messages)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) AddMessages(msgs ...string) *Error {
	e.Messages = append(e.Messages, msgs...)
	return e
}

func (e *Error) WithResult(result interface{}) *Error {
	e.Result = result
	return e
}

func makeError(status int, msg string) *Error {
	return &Error{
		StatusCode: status,
		Message:    msg,
		Messages:   make([]string, 0),
		Result:     []string{},
	}
}

// -----------------------------------------------

func ErrUnexpected() *Error {
	return makeError(http.StatusInternalServerError, "An unexpected error has occured")
}

func ErrBadRequest() *Error {
	return makeError(http.StatusBadRequest, "Bad request")
}

func ErrUnauthorized() *Error {
	return makeError(http.StatusUnauthorized, "Unauthorized")
}

// ErrPaymentRequired is returned when the plan of the organization does not allow the action
func ErrPaymentRequired() *Error {
	return makeError(http.StatusPaymentRequired, "Payment required")
}

func ErrForbidden() *Error {
	return makeError(http.StatusForbidden, "Forbidden")
}

func ErrNotFound() *Error {
	return makeError(http.StatusNotFound, "Requested resources not found")
}

func ErrConflict() *Error {
	return makeError(http.StatusConflict, "Conflict")
}

func ErrGone() *Error {
	return makeError(http.StatusGone, "Requested resources no longer available")
}

// -----------------------------------------------

func ErrInvalidJson() *Error {
	return ErrBadRequest().AddMessages("Invalid JSON body")
}

func ErrInvalidForm() *Error {
	return ErrBadRequest().AddMessages("Invalid form body")
}

func ErrVerifyToken() *Error {
	return ErrUnexpected().AddMessages("Unable to verify login token")
}

func ErrNoBearer() *Error {
	return ErrUnauthorized().AddMessages("No valid Bearer token found in header")
}
