// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies a SqlError.
type Kind int

const (
	KindIO Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindDbcNotFound
)

// Kind sentinels, usable with errors.Is
var (
	ErrIO          = errors.New("sql error")
	ErrValidation  = errors.New("invalid sql arguments")
	ErrNotFound    = errors.New("data not found")
	ErrConflict    = errors.New("multiple results found")
	ErrDbcNotFound = errors.New("dbc not found")
)

// Error codes
const (
	CodeSqlError        = "SQL_ERROR"
	CodeArgsError       = "SQL_ARGS_ERROR"
	CodeDataNotFound    = "DATA_NOT_FOUND"
	CodeMultipleResults = "MULTIPLE_RESULTS_FOUND"
	CodeDbcNotFound     = "DBC_NOT_FOUND"
)

// Numeric error numbers, kept stable for upstream callers that switch on them.
const (
	ErrnoSqlError        = 40099
	ErrnoArgsError       = 40097
	ErrnoMultipleResults = 40095
	ErrnoDataNotFound    = 40490
	ErrnoNotFound404     = 40400
	ErrnoDbcNotFound     = 50094
)

// SqlError is the single error type surfaced by the table gateway and the pool.
type SqlError struct {
	Kind    Kind
	Code    string
	Errno   int
	Status  int
	Message string
	Cause   error
}

func (e *SqlError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SqlError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel of this error's kind.
func (e *SqlError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindDbcNotFound:
		return ErrDbcNotFound
	default:
		return ErrIO
	}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDbcNotFound:
		return "dbc_not_found"
	default:
		return "io"
	}
}

// Validation creates an error for bad values, unknown operators, unknown columns
// and refused destructive writes.
func Validation(format string, a ...interface{}) *SqlError {
	return &SqlError{
		Kind:    KindValidation,
		Code:    CodeArgsError,
		Errno:   ErrnoArgsError,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf(format, a...),
	}
}

// NotFound creates an error for zero rows where exactly one was required.
func NotFound(format string, a ...interface{}) *SqlError {
	return &SqlError{
		Kind:    KindNotFound,
		Code:    CodeDataNotFound,
		Errno:   ErrnoDataNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf(format, a...),
	}
}

// Conflict creates an error for more than one row where at most one was expected.
func Conflict(format string, a ...interface{}) *SqlError {
	return &SqlError{
		Kind:    KindConflict,
		Code:    CodeMultipleResults,
		Errno:   ErrnoMultipleResults,
		Status:  http.StatusConflict,
		Message: fmt.Sprintf(format, a...),
	}
}

// IO wraps a failure reported by the connection collaborator.
func IO(cause error, format string, a ...interface{}) *SqlError {
	return &SqlError{
		Kind:    KindIO,
		Code:    CodeSqlError,
		Errno:   ErrnoSqlError,
		Status:  http.StatusServiceUnavailable,
		Message: fmt.Sprintf(format, a...),
		Cause:   cause,
	}
}

// DbcNotFound is returned by the registry for an unregistered connection name.
func DbcNotFound(name string) *SqlError {
	return &SqlError{
		Kind:    KindDbcNotFound,
		Code:    CodeDbcNotFound,
		Errno:   ErrnoDbcNotFound,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("[DbcPool] not found dbc<%s>", name),
	}
}

// KindOf returns the kind of err, KindIO for foreign errors.
func KindOf(err error) Kind {
	var sqlErr *SqlError
	if errors.As(err, &sqlErr) {
		return sqlErr.Kind
	}
	return KindIO
}

// ErrorResponse is the structured payload handed to HTTP-style callers.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Errno   int    `json:"errno"`
	Message string `json:"message"`
}

// ToResponse converts any error into an ErrorResponse.
func ToResponse(err error) ErrorResponse {
	var sqlErr *SqlError
	if errors.As(err, &sqlErr) {
		status := sqlErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return ErrorResponse{
			Status:  status,
			Code:    sqlErr.Code,
			Errno:   sqlErr.Errno,
			Message: sqlErr.Message,
		}
	}
	return ErrorResponse{
		Status:  http.StatusInternalServerError,
		Code:    CodeSqlError,
		Errno:   ErrnoSqlError,
		Message: err.Error(),
	}
}

// HandleError writes err as a JSON ErrorResponse on a fiber context.
func HandleError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}
	resp := ToResponse(err)
	return c.Status(resp.Status).JSON(resp)
}
