package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Standard error codes. GRPCStatus maps each one to a gRPC canonical status
// code (google.golang.org/grpc/codes) and HTTPStatus to an HTTP status;
// UNAUTHORIZED, FORBIDDEN and CONFLICT have no gRPC code of the same name and
// map to Unauthenticated, PermissionDenied and AlreadyExists.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeInternal           = "INTERNAL"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeUnimplemented      = "UNIMPLEMENTED"
	CodeCancelled          = "CANCELLED"
)

// AppError is a custom error type that includes an error code, message, and underlying error.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Helper functions for common errors

func NotFound(msg string, err error) *AppError {
	if msg == "" {
		msg = "resource not found"
	}
	return New(CodeNotFound, msg, err)
}

func InvalidArgument(msg string, err error) *AppError {
	if msg == "" {
		msg = "invalid argument"
	}
	return New(CodeInvalidArgument, msg, err)
}

func Internal(msg string, err error) *AppError {
	if msg == "" {
		msg = "internal server error"
	}
	return New(CodeInternal, msg, err)
}

func Unauthorized(msg string, err error) *AppError {
	if msg == "" {
		msg = "unauthorized"
	}
	return New(CodeUnauthorized, msg, err)
}

func Forbidden(msg string, err error) *AppError {
	if msg == "" {
		msg = "forbidden"
	}
	return New(CodeForbidden, msg, err)
}

func Conflict(msg string, err error) *AppError {
	if msg == "" {
		msg = "conflict"
	}
	return New(CodeConflict, msg, err)
}

func AlreadyExists(msg string, err error) *AppError {
	if msg == "" {
		msg = "resource already exists"
	}
	return New(CodeAlreadyExists, msg, err)
}

// FailedPrecondition reports that an operation was rejected because the
// system is not in a state required for it (e.g. the subscription behind an
// ackId was just unregistered).
func FailedPrecondition(msg string, err error) *AppError {
	if msg == "" {
		msg = "failed precondition"
	}
	return New(CodeFailedPrecondition, msg, err)
}

func PermissionDenied(msg string, err error) *AppError {
	if msg == "" {
		msg = "permission denied"
	}
	return New(CodePermissionDenied, msg, err)
}

// Unimplemented reports a feature the broker deliberately does not provide
// (e.g. Protocol Buffer payload validation without a compiled descriptor
// set, IAM) with guidance for the
// caller rather than a silent no-op.
func Unimplemented(msg string, err error) *AppError {
	if msg == "" {
		msg = "not implemented"
	}
	return New(CodeUnimplemented, msg, err)
}

func Cancelled(msg string, err error) *AppError {
	if msg == "" {
		msg = "operation cancelled"
	}
	return New(CodeCancelled, msg, err)
}

// HTTPStatus returns the HTTP status code for a given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeNotFound:
			return http.StatusNotFound
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeUnauthorized:
			return http.StatusUnauthorized
		case CodeForbidden:
			return http.StatusForbidden
		case CodeConflict, CodeAlreadyExists:
			return http.StatusConflict
		case CodeFailedPrecondition:
			return http.StatusPreconditionFailed
		case CodePermissionDenied:
			return http.StatusForbidden
		case CodeUnimplemented:
			return http.StatusNotImplemented
		case CodeCancelled:
			return 499 // client closed request, nginx convention; no stdlib constant
		case CodeInternal:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns the gRPC status for a given error.
func GRPCStatus(err error) *status.Status {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeNotFound:
			return status.New(codes.NotFound, appErr.Message)
		case CodeInvalidArgument:
			return status.New(codes.InvalidArgument, appErr.Message)
		case CodeUnauthorized:
			return status.New(codes.Unauthenticated, appErr.Message)
		case CodeForbidden, CodePermissionDenied:
			return status.New(codes.PermissionDenied, appErr.Message)
		case CodeConflict, CodeAlreadyExists:
			return status.New(codes.AlreadyExists, appErr.Message)
		case CodeFailedPrecondition:
			return status.New(codes.FailedPrecondition, appErr.Message)
		case CodeUnimplemented:
			return status.New(codes.Unimplemented, appErr.Message)
		case CodeCancelled:
			return status.New(codes.Canceled, appErr.Message)
		case CodeInternal:
			return status.New(codes.Internal, appErr.Message)
		}
	}
	return status.New(codes.Unknown, err.Error())
}

// Wrap is a utility to wrap an error with a message
func Wrap(err error, msg string) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
