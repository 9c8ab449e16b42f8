// Package errors provides unified error handling with structured error codes.
// Codes map onto gRPC status codes so the remote scorer can carry them across the wire.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain identifies our errors inside gRPC ErrorInfo details.
const Domain = "respawnwatch"

// Code classifies an AppError.
type Code int

const (
	CodeUnspecified Code = iota
	CodeUnknown
	CodeInternal
	CodeInvalidArgument
	CodeUnavailable
	CodeCancelled

	// Fatal to a detection cycle.
	CodeCaptureFailed
	CodeNoDisplaysFound

	// Degraded operation.
	CodeTemplateDecodeFailed
	CodeTemplateDirUnreadable
	CodeModelLoadFailed
	CodeInferenceFailed

	CodeConfigInvalid
)

var codeNames = map[Code]string{
	CodeUnspecified:           "UNSPECIFIED",
	CodeUnknown:               "UNKNOWN",
	CodeInternal:              "INTERNAL",
	CodeInvalidArgument:       "INVALID_ARGUMENT",
	CodeUnavailable:           "UNAVAILABLE",
	CodeCancelled:             "CANCELLED",
	CodeCaptureFailed:         "CAPTURE_FAILED",
	CodeNoDisplaysFound:       "NO_DISPLAYS_FOUND",
	CodeTemplateDecodeFailed:  "TEMPLATE_DECODE_FAILED",
	CodeTemplateDirUnreadable: "TEMPLATE_DIR_UNREADABLE",
	CodeModelLoadFailed:       "MODEL_LOAD_FAILED",
	CodeInferenceFailed:       "INFERENCE_FAILED",
	CodeConfigInvalid:         "CONFIG_INVALID",
}

// String returns the wire name of the code.
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return codeNames[CodeUnknown]
}

// codeFromString is the inverse of String.
func codeFromString(s string) Code {
	for c, name := range codeNames {
		if name == s {
			return c
		}
	}
	return CodeUnknown
}

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnspecified:           codes.Unknown,
	CodeUnknown:               codes.Unknown,
	CodeInternal:              codes.Internal,
	CodeInvalidArgument:       codes.InvalidArgument,
	CodeUnavailable:           codes.Unavailable,
	CodeCancelled:             codes.Canceled,
	CodeCaptureFailed:         codes.Internal,
	CodeNoDisplaysFound:       codes.FailedPrecondition,
	CodeTemplateDecodeFailed:  codes.InvalidArgument,
	CodeTemplateDirUnreadable: codes.NotFound,
	CodeModelLoadFailed:       codes.Unavailable,
	CodeInferenceFailed:       codes.Internal,
	CodeConfigInvalid:         codes.InvalidArgument,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status with an ErrorInfo detail attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	info := &errdetails.ErrorInfo{Reason: e.Code.String(), Domain: Domain, Metadata: e.Metadata}
	if withDetail, err := st.WithDetails(info); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return &AppError{
				Code:     codeFromString(info.GetReason()),
				Message:  st.Message(),
				Metadata: info.GetMetadata(),
				Cause:    err,
			}
		}
	}

	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message(), Cause: err}
}

// grpcToCode maps gRPC codes back to our codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return CodeUnavailable
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	case codes.FailedPrecondition:
		return CodeNoDisplaysFound
	default:
		return CodeUnknown
	}
}

// IsCode checks if any error in the chain is an AppError with the given code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in the chain, or CodeUnknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsFatalToCycle reports whether err must end the current detection cycle.
func IsFatalToCycle(err error) bool {
	return IsCode(err, CodeCaptureFailed) || IsCode(err, CodeNoDisplaysFound)
}

// IsRetryable reports whether err is transient. Only an unreachable peer
// qualifies; a failed inference repeats on the same input.
func IsRetryable(err error) bool {
	return IsCode(err, CodeUnavailable)
}
