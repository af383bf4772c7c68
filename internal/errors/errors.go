// Package errors provides unified error handling for the translation pipeline.
// Codes map onto gRPC status codes so remote backends and local callers share one taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies an AppError.
type Code int

const (
	Unknown Code = iota
	Internal
	InvalidConfiguration
	UnsupportedLanguagePair
	CaptureFailure
	RecognitionFailure
	TranslationFailure
	AlreadyRunning
	Unavailable
	Timeout
	Cancelled
)

var codeNames = map[Code]string{
	Unknown:                 "UNKNOWN",
	Internal:                "INTERNAL",
	InvalidConfiguration:    "INVALID_CONFIGURATION",
	UnsupportedLanguagePair: "UNSUPPORTED_LANGUAGE_PAIR",
	CaptureFailure:          "CAPTURE_FAILURE",
	RecognitionFailure:      "RECOGNITION_FAILURE",
	TranslationFailure:      "TRANSLATION_FAILURE",
	AlreadyRunning:          "ALREADY_RUNNING",
	Unavailable:             "UNAVAILABLE",
	Timeout:                 "TIMEOUT",
	Cancelled:               "CANCELLED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// grpcCodeMap maps Code to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:                 codes.Unknown,
	Internal:                codes.Internal,
	InvalidConfiguration:    codes.InvalidArgument,
	UnsupportedLanguagePair: codes.InvalidArgument,
	CaptureFailure:          codes.Internal,
	RecognitionFailure:      codes.Internal,
	TranslationFailure:      codes.Internal,
	AlreadyRunning:          codes.FailedPrecondition,
	Unavailable:             codes.Unavailable,
	Timeout:                 codes.DeadlineExceeded,
	Cancelled:               codes.Canceled,
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

// GRPCStatus lets status.FromError recognise AppError.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
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

// FromGRPCError converts an error returned by a gRPC call into an AppError.
// An AppError already in the chain is returned as is.
func FromGRPCError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}
	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message(), Cause: err}
}

// grpcToCode maps gRPC codes back to our error codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidConfiguration
	case codes.Unavailable, codes.ResourceExhausted:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return AlreadyRunning
	default:
		return Unknown
	}
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

// IsCode checks if any AppError in err's chain has the given code.
func IsCode(err error, code Code) bool {
	for err != nil {
		appErr, ok := As(err)
		if !ok {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout:
		return true
	default:
		return false
	}
}
