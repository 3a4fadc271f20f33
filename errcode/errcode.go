// Package errcode defines the stable error codes returned by the background
// removal pipeline. Callers switch on Code, never on message text.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	InvalidImage      Code = "INVALID_IMAGE"
	ImageTooLarge     Code = "IMAGE_TOO_LARGE"
	ModelLoad         Code = "MODEL_LOAD"
	ShapeMismatch     Code = "SHAPE_MISMATCH"
	DimensionMismatch Code = "DIMENSION_MISMATCH"
	InferenceTimeout  Code = "INFERENCE_TIMEOUT"
	QueueFull         Code = "QUEUE_FULL"
	Canceled          Code = "CANCELED"
	InvalidOptions    Code = "INVALID_OPTIONS"
	Internal          Code = "INTERNAL"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrInvalidImage      = &Error{Code: InvalidImage}
	ErrImageTooLarge     = &Error{Code: ImageTooLarge}
	ErrModelLoad         = &Error{Code: ModelLoad}
	ErrShapeMismatch     = &Error{Code: ShapeMismatch}
	ErrDimensionMismatch = &Error{Code: DimensionMismatch}
	ErrInferenceTimeout  = &Error{Code: InferenceTimeout}
	ErrQueueFull         = &Error{Code: QueueFull}
	ErrCanceled          = &Error{Code: Canceled}
	ErrInvalidOptions    = &Error{Code: InvalidOptions}
	ErrInternal          = &Error{Code: Internal}
)

// Error is a pipeline failure tagged with a stable code.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with code. An err that already carries a code is returned as is.
func Wrap(code Code, err error, format string, args ...any) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether resubmitting the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Code == InferenceTimeout || e.Code == QueueFull
}

// As extracts the coded error from err. Untagged errors are reported as Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Internal, Message: "processing failed", Err: err}
}

// HTTPStatus maps a code onto the status used by the HTTP adapter.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidImage, InvalidOptions:
		return http.StatusBadRequest
	case ImageTooLarge:
		return http.StatusRequestEntityTooLarge
	case InferenceTimeout:
		return http.StatusGatewayTimeout
	case QueueFull:
		return http.StatusTooManyRequests
	case Canceled:
		return 499
	case ModelLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
