package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure of the prediction pipeline.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindFetch             Kind = "fetch"
	KindDecode            Kind = "decode"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindModelNotLoaded    Kind = "model_not_loaded"
	KindInference         Kind = "inference"
)

// ClientFault reports whether the failure was caused by the request itself.
func (k Kind) ClientFault() bool {
	switch k {
	case KindValidation, KindFetch, KindDecode, KindUnsupportedFormat:
		return true
	}
	return false
}

// Status maps the kind to the HTTP status returned to the caller.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindFetch, KindDecode, KindUnsupportedFormat:
		return http.StatusBadRequest
	case KindModelNotLoaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the error type every pipeline stage returns.
// Message is safe to show to the caller; Err is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperror.Fetch) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	Validation        = &Error{Kind: KindValidation}
	Fetch             = &Error{Kind: KindFetch}
	Decode            = &Error{Kind: KindDecode}
	UnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ModelNotLoaded    = &Error{Kind: KindModelNotLoaded}
	Inference         = &Error{Kind: KindInference}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind carried by err. Anything unclassified is an inference failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInference
}

// Detail returns the caller-facing message for err.
// Server faults get a fixed message so internal causes never leak.
func Detail(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error during prediction"
	}
	if e.Kind.ClientFault() {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	switch e.Kind {
	case KindModelNotLoaded:
		return "model is not loaded"
	default:
		return "prediction failed"
	}
}
