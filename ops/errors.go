package ops

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/atapdf/codec"
)

// Code classifies an operation failure.
type Code string

const (
	// CodeValidation: wrong file count, missing parameter or wrong input type.
	// The handler never runs.
	CodeValidation Code = "validation"
	// CodeCodec: an input could not be loaded or the output could not be built.
	CodeCodec Code = "codec"
	// CodeWrongPassword: unlock was given a password that does not open the input.
	CodeWrongPassword Code = "wrong_password"
	// CodeEmptyContent: a conversion found no text to carry over.
	CodeEmptyContent Code = "empty_content"
	// CodeIO: reading a staged upload or writing an artifact failed.
	CodeIO Code = "io"
)

// Error is the tagged failure every operation reports. Message is safe to
// show to the caller; Err keeps the underlying cause for logs.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain. Errors that
// carry no code are treated as I/O failures.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return CodeIO
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Message
	}
	return "internal error"
}

// Validationf builds a CodeValidation error.
func Validationf(kind Kind, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IOError wraps a storage failure.
func IOError(kind Kind, message string, err error) *Error {
	return &Error{Code: CodeIO, Kind: kind, Message: message, Err: err}
}

// codecError maps codec sentinels onto operation codes. name identifies the
// input in the message when there are several.
func codecError(kind Kind, name string, err error) *Error {
	subject := "document"
	if name != "" {
		subject = fmt.Sprintf("%q", name)
	}
	switch {
	case errors.Is(err, codec.ErrWrongPassword):
		if kind == KindUnlock {
			return &Error{Code: CodeWrongPassword, Kind: kind, Message: "invalid password", Err: err}
		}
		return &Error{Code: CodeCodec, Kind: kind, Message: subject + " is password protected", Err: err}
	case errors.Is(err, codec.ErrEncrypted):
		return &Error{Code: CodeCodec, Kind: kind, Message: subject + " is password protected", Err: err}
	case errors.Is(err, codec.ErrEmptyText):
		return &Error{Code: CodeEmptyContent, Kind: kind, Message: "no text could be extracted from " + subject, Err: err}
	default:
		return &Error{Code: CodeCodec, Kind: kind, Message: subject + " could not be processed", Err: err}
	}
}
