// Package metaerr defines the error taxonomy shared by the encoding,
// encryption and migration layers.
//
// Every failure that callers are expected to branch on is reported as an
// *Error carrying a Code. Use Is to test for a code through any amount of
// fmt.Errorf wrapping.
package metaerr

import (
	"errors"
	"fmt"
)

// Code categorizes a metadata failure.
type Code string

const (
	// CodeMissingEncryptionKey indicates no candidate key authenticated the envelope.
	CodeMissingEncryptionKey Code = "MISSING_ENCRYPTION_KEY"

	// CodeEncryptionVersionNotSupported indicates an unknown envelope format version.
	CodeEncryptionVersionNotSupported Code = "ENCRYPTION_VERSION_NOT_SUPPORTED"

	// CodeSchemaVersionNotSupported indicates an unknown payload schema version.
	CodeSchemaVersionNotSupported Code = "SCHEMA_VERSION_NOT_SUPPORTED"

	// CodeSubdataRange indicates a read past the end of the buffer.
	CodeSubdataRange Code = "SUBDATA_RANGE"

	// CodeSerialization indicates a record could not be encoded.
	CodeSerialization Code = "SERIALIZATION"

	// CodeAuthenticationFailure indicates the AEAD rejected the key or ciphertext.
	CodeAuthenticationFailure Code = "AUTHENTICATION_FAILURE"
)

// Error is a typed metadata failure.
type Error struct {
	// Code identifies the failure category.
	Code Code

	// Op names the operation that failed, e.g. "envelope open".
	Op string

	// Message is an optional human-readable detail.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an *Error with a formatted message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error around an underlying cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// Is reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsMissingKey reports whether no candidate key could open an envelope.
func IsMissingKey(err error) bool {
	return Is(err, CodeMissingEncryptionKey)
}

// IsAuthFailure reports whether the AEAD rejected a key or ciphertext.
func IsAuthFailure(err error) bool {
	return Is(err, CodeAuthenticationFailure)
}

// IsUnsupportedVersion reports whether err is an encryption-format or schema
// version the reader does not understand.
func IsUnsupportedVersion(err error) bool {
	return Is(err, CodeEncryptionVersionNotSupported) || Is(err, CodeSchemaVersionNotSupported)
}

// IsDecode reports whether err means stored bytes could not be turned back
// into a record. Such errors are recoverable by reading another replica.
func IsDecode(err error) bool {
	switch CodeOf(err) {
	case CodeMissingEncryptionKey,
		CodeEncryptionVersionNotSupported,
		CodeSchemaVersionNotSupported,
		CodeSubdataRange,
		CodeAuthenticationFailure:
		return true
	}
	return false
}
