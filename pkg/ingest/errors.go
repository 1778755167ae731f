package ingest

import (
	"errors"
	"fmt"
)

// Code classifies a submission failure. Codes up to and including
// CodeStoreError abort the submission before (or during) the envelope
// commit; the remaining codes occur during typed-record dispatch, after the
// envelope is durable, and are reported in the Outcome instead of failing
// the submission.
type Code string

const (
	CodeJWTVerifyFailed       Code = "JWT_VERIFY_FAILED"
	CodeIssuerMismatch        Code = "ISSUER_MISMATCH"
	CodeUnregisteredUser      Code = "UNREGISTERED_USER"
	CodeOverClaimLimit        Code = "OVER_CLAIM_LIMIT"
	CodeOverRegistrationLimit Code = "OVER_REGISTRATION_LIMIT"
	CodeCannotRegisterTooSoon Code = "CANNOT_REGISTER_TOO_SOON"
	CodeStoreError            Code = "STORE_ERROR"

	CodeDuplicateConfirmation Code = "DUPLICATE_CONFIRMATION"
	CodeDuplicateRecord       Code = "DUPLICATE_RECORD"
	CodeUnrecordedTarget      Code = "UNRECORDED_TARGET"
	CodeInvalidClaim          Code = "INVALID_CLAIM"
)

// Error is the typed pipeline failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the failure code, or empty for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
