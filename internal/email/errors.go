package email

import (
	"errors"
	"fmt"
)

// ErrorReason classifies an Error.
type ErrorReason string

// Error reasons.
const (
	REASON_INVALID_ADDRESS   ErrorReason = "INVALID_ADDRESS"
	REASON_INVALID_ARGUMENT  ErrorReason = "INVALID_ARGUMENT"
	REASON_ALREADY_BUILT     ErrorReason = "ALREADY_BUILT"
	REASON_VALIDATION_ERROR  ErrorReason = "VALIDATION_ERROR"
	REASON_SESSION_ERROR     ErrorReason = "SESSION_ERROR"
	REASON_UNKNOWN           ErrorReason = "UNKNOWN_ERROR"
	REASON_RATE_LIMITED      ErrorReason = "RATE_LIMITED"
	REASON_MESSAGE_REJECTED  ErrorReason = "MESSAGE_REJECTED"
	REASON_UNVERIFIED_DOMAIN ErrorReason = "UNVERIFIED_DOMAIN"
	REASON_SERVICE_ERROR     ErrorReason = "SERVICE_ERROR"
)

// AlreadyBuiltMessage is the message carried by the error returned when a
// Builder is finalized a second time.
const AlreadyBuiltMessage = "The MimeMessage is already built."

// Sentinels for use with errors.Is. They match any *Error with the same reason.
var (
	ErrInvalidAddress  = &Error{Reason: REASON_INVALID_ADDRESS}
	ErrInvalidArgument = &Error{Reason: REASON_INVALID_ARGUMENT}
	ErrAlreadyBuilt    = &Error{Reason: REASON_ALREADY_BUILT}
	ErrValidation      = &Error{Reason: REASON_VALIDATION_ERROR}
	ErrSession         = &Error{Reason: REASON_SESSION_ERROR}
)

var _ error = &Error{}

// Error is the error type returned by the builder and by delivery providers.
type Error struct {
	Message string
	Reason  ErrorReason
	Cause   error
}

// Error returns the message, followed by the cause when there is one.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf returns the reason of the first *Error in err's chain, or
// REASON_UNKNOWN when there is none.
func ReasonOf(err error) ErrorReason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return REASON_UNKNOWN
}

func newError(reason ErrorReason, message string, cause error) *Error {
	return &Error{
		Message: message,
		Reason:  reason,
		Cause:   cause,
	}
}

// NewInvalidAddressError returns an error for a malformed or missing address.
func NewInvalidAddressError(message string, cause error) *Error {
	return newError(REASON_INVALID_ADDRESS, message, cause)
}

// NewInvalidArgumentError returns an error for a missing or malformed argument.
func NewInvalidArgumentError(message string, cause error) *Error {
	return newError(REASON_INVALID_ARGUMENT, message, cause)
}

// NewAlreadyBuiltError returns the error for a second BuildMimeMessage call.
func NewAlreadyBuiltError() *Error {
	return newError(REASON_ALREADY_BUILT, AlreadyBuiltMessage, nil)
}

// NewValidationError returns an error for a message that can not be built or was refused as invalid.
func NewValidationError(message string, cause error) *Error {
	return newError(REASON_VALIDATION_ERROR, message, cause)
}

// NewSessionError returns an error for a mail session that can not be created.
func NewSessionError(message string, cause error) *Error {
	return newError(REASON_SESSION_ERROR, message, cause)
}

// NewUnknownError returns an error that fits no other reason.
func NewUnknownError(message string, cause error) *Error {
	return newError(REASON_UNKNOWN, message, cause)
}

// NewRateLimitedError returns an error for a delivery throttled by the provider.
func NewRateLimitedError(message string, cause error) *Error {
	return newError(REASON_RATE_LIMITED, message, cause)
}

// NewMessageRejectedError returns an error for a message the provider refused.
func NewMessageRejectedError(message string, cause error) *Error {
	return newError(REASON_MESSAGE_REJECTED, message, cause)
}

// NewUnverifiedDomainError returns an error for a sender the provider does not accept.
func NewUnverifiedDomainError(message string, cause error) *Error {
	return newError(REASON_UNVERIFIED_DOMAIN, message, cause)
}

// NewServiceError returns an error for a failed or unreachable delivery service.
func NewServiceError(message string, cause error) *Error {
	return newError(REASON_SERVICE_ERROR, message, cause)
}
