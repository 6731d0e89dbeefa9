package thoughts

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable machine-readable code surfaced to clients.
type ErrorCode string

const (
	// CodeNotAuthenticated reports a missing or unusable sender identity.
	CodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	// CodeInvalidReceiver reports an empty receiver or a self-addressed send.
	CodeInvalidReceiver ErrorCode = "INVALID_RECEIVER"
	// CodeNotConnected reports that the pair has no active connection.
	CodeNotConnected ErrorCode = "NOT_CONNECTED"
	// CodeBlocked reports a block in either direction between the pair.
	CodeBlocked ErrorCode = "BLOCKED"
	// CodeDailyLimitReached reports an exhausted per-sender daily quota.
	CodeDailyLimitReached ErrorCode = "DAILY_LIMIT_REACHED"
	// CodeAlreadySentToday reports a second send to the same contact in one day.
	CodeAlreadySentToday ErrorCode = "ALREADY_SENT_TODAY"
	// CodeUnexpected reports an internal failure with no better classification.
	CodeUnexpected ErrorCode = "UNEXPECTED_ERROR"
)

// String returns the raw code value.
func (code ErrorCode) String() string {
	return string(code)
}

const (
	messageNotAuthenticated  = "authentication required"
	messageInvalidReceiver   = "receiver is invalid"
	messageSelfSend          = "sender and receiver must differ"
	messageNotConnected      = "users are not connected"
	messageBlocked           = "delivery is blocked"
	messageDailyLimitReached = "daily thought limit reached"
	messageAlreadySentToday  = "already sent a thought to this contact today"
	messageUnexpected        = "unexpected error"
)

// ServiceError carries a stable code and a client-safe message alongside the
// underlying cause. Messages never embed user identifiers.
type ServiceError struct {
	code    ErrorCode
	message string
	cause   error
}

// NewServiceError constructs a typed error for the given code.
func NewServiceError(code ErrorCode, message string, cause error) *ServiceError {
	return &ServiceError{code: code, message: message, cause: cause}
}

func (e *ServiceError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
}

func (e *ServiceError) Unwrap() error {
	return e.cause
}

// Code returns the stable error code.
func (e *ServiceError) Code() ErrorCode {
	return e.code
}

// Message returns the client-safe description.
func (e *ServiceError) Message() string {
	return e.message
}

// ErrorCodeOf maps any error to the stable code used in transport responses.
func ErrorCodeOf(err error) ErrorCode {
	var serviceError *ServiceError
	if errors.As(err, &serviceError) {
		return serviceError.code
	}
	return CodeUnexpected
}

// ErrorMessageOf maps any error to the client-safe message.
func ErrorMessageOf(err error) string {
	var serviceError *ServiceError
	if errors.As(err, &serviceError) {
		return serviceError.message
	}
	return messageUnexpected
}
