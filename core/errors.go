package core

import (
	"errors"
	"fmt"
)

// Code is the wire-level error taxonomy. Contexts cannot share stack traces,
// so every fault crossing a boundary is reduced to a code plus a
// human-readable message.
type Code string

const (
	CodeNoWallet               Code = "NO_WALLET"
	CodeUserRejected           Code = "USER_REJECTED"
	CodeWalletConnectionFailed Code = "WALLET_CONNECTION_FAILED"
	CodeSigningFailed          Code = "SIGNING_FAILED"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeRequestTimeout         Code = "REQUEST_TIMEOUT"
	CodeAlreadyInProgress      Code = "ALREADY_IN_PROGRESS"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeSessionStorageFailed   Code = "SESSION_STORAGE_FAILED"
	CodeUnknown                Code = "UNKNOWN"
)

var (
	ErrTokenExpired      = errors.New("token has expired")
	ErrTokenInvalidated  = errors.New("token has been invalidated")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidChallenge  = errors.New("invalid challenge")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrFlowExpired       = errors.New("auth flow has expired")
	ErrNoActiveFlow      = errors.New("no active auth flow")
	ErrRetryBudget       = errors.New("auth flow retry budget exhausted")
	ErrExecutorDead      = errors.New("background executor failed to initialize")
)

// Error is a coded error suitable for boundary conversion into a TagError
// response. RetryAfterMs is set on rate-limit denials so callers know how
// long to wait.
type Error struct {
	Code         Code
	Message      string
	RetryAfterMs int64
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a coded error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches a code and message to an underlying error.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf maps any error to its taxonomy code, falling back to UNKNOWN.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	switch {
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrInvalidTransition):
		return CodeInvalidRequest
	default:
		return CodeUnknown
	}
}

// MessageOf returns the human-readable message for an error, preferring the
// coded message over the raw chain.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}

// ErrorPayloadFor converts any handler failure into the generic error
// response body for the given request.
func ErrorPayloadFor(err error, originalType Tag, requestID string) ErrorPayload {
	p := ErrorPayload{
		Code:         CodeOf(err),
		Message:      MessageOf(err),
		OriginalType: originalType,
		RequestID:    requestID,
	}
	var coded *Error
	if errors.As(err, &coded) {
		p.RetryAfterMs = coded.RetryAfterMs
	}
	return p
}
