package errors

import (
	stderrors "errors"
	"fmt"
	"math"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeMalformedInput           ErrorType = "MALFORMED_INPUT"
	ErrTypeCryptoVerificationFailed ErrorType = "CRYPTO_VERIFICATION_FAILED"
	ErrTypeExpired                  ErrorType = "EXPIRED"
	ErrTypeAlreadyConsumed          ErrorType = "ALREADY_CONSUMED"
	ErrTypeLocked                   ErrorType = "LOCKED"
	ErrTypeTampered                 ErrorType = "TAMPERED"
	ErrTypeUnavailable              ErrorType = "UNAVAILABLE"
	ErrTypeInvalidSecret            ErrorType = "INVALID_SECRET"
	ErrTypeWrongPasswordOrCorrupt   ErrorType = "WRONG_PASSWORD_OR_CORRUPT"
	ErrTypeVaultLocked              ErrorType = "VAULT_LOCKED"
	ErrTypeLicenseRequired          ErrorType = "LICENSE_REQUIRED"
	ErrTypeWeakPassword             ErrorType = "WEAK_PASSWORD"
	ErrTypeValidation               ErrorType = "VALIDATION"
	ErrTypeStorage                  ErrorType = "STORAGE"
	ErrTypeConfig                   ErrorType = "CONFIG"
)

// invalidKeyMessage is shown for every token rejection that must not reveal
// which check failed.
const invalidKeyMessage = "invalid or expired key"

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	// Remaining is only meaningful for ErrTypeLocked.
	Remaining time.Duration
	Context   map[string]interface{}
}

// Sentinels for errors.Is. Matching is by Type only.
var (
	ErrMalformedInput           = &AppError{Type: ErrTypeMalformedInput, Message: "malformed input"}
	ErrCryptoVerificationFailed = &AppError{Type: ErrTypeCryptoVerificationFailed, Message: "signature verification failed"}
	ErrExpired                  = &AppError{Type: ErrTypeExpired, Message: "expired"}
	ErrAlreadyConsumed          = &AppError{Type: ErrTypeAlreadyConsumed, Message: "already consumed"}
	ErrLocked                   = &AppError{Type: ErrTypeLocked, Message: "locked"}
	ErrTampered                 = &AppError{Type: ErrTypeTampered, Message: "tampering detected"}
	ErrUnavailable              = &AppError{Type: ErrTypeUnavailable, Message: "unavailable"}
	ErrInvalidSecret            = &AppError{Type: ErrTypeInvalidSecret, Message: "invalid password"}
	ErrWrongPasswordOrCorrupt   = &AppError{Type: ErrTypeWrongPasswordOrCorrupt, Message: "wrong password or corrupted data"}
	ErrVaultLocked              = &AppError{Type: ErrTypeVaultLocked, Message: "vault is locked"}
	ErrLicenseRequired          = &AppError{Type: ErrTypeLicenseRequired, Message: "license activation required"}
	ErrWeakPassword             = &AppError{Type: ErrTypeWeakPassword, Message: "password does not meet requirements"}
	ErrValidation               = &AppError{Type: ErrTypeValidation, Message: "invalid request"}
)

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Message
	if e.Type == ErrTypeLocked {
		msg = fmt.Sprintf("%s (%ds remaining)", msg, RemainingSeconds(e.Remaining))
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, msg)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// NewMalformedInputError reports input that failed structural parsing.
func NewMalformedInputError(message string, cause error) *AppError {
	return NewAppError(ErrTypeMalformedInput, message, cause)
}

// NewCryptoError reports a signature or authentication tag mismatch.
func NewCryptoError(message string) *AppError {
	return NewAppError(ErrTypeCryptoVerificationFailed, message, nil)
}

// NewExpiredError reports a token past its expiry.
func NewExpiredError(expiredAt time.Time) *AppError {
	return NewAppError(ErrTypeExpired, "expired", nil).WithContext("expired_at", expiredAt.UTC())
}

// NewAlreadyConsumedError reports a token that may not be used again.
func NewAlreadyConsumedError(message string) *AppError {
	return NewAppError(ErrTypeAlreadyConsumed, message, nil)
}

// NewLockedError reports an active lockout.
func NewLockedError(remaining time.Duration) *AppError {
	e := NewAppError(ErrTypeLocked, "too many failed attempts", nil)
	e.Remaining = remaining
	return e
}

// NewTamperedError reports a detected integrity violation.
func NewTamperedError(message string) *AppError {
	return NewAppError(ErrTypeTampered, message, nil)
}

// NewUnavailableError reports a capability that cannot be used right now.
func NewUnavailableError(message string, cause error) *AppError {
	return NewAppError(ErrTypeUnavailable, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewValidationError creates a request validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewWeakPasswordError explains which password rule failed.
func NewWeakPasswordError(message string) *AppError {
	return NewAppError(ErrTypeWeakPassword, message, nil)
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// RemainingOf returns the lockout time left when err is a LOCKED error.
func RemainingOf(err error) (time.Duration, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Type == ErrTypeLocked {
		return appErr.Remaining, true
	}
	return 0, false
}

// RemainingSeconds rounds d up to whole seconds.
func RemainingSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// UserMessage returns the text safe to show an end user. Token rejections
// collapse to one message; lockout and tamper messages are surfaced as is.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return "an unexpected error occurred"
	}

	switch appErr.Type {
	case ErrTypeMalformedInput, ErrTypeCryptoVerificationFailed, ErrTypeExpired:
		return invalidKeyMessage
	case ErrTypeLocked:
		return fmt.Sprintf("too many failed attempts, try again in %d seconds", RemainingSeconds(appErr.Remaining))
	case ErrTypeAlreadyConsumed:
		if appErr.Message != "" {
			return appErr.Message
		}
		return "this key has already been used"
	case ErrTypeInvalidSecret:
		return "incorrect password"
	case ErrTypeWrongPasswordOrCorrupt:
		return "wrong password or corrupted backup"
	case ErrTypeStorage, ErrTypeConfig:
		return "an unexpected error occurred"
	default:
		return appErr.Message
	}
}
