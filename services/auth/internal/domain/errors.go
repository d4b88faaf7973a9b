package domain

import "errors"

// Sentinel errors for the auth service. Check them with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrPhoneTaken          = errors.New("phone number already registered")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidOrExpiredOTP = errors.New("the verification code is incorrect or has expired")
	ErrNotFound            = errors.New("user not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrRateLimited         = errors.New("too many requests")

	// ErrOTPProviderUnavailable means the SMS provider failed, not that the code was wrong.
	ErrOTPProviderUnavailable = errors.New("verification service unavailable")

	// ErrBookingPlatformUnavailable is returned only by operations that need a
	// booking identity right now. Registration and login never return it.
	ErrBookingPlatformUnavailable = errors.New("booking platform unavailable")
)

// ValidationError is a user-facing input problem. It matches ErrInvalidInput.
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

type ConflictField string

const (
	FieldPhone ConflictField = "phoneNumber"
	FieldEmail ConflictField = "email"
)

// ConflictError reports which unique field collided. It matches ErrConflict
// and the field's own sentinel.
type ConflictError struct {
	Field ConflictField
}

func (e *ConflictError) Error() string {
	return e.sentinel().Error()
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict || target == e.sentinel()
}

func (e *ConflictError) sentinel() error {
	if e.Field == FieldEmail {
		return ErrEmailTaken
	}
	return ErrPhoneTaken
}

func PhoneConflict() error { return &ConflictError{Field: FieldPhone} }

func EmailConflict() error { return &ConflictError{Field: FieldEmail} }
