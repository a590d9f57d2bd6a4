package verification

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicateAccount = errors.New("an account with this email already exists")
	ErrNotFound         = errors.New("account not found")
	ErrExpired          = errors.New("verification code has expired")
	ErrMismatch         = errors.New("verification code does not match")
	ErrAlreadyVerified  = errors.New("account is already verified")
	// ErrSendFailure is soft: the operation it accompanies has already
	// committed.
	ErrSendFailure      = errors.New("verification email could not be sent")
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// InputError reports which field failed validation.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}
