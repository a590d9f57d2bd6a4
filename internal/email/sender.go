package email

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured is returned by senders that have no delivery backend.
var ErrNotConfigured = errors.New("email delivery not configured")

// Sender delivers a plain-text message. Implementations return an error
// instead of panicking; a context deadline counts as a failed send.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
	Configured() bool
}

// Disabled is the Sender used when no SMTP server is configured.
type Disabled struct{}

func (Disabled) Send(context.Context, string, string, string) error {
	return ErrNotConfigured
}

func (Disabled) Configured() bool {
	return false
}

// VerificationMessage renders the subject and body of a verification email.
func VerificationMessage(name, code string, ttl time.Duration) (string, string) {
	subject := "Your Student Library verification code"
	greeting := "Hello!"
	if name != "" {
		greeting = fmt.Sprintf("Hello %s!", name)
	}
	body := fmt.Sprintf(`%s

Your verification code for the Student Library is:

    %s

This code will expire in %d minutes.

If you didn't create an account, you can safely ignore this email.

- The Student Library Team`, greeting, code, int(ttl.Minutes()))

	return subject, body
}
