// Package auth abstracts the authentication provider that owns
// principals. The sync layer only needs sign-in, sign-up and sign-out;
// credential UI and token plumbing stay with the provider.
package auth

import (
	"context"
	"regexp"

	"jobmarket-sync/internal/common/errors"
)

// Principal is an authenticated identity. The ID is stable and opaque;
// documents in the users collection are keyed by it.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Authenticator is the provider contract.
type Authenticator interface {
	// SignIn authenticates an existing account.
	SignIn(ctx context.Context, email, password string) (Principal, error)
	// SignUp creates a new principal. The profile document is NOT
	// created here; that is the session's second write.
	SignUp(ctx context.Context, email, password string) (Principal, error)
	// SignOut invalidates the principal's session with the provider.
	SignOut(ctx context.Context, principalID string) error
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmail rejects obviously malformed addresses before any
// provider round trip.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return errors.NewMalformedEmailError(email)
	}
	return nil
}
