package auth

import (
	"context"

	"github.com/mmynk/ledger/internal/models"
)

// Authenticator defines the interface for authentication implementations.
// Implementations work inside the caller's session and never commit it.
type Authenticator interface {
	// Register creates a new user with the given email and credential and
	// flushes it so it has an id. Returns ErrEmailExists if the email is
	// already taken.
	Register(ctx context.Context, users UserStorage, email, credential string) (*models.User, error)

	// Authenticate verifies the user's credentials and returns the user if
	// successful. Returns ErrInvalidCredentials if they do not match.
	Authenticate(ctx context.Context, users UserStorage, email, credential string) (*models.User, error)

	// ValidateCredential checks if the credential meets the implementation's requirements.
	ValidateCredential(credential string) error
}
