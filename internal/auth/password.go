package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/ledger/internal/models"
	"github.com/mmynk/ledger/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailExists        = errors.New("email already registered")
)

// UserStorage is the part of a session the authenticator needs.
type UserStorage interface {
	Add(records ...models.Record)
	Flush(ctx context.Context) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
}

var _ Authenticator = (*PasswordAuthenticator)(nil)

// PasswordAuthenticator implements password-based authentication using bcrypt.
type PasswordAuthenticator struct {
	cost int
}

// NewPasswordAuthenticator creates a new password-based authenticator.
func NewPasswordAuthenticator() *PasswordAuthenticator {
	return &PasswordAuthenticator{cost: bcrypt.DefaultCost}
}

// ValidateCredential checks if the password meets minimum requirements.
func (a *PasswordAuthenticator) ValidateCredential(credential string) error {
	if len(credential) < 8 {
		return ErrWeakPassword
	}
	return nil
}

// Register creates a user with a hashed password. A concurrent registration
// of the same email can still fail at flush with the store's unique
// constraint error, which is returned as is.
func (a *PasswordAuthenticator) Register(ctx context.Context, users UserStorage, email, credential string) (*models.User, error) {
	if err := a.ValidateCredential(credential); err != nil {
		return nil, err
	}

	existing, err := users.UserByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, ErrEmailExists
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(credential), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.NewUser(email, string(hashed))
	users.Add(user)
	if err := users.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Authenticate verifies the email and password, returning the user if valid.
// Unknown emails and wrong passwords give ErrInvalidCredentials; store
// failures are returned wrapped.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, users UserStorage, email, credential string) (*models.User, error) {
	user, err := users.UserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}
