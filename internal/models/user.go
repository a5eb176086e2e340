package models

// User represents a registered account.
// Users own zero or more persons; removing them is left to callers.
type User struct {
	Base

	// Email is unique across all users. The store enforces it.
	Email string

	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string
}

// NewUser creates an unsaved user.
func NewUser(email, passwordHash string) *User {
	return &User{Email: email, PasswordHash: passwordHash}
}

func (u *User) Table() *Table { return UserTable }

func (u *User) Values() []any {
	return []any{u.Created, u.Email, u.PasswordHash}
}

func (u *User) Targets() []any {
	return []any{&u.ID, &u.Created, &u.Email, &u.PasswordHash}
}
