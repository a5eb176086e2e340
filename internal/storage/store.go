// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/ledger/internal/models"
	"github.com/mmynk/ledger/internal/scope"
)

var (
	// ErrNotFound is returned when a lookup by key matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrPoolTimeout is returned when no connection became free within the
	// configured pool timeout.
	ErrPoolTimeout = errors.New("timed out waiting for a database connection")

	// ErrConflict marks a write that lost to a transaction committed by
	// another session after this one started reading. The work can be
	// retried in a fresh transaction.
	ErrConflict = errors.New("concurrent update, retry")

	// ErrSessionClosed is returned by a session after it was released.
	ErrSessionClosed = errors.New("session is closed")
)

// Session is a unit of work. Records attached with Add are written on Flush
// or Commit; everything not committed is discarded when the session is
// released.
//
// Reads return soft-deleted rows too. Callers filter them.
type Session interface {
	// Add attaches records. New records are inserted on flush, persisted
	// ones are updated.
	Add(records ...models.Record)

	// Flush writes attached records inside the session transaction and
	// assigns ids to new ones.
	Flush(ctx context.Context) error

	// Commit flushes and commits the session transaction.
	Commit(ctx context.Context) error

	// Rollback discards attached records and the open transaction.
	Rollback() error

	// Get loads the record with the given primary key into rec.
	// Returns an error wrapping ErrNotFound if there is none.
	Get(ctx context.Context, rec models.Record, id int64) error

	UserByEmail(ctx context.Context, email string) (*models.User, error)

	// PersonsByUser returns the persons of a user ordered by balance.
	PersonsByUser(ctx context.Context, userID int64) ([]*models.Person, error)

	// OperationsByPerson returns the operations of a person ordered by
	// creation time, oldest first.
	OperationsByPerson(ctx context.Context, personID int64) ([]*models.Operation, error)
}

// Sessions maps scope keys to live sessions.
type Sessions interface {
	// Session returns the session of the scope carried by ctx, creating it
	// on first use.
	Session(ctx context.Context) Session

	// Remove releases the session of key, if any, and forgets it.
	Remove(key scope.Key) error
}
