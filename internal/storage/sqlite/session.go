package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmynk/ledger/internal/models"
	"github.com/mmynk/ledger/internal/storage"
)

// Ensure Session implements storage.Session
var _ storage.Session = (*Session)(nil)

// Session groups store operations into one transaction on one pooled
// connection. The connection is taken on first use and returned by Commit,
// Rollback or Close.
type Session struct {
	db *DB

	mu      sync.Mutex
	conn    *sql.Conn
	tx      *sql.Tx
	pending []models.Record
	closed  bool

	// inserted holds records given an id by the open transaction. Their ids
	// are cleared if it rolls back.
	inserted []models.Record
}

// Add attaches records to the session. Nothing is written until Flush.
func (s *Session) Add(records ...models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if !slices.Contains(s.pending, rec) {
			s.pending = append(s.pending, rec)
		}
	}
}

// begin opens the session transaction if there is none. Caller holds mu.
func (s *Session) begin(ctx context.Context) (*sql.Tx, error) {
	if s.closed {
		return nil, storage.ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}

	conn, err := s.db.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	s.conn, s.tx = conn, tx
	return tx, nil
}

// Flush writes attached records. On failure the transaction is rolled back,
// ids assigned since it began are cleared and the error is returned as the
// driver reported it, marked with storage.ErrConflict when another writer
// got there first.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(ctx)
}

func (s *Session) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	for _, rec := range s.pending {
		if rec.Identity().Persisted() {
			err = update(ctx, tx, rec)
		} else {
			err = insert(ctx, tx, rec)
			if err == nil {
				s.inserted = append(s.inserted, rec)
			}
		}
		if err != nil {
			s.rollback()
			return markConflict(err)
		}
	}

	s.pending = nil
	return nil
}

// Commit flushes attached records and commits. The session stays usable;
// the next operation starts a new transaction.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flush(ctx); err != nil {
		return err
	}
	if s.tx == nil {
		return nil
	}

	if err := s.tx.Commit(); err != nil {
		s.rollback()
		return fmt.Errorf("failed to commit transaction: %w", markConflict(err))
	}
	s.tx = nil
	s.inserted = nil
	s.releaseConn()
	return nil
}

// Rollback discards attached records and the open transaction.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollback()
}

func (s *Session) rollback() error {
	s.pending = nil
	for _, rec := range s.inserted {
		rec.Identity().ID = 0
	}
	s.inserted = nil
	if s.tx == nil {
		return nil
	}

	err := s.tx.Rollback()
	s.tx = nil
	s.releaseConn()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func (s *Session) releaseConn() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.db.logger.Warn("Failed to return connection to pool", "error", err)
	}
	s.conn = nil
}

// Close releases the session: uncommitted work is discarded and the
// connection goes back to the pool. Calling Close again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.rollback()
	s.closed = true
	return err
}

// Get loads the row with primary key id into rec.
func (s *Session) Get(ctx context.Context, rec models.Record, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	table := rec.Table()
	err = tx.QueryRowContext(ctx, selectSQL(table)+` WHERE "id" = ?`, id).Scan(rec.Targets()...)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %d: %w", table.Name, id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", table.Name, err)
	}
	return nil
}

// UserByEmail returns the user with the given email.
func (s *Session) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	users, err := selectWhere(ctx, s, func() *models.User { return &models.User{} },
		`WHERE "email" = ?`, email)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %s: %w", email, storage.ErrNotFound)
	}
	return users[0], nil
}

// PersonsByUser returns the persons of a user ordered by balance.
func (s *Session) PersonsByUser(ctx context.Context, userID int64) ([]*models.Person, error) {
	return selectWhere(ctx, s, func() *models.Person { return &models.Person{} },
		`WHERE "user_id" = ? ORDER BY CAST("balance" AS REAL), "id"`, userID)
}

// OperationsByPerson returns the operations of a person, oldest first.
func (s *Session) OperationsByPerson(ctx context.Context, personID int64) ([]*models.Operation, error) {
	return selectWhere(ctx, s, func() *models.Operation { return &models.Operation{} },
		`WHERE "person_id" = ? ORDER BY "created", "id"`, personID)
}

func selectWhere[T models.Record](ctx context.Context, s *Session, newRecord func() T, clause string, args ...any) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	table := newRecord().Table()
	rows, err := tx.QueryContext(ctx, selectSQL(table)+" "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table.Name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		rec := newRecord()
		if err := rows.Scan(rec.Targets()...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table.Name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table.Name, err)
	}
	return out, nil
}

func insert(ctx context.Context, tx *sql.Tx, rec models.Record) error {
	base := rec.Identity()
	if base.Created.IsZero() {
		base.Created = time.Now().UTC()
	}

	table := rec.Table()
	cols := table.ColumnNames()[1:]
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table.Name), quoteList(cols), placeholders(len(cols)))

	result, err := tx.ExecContext(ctx, query, rec.Values()...)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", table.Name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get %s id: %w", table.Name, err)
	}
	base.ID = id
	return nil
}

func update(ctx context.Context, tx *sql.Tx, rec models.Record) error {
	table := rec.Table()
	cols := table.ColumnNames()[1:]
	assignments := make([]string, len(cols))
	for i, c := range cols {
		assignments[i] = quote(c) + " = ?"
	}
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE "id" = ?`,
		quote(table.Name), strings.Join(assignments, ", "))

	args := append(rec.Values(), rec.Identity().ID)
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table.Name, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %d: %w", table.Name, rec.Identity().ID, storage.ErrNotFound)
	}
	return nil
}

func selectSQL(t *models.Table) string {
	return fmt.Sprintf("SELECT %s FROM %s", quoteList(t.ColumnNames()), quote(t.Name))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
