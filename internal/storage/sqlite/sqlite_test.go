package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/ledger/internal/models"
	"github.com/mmynk/ledger/internal/scope"
	"github.com/mmynk/ledger/internal/storage"
)

func newTestDB(t *testing.T, opts Options) *DB {
	t.Helper()

	if opts.DSN == "" {
		opts.DSN = filepath.Join(t.TempDir(), "test.db")
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 4
	}
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

// seedUser commits a user with one person and returns both.
func seedUser(t *testing.T, db *DB, email string) (*models.User, *models.Person) {
	t.Helper()
	ctx := context.Background()

	s := db.NewSession()
	defer s.Close()

	user := models.NewUser(email, "hash")
	s.Add(user)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush user failed: %v", err)
	}
	person := models.NewPerson(user.ID, "Main", decimal.Zero)
	s.Add(person)
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return user, person
}

func TestSession(t *testing.T) {
	db := newTestDB(t, Options{})
	ctx := context.Background()

	t.Run("Add assigns identity only on flush", func(t *testing.T) {
		s := db.NewSession()
		defer s.Close()

		user := models.NewUser("flush@example.com", "hash")
		s.Add(user)
		if user.ID != 0 {
			t.Fatalf("Expected no id before flush, got %d", user.ID)
		}

		if err := s.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if user.ID == 0 {
			t.Error("Expected id to be assigned by flush")
		}
		if user.Created.IsZero() {
			t.Error("Expected Created to be set")
		}
	})

	t.Run("Person balance round-trips exactly", func(t *testing.T) {
		user, _ := seedUser(t, db, "decimal@example.com")

		s := db.NewSession()
		defer s.Close()

		want := decimal.RequireFromString("10.50")
		person := models.NewPerson(user.ID, "Savings", want)
		s.Add(person)
		if err := s.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		reader := db.NewSession()
		defer reader.Close()

		got := &models.Person{}
		if err := reader.Get(ctx, got, person.ID); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.Balance.Equal(want) {
			t.Errorf("Balance mismatch: got %s, want %s", got.Balance, want)
		}
		if got.Name != "Savings" || got.UserID != user.ID {
			t.Errorf("Unexpected person: %+v", got)
		}
		if !got.Created.Equal(person.Created) {
			t.Errorf("Created mismatch: got %v, want %v", got.Created, person.Created)
		}
	})

	t.Run("Duplicate person name per user fails with constraint error", func(t *testing.T) {
		user, existing := seedUser(t, db, "dup-person@example.com")

		s := db.NewSession()
		defer s.Close()

		dup := models.NewPerson(user.ID, existing.Name, decimal.NewFromInt(3))
		s.Add(dup)
		err := s.Commit(ctx)
		if err == nil {
			t.Fatal("Expected constraint error, got nil")
		}
		if !IsConstraintViolation(err) || !IsUniqueViolation(err) {
			t.Errorf("Expected unique constraint error, got %v", err)
		}
		if dup.ID != 0 {
			t.Errorf("Expected failed insert to leave id unset, got %d", dup.ID)
		}

		persons, err := s.PersonsByUser(ctx, user.ID)
		if err != nil {
			t.Fatalf("PersonsByUser failed: %v", err)
		}
		if len(persons) != 1 {
			t.Errorf("Expected 1 person, got %d", len(persons))
		}
	})

	t.Run("Same person name under another user is allowed", func(t *testing.T) {
		_, first := seedUser(t, db, "shared-a@example.com")
		other, _ := seedUser(t, db, "shared-b@example.com")

		s := db.NewSession()
		defer s.Close()

		s.Add(models.NewPerson(other.ID, first.Name+"-2", decimal.Zero))
		if err := s.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	})

	t.Run("Duplicate email fails with constraint error", func(t *testing.T) {
		seedUser(t, db, "dup@example.com")

		s := db.NewSession()
		defer s.Close()

		s.Add(models.NewUser("dup@example.com", "other"))
		err := s.Commit(ctx)
		if !IsUniqueViolation(err) {
			t.Errorf("Expected unique constraint error, got %v", err)
		}
	})

	t.Run("Missing person fails with foreign key error", func(t *testing.T) {
		s := db.NewSession()
		defer s.Close()

		s.Add(models.NewOperation(999999, decimal.NewFromInt(1), "orphan"))
		err := s.Commit(ctx)
		if !IsConstraintViolation(err) {
			t.Errorf("Expected constraint error, got %v", err)
		}
		if IsUniqueViolation(err) {
			t.Errorf("Foreign key error reported as unique violation: %v", err)
		}
	})

	t.Run("Delete stamps deleted and keeps row readable", func(t *testing.T) {
		_, person := seedUser(t, db, "delete@example.com")

		s := db.NewSession()
		defer s.Close()

		loaded := &models.Person{}
		if err := s.Get(ctx, loaded, person.ID); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		loaded.Delete()
		s.Add(loaded)
		if err := s.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		reread := &models.Person{}
		if err := s.Get(ctx, reread, person.ID); err != nil {
			t.Fatalf("Get after delete failed: %v", err)
		}
		if !reread.IsDeleted() {
			t.Error("Expected deleted timestamp to be set")
		}
		if reread.Name != person.Name || !reread.Balance.Equal(person.Balance) {
			t.Errorf("Delete changed fields: %+v", reread)
		}
	})

	t.Run("Uncommitted work is discarded on Close", func(t *testing.T) {
		_, person := seedUser(t, db, "discard@example.com")

		writer := db.NewSession()
		op := models.NewOperation(person.ID, decimal.NewFromInt(-5), "pending")
		writer.Add(op)
		if err := writer.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}

		reader := db.NewSession()
		defer reader.Close()

		ops, err := reader.OperationsByPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("OperationsByPerson failed: %v", err)
		}
		if len(ops) != 0 {
			t.Errorf("Reader observed uncommitted operations: %d", len(ops))
		}

		if err := writer.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := reader.Rollback(); err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}

		ops, err = reader.OperationsByPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("OperationsByPerson failed: %v", err)
		}
		if len(ops) != 0 {
			t.Errorf("Expected discarded operation to be gone, got %d", len(ops))
		}
	})

	t.Run("Failed flush clears ids assigned earlier in the transaction", func(t *testing.T) {
		user, existing := seedUser(t, db, "rollback-ids@example.com")

		s := db.NewSession()
		defer s.Close()

		fresh := models.NewUser("rollback-fresh@example.com", "hash")
		s.Add(fresh)
		if err := s.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if fresh.ID == 0 {
			t.Fatal("Expected id to be assigned by flush")
		}

		s.Add(models.NewPerson(user.ID, existing.Name, decimal.Zero))
		if err := s.Flush(ctx); !IsUniqueViolation(err) {
			t.Fatalf("Expected unique constraint error, got %v", err)
		}
		if fresh.ID != 0 {
			t.Errorf("Expected rolled back user to lose its id, got %d", fresh.ID)
		}

		s.Add(fresh)
		if err := s.Commit(ctx); err != nil {
			t.Fatalf("Commit after re-adding failed: %v", err)
		}

		reader := db.NewSession()
		defer reader.Close()

		got, err := reader.UserByEmail(ctx, fresh.Email)
		if err != nil {
			t.Fatalf("UserByEmail failed: %v", err)
		}
		if got.ID != fresh.ID {
			t.Errorf("Stored id %d, record has %d", got.ID, fresh.ID)
		}
	})

	t.Run("Rollback and Close clear ids of discarded inserts", func(t *testing.T) {
		s := db.NewSession()

		rolledBack := models.NewUser("rolled-back@example.com", "hash")
		s.Add(rolledBack)
		if err := s.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if err := s.Rollback(); err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if rolledBack.Persisted() {
			t.Errorf("Expected no id after Rollback, got %d", rolledBack.ID)
		}

		closed := models.NewUser("closed@example.com", "hash")
		s.Add(closed)
		if err := s.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if closed.Persisted() {
			t.Errorf("Expected no id after Close, got %d", closed.ID)
		}
	})

	t.Run("Committed ids survive a later rollback", func(t *testing.T) {
		s := db.NewSession()
		defer s.Close()

		kept := models.NewUser("kept@example.com", "hash")
		s.Add(kept)
		if err := s.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		s.Add(models.NewUser("kept-dropped@example.com", "hash"))
		if err := s.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if err := s.Rollback(); err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if !kept.Persisted() {
			t.Error("Committed user lost its id")
		}
	})

	t.Run("Operations are ordered by creation", func(t *testing.T) {
		_, person := seedUser(t, db, "order@example.com")

		s := db.NewSession()
		defer s.Close()

		base := time.Now().UTC()
		inserts := []struct {
			desc   string
			offset time.Duration
		}{
			{"third", 2 * time.Second},
			{"first", 0},
			{"second", time.Second},
		}
		for i, in := range inserts {
			op := models.NewOperation(person.ID, decimal.NewFromInt(int64(i)), in.desc)
			op.Created = base.Add(in.offset)
			s.Add(op)
		}
		if err := s.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		ops, err := s.OperationsByPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("OperationsByPerson failed: %v", err)
		}
		var got []string
		for _, op := range ops {
			got = append(got, op.Description)
		}
		if strings.Join(got, ",") != "first,second,third" {
			t.Errorf("Unexpected order: %v", got)
		}
	})

	t.Run("Persons are ordered by balance", func(t *testing.T) {
		user, _ := seedUser(t, db, "balance-order@example.com")

		s := db.NewSession()
		defer s.Close()

		s.Add(
			models.NewPerson(user.ID, "Rich", decimal.RequireFromString("100.25")),
			models.NewPerson(user.ID, "Poor", decimal.RequireFromString("-9.5")),
		)
		if err := s.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		persons, err := s.PersonsByUser(ctx, user.ID)
		if err != nil {
			t.Fatalf("PersonsByUser failed: %v", err)
		}
		var got []string
		for _, p := range persons {
			got = append(got, p.Name)
		}
		if strings.Join(got, ",") != "Poor,Main,Rich" {
			t.Errorf("Unexpected order: %v", got)
		}
	})

	t.Run("Lookups of missing rows return ErrNotFound", func(t *testing.T) {
		s := db.NewSession()
		defer s.Close()

		if err := s.Get(ctx, &models.User{}, 424242); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get: expected ErrNotFound, got %v", err)
		}
		if _, err := s.UserByEmail(ctx, "nobody@example.com"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("UserByEmail: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Closed session rejects work", func(t *testing.T) {
		s := db.NewSession()
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("Second Close should be a no-op, got %v", err)
		}
		if err := s.Get(ctx, &models.User{}, 1); !errors.Is(err, storage.ErrSessionClosed) {
			t.Errorf("Expected ErrSessionClosed, got %v", err)
		}
	})
}

func TestPoolTimeout(t *testing.T) {
	db := newTestDB(t, Options{PoolSize: 1, PoolTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	holder := db.NewSession()
	if _, err := holder.PersonsByUser(ctx, 1); err != nil {
		t.Fatalf("PersonsByUser failed: %v", err)
	}

	waiter := db.NewSession()
	defer waiter.Close()

	_, err := waiter.PersonsByUser(ctx, 1)
	if !errors.Is(err, storage.ErrPoolTimeout) {
		t.Fatalf("Expected ErrPoolTimeout, got %v", err)
	}

	if err := holder.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := waiter.PersonsByUser(ctx, 1); err != nil {
		t.Errorf("Expected connection after release, got %v", err)
	}
}

func TestConcurrentWriteConflict(t *testing.T) {
	db := newTestDB(t, Options{})
	ctx := context.Background()
	_, person := seedUser(t, db, "race@example.com")

	first := db.NewSession()
	defer first.Close()
	second := db.NewSession()
	defer second.Close()

	a, b := &models.Person{}, &models.Person{}
	if err := first.Get(ctx, a, person.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := second.Get(ctx, b, person.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	a.Apply(decimal.NewFromInt(1))
	first.Add(a)
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}

	b.Apply(decimal.NewFromInt(1))
	second.Add(b)
	err := second.Commit(ctx)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	if !IsBusy(err) {
		t.Errorf("Expected the driver's busy error to stay reachable, got %v", err)
	}

	// A fresh transaction sees the first commit and succeeds.
	if err := second.Get(ctx, b, person.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	b.Apply(decimal.NewFromInt(1))
	second.Add(b)
	if err := second.Commit(ctx); err != nil {
		t.Fatalf("Retry commit failed: %v", err)
	}

	reader := db.NewSession()
	defer reader.Close()
	got := &models.Person{}
	if err := reader.Get(ctx, got, person.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected balance 2, got %s", got.Balance)
	}
}

func TestRegistry(t *testing.T) {
	db := newTestDB(t, Options{})
	reg := NewRegistry(db)
	defer reg.Close()

	keyA, keyB := scope.Next(), scope.Next()
	ctxA := scope.WithKey(context.Background(), keyA)
	ctxB := scope.WithKey(context.Background(), keyB)

	t.Run("same scope resolves the same session", func(t *testing.T) {
		if reg.Session(ctxA) != reg.Session(ctxA) {
			t.Error("Expected one session per scope key")
		}
	})

	t.Run("different scopes never share a session", func(t *testing.T) {
		if reg.Session(ctxA) == reg.Session(ctxB) {
			t.Error("Expected distinct sessions for distinct keys")
		}
		if reg.Len() != 2 {
			t.Errorf("Expected 2 live sessions, got %d", reg.Len())
		}
	})

	t.Run("untracked contexts share the default scope", func(t *testing.T) {
		s := reg.Session(context.Background())
		if s != reg.Session(context.TODO()) {
			t.Error("Expected untracked contexts to share the default session")
		}
		if !reg.Active(scope.Default) {
			t.Error("Expected default scope to be active")
		}
		if err := reg.Remove(scope.Default); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	})

	t.Run("Remove releases and forgets the session", func(t *testing.T) {
		s := reg.Session(ctxA)
		if _, err := s.PersonsByUser(ctxA, 1); err != nil {
			t.Fatalf("PersonsByUser failed: %v", err)
		}

		if err := reg.Remove(keyA); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if reg.Active(keyA) {
			t.Error("Expected key to be gone after Remove")
		}
		if _, err := s.PersonsByUser(ctxA, 1); !errors.Is(err, storage.ErrSessionClosed) {
			t.Errorf("Expected released session to be closed, got %v", err)
		}
		if reg.Session(ctxA) == s {
			t.Error("Expected a fresh session after Remove")
		}
	})

	t.Run("Remove of unknown key is a no-op", func(t *testing.T) {
		if err := reg.Remove(scope.Next()); err != nil {
			t.Errorf("Remove of unknown key failed: %v", err)
		}
	})

	t.Run("Close releases everything", func(t *testing.T) {
		reg.Session(ctxB)
		if err := reg.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if reg.Len() != 0 {
			t.Errorf("Expected no live sessions, got %d", reg.Len())
		}
	})
}

func TestTableDDL(t *testing.T) {
	stmts := tableDDL(models.PersonTable)
	create := stmts[0]

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "person"`,
		`"id" INTEGER PRIMARY KEY`,
		`"balance" TEXT NOT NULL DEFAULT '0'`,
		`"deleted" DATETIME,`,
		`UNIQUE ("user_id", "name")`,
		`FOREIGN KEY ("user_id") REFERENCES "user" ("id")`,
	} {
		if !strings.Contains(create, want) {
			t.Errorf("DDL missing %q:\n%s", want, create)
		}
	}

	indexes := stmts[1:]
	for _, col := range []string{"created", "deleted", "name"} {
		want := `"ix_person_` + col + `"`
		found := false
		for _, idx := range indexes {
			if strings.Contains(idx, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("Missing index on %s", col)
		}
	}
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain path", filepath.Join(dir, "a.db"), "file:" + filepath.Join(dir, "a.db") + "?_time_format=sqlite"},
		{"sqlite scheme", "sqlite://" + filepath.Join(dir, "b.db"), "file:" + filepath.Join(dir, "b.db") + "?_time_format=sqlite"},
		{"keeps query", filepath.Join(dir, "c.db") + "?_txlock=immediate", "file:" + filepath.Join(dir, "c.db") + "?_txlock=immediate&_time_format=sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.raw)
			if err != nil {
				t.Fatalf("buildDSN failed: %v", err)
			}
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("buildDSN(%q) = %q, want prefix %q", tt.raw, got, tt.want)
			}
		})
	}

	if _, err := buildDSN(""); err == nil {
		t.Error("Expected error for empty path")
	}
}
