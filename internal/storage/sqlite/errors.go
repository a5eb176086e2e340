package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmynk/ledger/internal/storage"
)

// IsConstraintViolation reports whether err was caused by a UNIQUE, NOT NULL,
// FOREIGN KEY or CHECK constraint. The error itself is left untouched.
func IsConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// IsUniqueViolation reports whether err was caused by a UNIQUE or PRIMARY KEY
// constraint.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// Extended codes disabled on this connection.
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

// IsBusy reports whether err is SQLITE_BUSY or one of its extended codes,
// such as the BUSY_SNAPSHOT a deferred transaction gets when it tries to
// write after another connection committed.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_BUSY
}

// markConflict wraps busy errors with storage.ErrConflict. The driver error
// stays reachable through errors.As.
func markConflict(err error) error {
	if IsBusy(err) {
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	}
	return err
}
