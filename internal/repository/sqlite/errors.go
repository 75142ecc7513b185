package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/sandbox-server/internal/apperror"
)

// storeErr wraps an unexpected driver failure. Expected outcomes (no rows,
// unique violations) are translated before this is reached.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) || errors.Is(err, apperror.ErrStoreUnavailable) {
		return err
	}
	return apperror.StoreUnavailable(op, err)
}

// uniqueViolation reports whether err is a UNIQUE constraint failure on
// table.column, e.g. uniqueViolation(err, "members.email").
func uniqueViolation(err error, column string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	if code != sqlite3.SQLITE_CONSTRAINT_UNIQUE && code != sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return false
	}
	return strings.Contains(se.Error(), column)
}

// foreignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func foreignKeyViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// checkViolation reports whether err is a CHECK constraint failure.
func checkViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_CHECK
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// Extended codes keep the primary code in the low byte.
	primary := se.Code() & 0xff
	return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
