package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/edgard/intake/internal/errors"
)

// classifyError maps driver errors onto the application error codes so the
// callers can tell duplicates, constraint failures and retryable failures
// apart without knowing the dialect. Unrecognised errors are wrapped as-is.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed"):
			return apperrors.NewDuplicateKeyError(op, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			return apperrors.NewConstraintError(op, err)
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return apperrors.NewTransientError(op, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return apperrors.NewDuplicateKeyError(op, err)
		case strings.HasPrefix(pgErr.Code, "23"):
			return apperrors.NewConstraintError(op, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "57P0"),
			pgErr.Code == "40001",
			pgErr.Code == "40P01":
			return apperrors.NewTransientError(op, err)
		}
	}

	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return apperrors.NewTransientError(op, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.New(apperrors.CodeNotFound, op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
