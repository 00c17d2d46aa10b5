// Package pg implements auth.Store on PostgreSQL via database/sql and the
// pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"villagegrid.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerializationFail   = "40001"
	pgErrDeadlockDetected    = "40P01"
)

const (
	defaultOpTimeout  = 3 * time.Second
	defaultMaxRetries = 2
	defaultBackoff    = 100 * time.Millisecond
)

// Store wraps the connection pool. Every call carries a per-operation
// timeout and a small bounded retry with backoff for transient failures;
// after that the caller receives auth.ErrStoreUnavailable rather than a hang.
type Store struct {
	db         *sql.DB
	opTimeout  time.Duration
	maxRetries int
	backoff    time.Duration
}

var _ auth.Store = (*Store)(nil)

// Open connects to PostgreSQL with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing handle (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:         db,
		opTimeout:  defaultOpTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for readiness probes and migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore       { return &userStore{s} }
func (s *Store) Roles() auth.RoleStore       { return &roleStore{s} }
func (s *Store) Sessions() auth.SessionStore { return &sessionStore{s} }
func (s *Store) Audit() auth.AuditStore      { return &auditStore{s} }

// withRetry runs fn under the per-operation timeout, retrying transient
// failures with linear backoff. Domain errors pass through untouched.
func (s *Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		err = fn(opCtx)
		cancel()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt >= s.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", auth.ErrStoreUnavailable, ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("%w: %v", auth.ErrStoreUnavailable, err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrConflict) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrSerializationFail, pgErrDeadlockDetected:
			return true
		}
		// Class 08: connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return false
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapConstraintError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrConflict
		}
	}
	return err
}
