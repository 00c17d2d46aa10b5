package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"villagegrid.org/internal/auth"
)

type userStore struct{ s *Store }

const userColumns = `id, username, email, first_name, last_name, password_hash, role_id,
	is_active, failed_login_attempts, locked_until, last_login_at, login_count,
	password_changed_at, created_at, updated_at, deleted_at`

func (st *userStore) Create(ctx context.Context, u *auth.User) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		_, err := st.s.db.ExecContext(ctx, `
			insert into users (id, username, email, first_name, last_name, password_hash,
				role_id, is_active, password_changed_at, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.PasswordHash,
			u.RoleID, u.Active, u.PasswordChangedAt, u.CreatedAt, u.UpdatedAt)
		return mapConstraintError(err)
	})
}

func (st *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	var u *auth.User
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		row := st.s.db.QueryRowContext(ctx,
			`select `+userColumns+` from users where id = $1 and deleted_at is null`, id)
		var err error
		u, err = scanUser(row)
		return err
	})
	return u, err
}

func (st *userStore) FindByLogin(ctx context.Context, login string) (*auth.User, error) {
	var u *auth.User
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		row := st.s.db.QueryRowContext(ctx,
			`select `+userColumns+` from users
			 where (username = $1 or email = $1) and deleted_at is null`, login)
		var err error
		u, err = scanUser(row)
		return err
	})
	return u, err
}

func (st *userStore) Update(ctx context.Context, u *auth.User) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx, `
			update users
			   set email = $2, first_name = $3, last_name = $4, role_id = $5,
			       is_active = $6, updated_at = $7
			 where id = $1 and deleted_at is null
		`, u.ID, u.Email, u.FirstName, u.LastName, u.RoleID, u.Active, u.UpdatedAt)
		if err != nil {
			return mapConstraintError(err)
		}
		return requireRow(res)
	})
}

func (st *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx, `
			update users
			   set password_hash = $2, password_changed_at = $3, updated_at = $3
			 where id = $1 and deleted_at is null
		`, userID, passwordHash, changedAt)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (st *userStore) SoftDelete(ctx context.Context, userID string, at time.Time) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx, `
			update users
			   set deleted_at = $2, is_active = false, updated_at = $2
			 where id = $1 and deleted_at is null
		`, userID, at)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (st *userStore) List(ctx context.Context) ([]*auth.User, error) {
	var out []*auth.User
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		rows, err := st.s.db.QueryContext(ctx,
			`select `+userColumns+` from users where deleted_at is null order by username`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}

// RecordLoginFailure is the single atomic increment-and-check statement:
// concurrent failures serialize on the row lock, so the lock deadline is
// applied exactly when the threshold is crossed.
func (st *userStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	var (
		failures int
		locked   sql.NullTime
	)
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		row := st.s.db.QueryRowContext(ctx, `
			update users
			   set failed_login_attempts = failed_login_attempts + 1,
			       locked_until = case
			           when failed_login_attempts + 1 >= $2 then $3
			           else locked_until
			       end,
			       updated_at = now()
			 where id = $1 and deleted_at is null
			 returning failed_login_attempts, locked_until
		`, userID, threshold, lockUntil)
		if err := row.Scan(&failures, &locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return auth.ErrNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if locked.Valid {
		t := locked.Time
		return failures, &t, nil
	}
	return failures, nil, nil
}

func (st *userStore) RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx, `
			update users
			   set failed_login_attempts = 0, locked_until = null,
			       last_login_at = $2, login_count = login_count + 1, updated_at = $2
			 where id = $1 and deleted_at is null
		`, userID, at)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (st *userStore) Unlock(ctx context.Context, userID string) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx, `
			update users
			   set failed_login_attempts = 0, locked_until = null, updated_at = now()
			 where id = $1 and deleted_at is null
		`, userID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u         auth.User
		locked    sql.NullTime
		lastLogin sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &u.RoleID, &u.Active, &u.FailedLoginAttempts, &locked,
		&lastLogin, &u.LoginCount, &u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if locked.Valid {
		t := locked.Time
		u.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
