package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"villagegrid.org/internal/auth"
)

type sessionStore struct{ s *Store }

const sessionColumns = `id, user_id, access_token_id, refresh_hash, access_expires_at,
	refresh_expires_at, ip, device, is_active, created_at, last_used_at`

func (st *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		_, err := st.s.db.ExecContext(ctx, `
			insert into sessions (id, user_id, access_token_id, refresh_hash,
				access_expires_at, refresh_expires_at, ip, device, is_active,
				created_at, last_used_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sess.ID, sess.UserID, sess.AccessTokenID, sess.RefreshHash,
			sess.AccessExpiresAt, sess.RefreshExpiresAt, sess.IP, sess.Device,
			sess.Active, sess.CreatedAt, sess.LastUsedAt)
		return mapConstraintError(err)
	})
}

func (st *sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	var sess *auth.Session
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		row := st.s.db.QueryRowContext(ctx,
			`select `+sessionColumns+` from sessions where id = $1`, id)
		var err error
		sess, err = scanSession(row)
		return err
	})
	return sess, err
}

func (st *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx,
			`update sessions set last_used_at = $2 where id = $1 and is_active = true`, id, at)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// Rotate swaps the refresh hash and access token id in one conditional
// update; a revoked session can never be rotated back to life.
func (st *sessionStore) Rotate(ctx context.Context, id, refreshHash, accessTokenID string, accessExp, refreshExp, at time.Time) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx, `
			update sessions
			   set refresh_hash = $2, access_token_id = $3,
			       access_expires_at = $4, refresh_expires_at = $5, last_used_at = $6
			 where id = $1 and is_active = true
		`, id, refreshHash, accessTokenID, accessExp, refreshExp, at)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (st *sessionStore) Revoke(ctx context.Context, id string) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx,
			`update sessions set is_active = false where id = $1`, id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (st *sessionStore) RevokeAllForUser(ctx context.Context, userID, exceptID string) (int, error) {
	var revoked int
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx, `
			update sessions
			   set is_active = false
			 where user_id = $1 and is_active = true and id <> coalesce(nullif($2,''), '00000000-0000-0000-0000-000000000000')
		`, userID, exceptID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		revoked = int(n)
		return nil
	})
	return revoked, err
}

func (st *sessionStore) ListActive(ctx context.Context, userID string) ([]*auth.Session, error) {
	var out []*auth.Session
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		rows, err := st.s.db.QueryContext(ctx, `
			select `+sessionColumns+` from sessions
			 where user_id = $1 and is_active = true and refresh_expires_at > now()
			 order by created_at
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return err
			}
			out = append(out, sess)
		}
		return rows.Err()
	})
	return out, err
}

func scanSession(row rowScanner) (*auth.Session, error) {
	var sess auth.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.AccessTokenID, &sess.RefreshHash,
		&sess.AccessExpiresAt, &sess.RefreshExpiresAt, &sess.IP, &sess.Device,
		&sess.Active, &sess.CreatedAt, &sess.LastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}
