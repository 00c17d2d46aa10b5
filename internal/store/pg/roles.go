package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"villagegrid.org/internal/auth"
)

type roleStore struct{ s *Store }

const roleColumns = `id, name, display_name, is_system_role, permissions, created_at, updated_at`

func (st *roleStore) Create(ctx context.Context, role *auth.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		_, err := st.s.db.ExecContext(ctx, `
			insert into roles (id, name, display_name, is_system_role, permissions, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, role.ID, role.Name, role.DisplayName, role.System, perms, role.CreatedAt, role.UpdatedAt)
		return mapConstraintError(err)
	})
}

func (st *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	var role *auth.Role
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		row := st.s.db.QueryRowContext(ctx,
			`select `+roleColumns+` from roles where id = $1`, id)
		var err error
		role, err = scanRole(row)
		return err
	})
	return role, err
}

func (st *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	var role *auth.Role
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		row := st.s.db.QueryRowContext(ctx,
			`select `+roleColumns+` from roles where name = $1`, name)
		var err error
		role, err = scanRole(row)
		return err
	})
	return role, err
}

func (st *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	var out []*auth.Role
	err := st.s.withRetry(ctx, func(ctx context.Context) error {
		rows, err := st.s.db.QueryContext(ctx,
			`select `+roleColumns+` from roles order by name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			role, err := scanRole(rows)
			if err != nil {
				return err
			}
			out = append(out, role)
		}
		return rows.Err()
	})
	return out, err
}

func (st *roleStore) SetPermissions(ctx context.Context, roleID string, perms auth.PermissionSet) error {
	data, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx, `
			update roles set permissions = $2, updated_at = now() where id = $1
		`, roleID, data)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// Delete refuses system roles in SQL and relies on the role_id foreign key
// to reject roles still referenced by users.
func (st *roleStore) Delete(ctx context.Context, roleID string) error {
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		res, err := st.s.db.ExecContext(ctx,
			`delete from roles where id = $1 and is_system_role = false`, roleID)
		if err != nil {
			return mapConstraintError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Either unknown or a protected system role; tell them apart.
			var isSystem bool
			err := st.s.db.QueryRowContext(ctx,
				`select is_system_role from roles where id = $1`, roleID).Scan(&isSystem)
			if errors.Is(err, sql.ErrNoRows) {
				return auth.ErrNotFound
			}
			if err != nil {
				return err
			}
			return auth.ErrConflict
		}
		return nil
	})
}

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		role  auth.Role
		perms []byte
	)
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.System,
		&perms, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if role.Permissions == nil {
		role.Permissions = auth.PermissionSet{}
	}
	return &role, nil
}
