package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"villagegrid.org/internal/auth"
)

type auditStore struct{ s *Store }

// Append inserts one row. The table carries no update or delete paths; the
// insert is the only statement this store ever issues.
func (st *auditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	oldVal, err := marshalSnapshot(entry.OldValue)
	if err != nil {
		return err
	}
	newVal, err := marshalSnapshot(entry.NewValue)
	if err != nil {
		return err
	}
	actor := sql.NullString{String: entry.ActorID, Valid: entry.ActorID != ""}
	return st.s.withRetry(ctx, func(ctx context.Context) error {
		_, err := st.s.db.ExecContext(ctx, `
			insert into audit_log (id, occurred_at, actor_id, action, resource_type,
				resource_id, old_value, new_value, ip, user_agent, success, error)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, entry.ID, entry.OccurredAt, actor, entry.Action, entry.ResourceType,
			entry.ResourceID, oldVal, newVal, entry.IP, entry.UserAgent,
			entry.Success, entry.Error)
		return err
	})
}

func marshalSnapshot(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
