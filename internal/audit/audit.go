// Package audit persists the append-only security event trail.
package audit

import (
	"context"
	"time"

	"villagegrid.org/internal/auth"
	"villagegrid.org/internal/ids"
	"villagegrid.org/internal/obs"
)

// Recorder appends entries to the audit store. Record is fire-and-forget
// relative to the operation it describes: a write failure is reported to the
// operational log and swallowed, never failing the primary request.
type Recorder struct {
	store auth.AuditStore
	now   func() time.Time
}

var _ auth.Auditor = (*Recorder)(nil)

// NewRecorder wraps the given audit store.
func NewRecorder(store auth.AuditStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record appends one entry, assigning id and timestamp when missing.
func (r *Recorder) Record(ctx context.Context, entry auth.AuditEntry) {
	if r == nil || r.store == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	// Audit writes ride on the request context but must survive its
	// cancellation: use a detached context with a short deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.Append(writeCtx, &entry); err != nil {
		obs.LogError("audit append failed", err, map[string]any{
			"action":      entry.Action,
			"actor_id":    entry.ActorID,
			"resource_id": entry.ResourceID,
		})
	}
}
