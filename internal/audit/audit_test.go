package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"villagegrid.org/internal/auth"
)

type captureStore struct {
	entries    []*auth.AuditEntry
	err        error
	lastCtxErr error
}

func (c *captureStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	// Record cancels its write context once Append returns, so the context
	// state must be captured here, while the write is in flight.
	c.lastCtxErr = ctx.Err()
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, entry)
	return nil
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store)

	rec.Record(context.Background(), auth.AuditEntry{Action: auth.ActionLoginSuccess})

	if len(store.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(store.entries))
	}
	got := store.entries[0]
	if got.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if got.OccurredAt.IsZero() {
		t.Fatal("expected an assigned timestamp")
	}
}

func TestRecordKeepsCallerValues(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec.Record(context.Background(), auth.AuditEntry{
		ID: "fixed-id", Action: auth.ActionLogout, OccurredAt: at,
	})

	got := store.entries[0]
	if got.ID != "fixed-id" || !got.OccurredAt.Equal(at) {
		t.Fatalf("entry mutated: %+v", got)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &captureStore{err: errors.New("disk on fire")}
	rec := NewRecorder(store)

	// Must not panic or propagate; the primary request goes on.
	rec.Record(context.Background(), auth.AuditEntry{Action: auth.ActionLoginFailed})
}

func TestRecordSurvivesCancelledRequestContext(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, auth.AuditEntry{Action: auth.ActionLoginSuccess})

	if len(store.entries) != 1 {
		t.Fatal("entry lost on cancelled request context")
	}
	if store.lastCtxErr != nil {
		t.Fatalf("write context already dead: %v", store.lastCtxErr)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.Record(context.Background(), auth.AuditEntry{Action: auth.ActionLogout})
}
