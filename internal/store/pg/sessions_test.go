package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"villagegrid.org/internal/auth"
)

func TestRotateRevokedSessionFails(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()

	// The is_active guard means a revoked row matches nothing.
	mock.ExpectExec(regexp.QuoteMeta("update sessions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Sessions().Rotate(context.Background(), "sess-1", "hash", "jti",
		now.Add(time.Hour), now.Add(7*24*time.Hour), now)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRevokeAllForUserReportsCount(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("update sessions")).
		WithArgs("user-1", "keep-me").
		WillReturnResult(sqlmock.NewResult(0, 3))

	revoked, err := st.Sessions().RevokeAllForUser(context.Background(), "user-1", "keep-me")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("revoked = %d, want 3", revoked)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteSystemRoleIsConflict(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("delete from roles")).
		WithArgs("role-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select is_system_role")).
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"is_system_role"}).AddRow(true))

	err := st.Roles().Delete(context.Background(), "role-1")
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestDeleteUnknownRoleIsNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("delete from roles")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select is_system_role")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"is_system_role"}))

	err := st.Roles().Delete(context.Background(), "missing")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
