package gate

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestPGProfileFind(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "display_name", "role", "active", "created_at", "updated_at"}).
		AddRow("staff-1", "Front Desk", "staff", true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`select id, display_name, role, active, created_at, updated_at from profiles where id=$1`)).
		WithArgs("staff-1").
		WillReturnRows(rows)

	p, err := store.Profiles(context.Background()).Find(context.Background(), "staff-1")
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, p.Role)
	assert.True(t, p.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGProfileFindMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`select id, display_name, role, active, created_at, updated_at from profiles where id=$1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "role", "active", "created_at", "updated_at"}))

	_, err := store.Profiles(context.Background()).Find(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAddressContains(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`select exists(select 1 from allowed_addresses where address=$1)`)).
		WithArgs("10.0.0.5").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	allowed, err := store.Addresses(context.Background()).Contains(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAddressAddIsConflictSafe(t *testing.T) {
	store, mock := newMockStore(t)

	// A conflicting insert reports zero rows affected but no error.
	mock.ExpectExec(regexp.QuoteMeta(`insert into allowed_addresses(address, note, added_by, added_at)`)).
		WithArgs("10.0.0.5", "", "admin-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Addresses(context.Background()).Add(context.Background(), &AllowedAddress{
		Address: "10.0.0.5",
		AddedBy: "admin-1",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCreatePendingInserts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`insert into access_requests(id, profile_id, address, status, requested_at)`)).
		WithArgs("req-1", "staff-1", "10.0.0.9", StatePending, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := store.Requests(context.Background()).CreatePending(context.Background(), &AccessRequest{
		ID:          "req-1",
		ProfileID:   "staff-1",
		Address:     "10.0.0.9",
		RequestedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.ID)
	assert.Equal(t, StatePending, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCreatePendingReturnsExistingOnConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`insert into access_requests(id, profile_id, address, status, requested_at)`)).
		WithArgs("req-2", "staff-1", "10.0.0.9", StatePending, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`where profile_id=$1 and address=$2 and status=$3`)).
		WithArgs("staff-1", "10.0.0.9", StatePending).
		WillReturnRows(sqlmock.NewRows([]string{"id", "profile_id", "address", "status", "requested_at", "resolved_at", "resolved_by"}).
			AddRow("req-1", "staff-1", "10.0.0.9", "PENDING", now, nil, nil))

	req, err := store.Requests(context.Background()).CreatePending(context.Background(), &AccessRequest{
		ID:          "req-2",
		ProfileID:   "staff-1",
		Address:     "10.0.0.9",
		RequestedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.ID, "conflicting insert must surface the surviving pending row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGResolveGuardsPendingState(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`update access_requests`)).
		WithArgs("req-1", StateApproved, at, "admin-1", StatePending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := store.Requests(context.Background()).Resolve(context.Background(), "req-1", StateApproved, "admin-1", at)
	require.NoError(t, err)
	assert.True(t, updated)

	// Second resolution: the status guard matches no rows.
	mock.ExpectExec(regexp.QuoteMeta(`update access_requests`)).
		WithArgs("req-1", StateDenied, at, "admin-1", StatePending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err = store.Requests(context.Background()).Resolve(context.Background(), "req-1", StateDenied, "admin-1", at)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRequestFindScansResolution(t *testing.T) {
	store, mock := newMockStore(t)
	requested := time.Now().UTC().Add(-time.Hour)
	resolved := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`from access_requests where id=$1`)).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "profile_id", "address", "status", "requested_at", "resolved_at", "resolved_by"}).
			AddRow("req-1", "staff-1", "10.0.0.9", "APPROVED", requested, resolved, "admin-1"))

	req, err := store.Requests(context.Background()).Find(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateApproved, req.Status)
	require.NotNil(t, req.ResolvedAt)
	assert.True(t, req.ResolvedAt.Equal(resolved))
	assert.Equal(t, "admin-1", req.ResolvedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
