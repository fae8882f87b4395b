package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetwise/booking-api/internal/models"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

func newWaitlistMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func waitlistRows(id string, slotStart, createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "teacher_id", "student_id", "slot_start", "status", "created_at", "expires_at"}).
		AddRow(id, "t1", "s1", slotStart, models.WaitlistActive, createdAt, slotStart)
}

func TestWaitlistRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectExec("INSERT INTO waitlist_entries").
		WithArgs(sqlmock.AnyArg(), "t1", "s1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.WaitlistEntry{
		TeacherID: "t1",
		StudentID: "s1",
		SlotStart: time.Date(2030, 6, 3, 1, 0, 0, 0, time.UTC),
	}
	err := repo.Insert(context.Background(), entry)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, models.WaitlistActive, entry.Status)
	assert.Equal(t, entry.SlotStart, entry.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryInsertDuplicateConflicts(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectExec("INSERT INTO waitlist_entries").
		WithArgs(sqlmock.AnyArg(), "t1", "s1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_waitlist_active_entry"})

	err := repo.Insert(context.Background(), &models.WaitlistEntry{
		TeacherID: "t1",
		StudentID: "s1",
		SlotStart: time.Date(2030, 6, 3, 1, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryFindActiveNil(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	slot := time.Date(2030, 6, 3, 1, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, teacher_id, .+ FROM waitlist_entries WHERE teacher_id = \\$1 AND student_id = \\$2").
		WithArgs("t1", "s1", slot).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	entry, err := repo.FindActive(context.Background(), "t1", "s1", slot)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryFindEarliestActive(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	slot := time.Date(2030, 6, 3, 1, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, teacher_id, .+ FROM waitlist_entries WHERE teacher_id = \\$1 AND slot_start = \\$2 AND status = 'active' ORDER BY created_at ASC, id ASC LIMIT 1").
		WithArgs("t1", slot).
		WillReturnRows(waitlistRows("w1", slot, slot.Add(-time.Hour)))

	entry, err := repo.FindEarliestActive(context.Background(), "t1", slot)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "w1", entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryMarkExpiredIdempotent(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectExec("UPDATE waitlist_entries SET status = 'expired' WHERE id = \\$1 AND status = 'active'").
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE waitlist_entries SET status = 'expired' WHERE id = \\$1 AND status = 'active'").
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	flipped, err := repo.MarkExpired(context.Background(), "w1")
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = repo.MarkExpired(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryMarkPromotedStateConflict(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectExec("UPDATE waitlist_entries SET status = 'promoted'").
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkPromoted(context.Background(), "w1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStateConflict.Code))
	assert.NoError(t, mock.ExpectationsWereMet())
}
