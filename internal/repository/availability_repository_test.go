package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetwise/booking-api/internal/models"
)

func newAvailabilityMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAvailabilityRepositoryListActiveWindowsForWeekday(t *testing.T) {
	db, mock, cleanup := newAvailabilityMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "teacher_id", "day_of_week", "start_time", "end_time", "active", "created_at", "updated_at"}).
		AddRow("w1", "t1", 1, "09:00", "12:00", true, now, now)
	mock.ExpectQuery("SELECT id, teacher_id, .+ FROM availability_windows WHERE teacher_id = \\$1 AND day_of_week = \\$2 AND active = TRUE ORDER BY start_time ASC").
		WithArgs("t1", 1).
		WillReturnRows(rows)

	windows, err := repo.ListActiveWindowsForWeekday(context.Background(), "t1", 1)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, "09:00", windows[0].StartTime)
	assert.Equal(t, "12:00", windows[0].EndTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryCreateWindow(t *testing.T) {
	db, mock, cleanup := newAvailabilityMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec("INSERT INTO availability_windows").
		WithArgs(sqlmock.AnyArg(), "t1", 1, "09:00", "12:00", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	window := &models.AvailabilityWindow{
		TeacherID: "t1",
		DayOfWeek: 1,
		StartTime: "09:00",
		EndTime:   "12:00",
		Active:    true,
	}
	err := repo.CreateWindow(context.Background(), window)
	require.NoError(t, err)
	assert.NotEmpty(t, window.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryListBlockedOverlapping(t *testing.T) {
	db, mock, cleanup := newAvailabilityMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	from := time.Date(2030, 6, 3, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "teacher_id", "start_at", "end_at", "reason", "created_at"}).
		AddRow("b1", "t1", from.Add(2*time.Hour), from.Add(3*time.Hour), "faculty meeting", time.Now().UTC())
	mock.ExpectQuery("SELECT id, teacher_id, .+ FROM blocked_intervals WHERE teacher_id = \\$1 AND start_at < \\$3 AND end_at > \\$2 ORDER BY start_at ASC").
		WithArgs("t1", from, to).
		WillReturnRows(rows)

	blocked, err := repo.ListBlockedOverlapping(context.Background(), "t1", from, to)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "faculty meeting", blocked[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryDeleteWindow(t *testing.T) {
	db, mock, cleanup := newAvailabilityMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec("DELETE FROM availability_windows WHERE id = \\$1 AND teacher_id = \\$2").
		WithArgs("w1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteWindow(context.Background(), "t1", "w1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
