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

func newQuotaMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestQuotaRepositoryFind(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"student_id", "service_level", "meetings_used", "last_reset_at", "updated_at"}).
		AddRow("s1", models.ServiceLevel1, 2, models.FirstOfMonth(now), now)
	mock.ExpectQuery("SELECT student_id, service_level, meetings_used, last_reset_at, updated_at FROM student_quotas WHERE student_id = \\$1").
		WithArgs("s1").
		WillReturnRows(rows)

	quota, err := repo.Find(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, quota)
	assert.Equal(t, 2, quota.MeetingsUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryFindNilWhenAbsent(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	mock.ExpectQuery("SELECT student_id, .+ FROM student_quotas WHERE student_id = \\$1").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}))

	quota, err := repo.Find(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, quota)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryResetGuarded(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	firstOfMonth := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE student_quotas SET meetings_used = 0, last_reset_at = \\$2, updated_at = \\$3 WHERE student_id = \\$1 AND last_reset_at < \\$2").
		WithArgs("s1", firstOfMonth, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE student_quotas SET meetings_used = 0, last_reset_at = \\$2, updated_at = \\$3 WHERE student_id = \\$1 AND last_reset_at < \\$2").
		WithArgs("s1", firstOfMonth, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reset, err := repo.Reset(context.Background(), "s1", firstOfMonth)
	require.NoError(t, err)
	assert.True(t, reset)

	reset, err = repo.Reset(context.Background(), "s1", firstOfMonth)
	require.NoError(t, err)
	assert.False(t, reset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	mock.ExpectExec("INSERT INTO student_quotas .+ ON CONFLICT \\(student_id\\) DO UPDATE").
		WithArgs("s1", sqlmock.AnyArg(), 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), &models.StudentQuota{
		StudentID:    "s1",
		ServiceLevel: models.ServiceLevel1,
		MeetingsUsed: 3,
		LastResetAt:  time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryListStale(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	firstOfMonth := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"student_id", "service_level", "meetings_used", "last_reset_at", "updated_at"}).
		AddRow("s1", models.ServiceLevel1, 4, firstOfMonth.AddDate(0, -1, 0), time.Now().UTC())
	mock.ExpectQuery("SELECT student_id, .+ FROM student_quotas WHERE last_reset_at < \\$1 ORDER BY last_reset_at ASC LIMIT \\$2").
		WithArgs(firstOfMonth, 100).
		WillReturnRows(rows)

	stale, err := repo.ListStale(context.Background(), firstOfMonth, 100)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "s1", stale[0].StudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
