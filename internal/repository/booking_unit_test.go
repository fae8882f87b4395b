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

func newBookingUnitMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestBookingUnitCommitsOnSuccess(t *testing.T) {
	db, mock, cleanup := newBookingUnitMock(t)
	defer cleanup()
	unit := NewBookingUnit(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(sqlmock.AnyArg(), "t1", "s1", "Algebra", sqlmock.AnyArg(), 30, sqlmock.AnyArg(), "key-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := unit.Run(context.Background(), func(store BookingStore) error {
		return store.InsertAppointment(context.Background(), &models.Appointment{
			TeacherID:       "t1",
			StudentID:       "s1",
			Subject:         "Algebra",
			StartAt:         time.Date(2030, 6, 3, 1, 0, 0, 0, time.UTC),
			DurationMinutes: 30,
			Status:          models.AppointmentApproved,
			IdempotencyKey:  "key-1",
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingUnitRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newBookingUnitMock(t)
	defer cleanup()
	unit := NewBookingUnit(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := appErrors.Clone(appErrors.ErrQuotaExceeded, "")
	err := unit.Run(context.Background(), func(BookingStore) error {
		return sentinel
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrQuotaExceeded.Code))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingUnitSlotConstraintViolation(t *testing.T) {
	db, mock, cleanup := newBookingUnitMock(t)
	defer cleanup()
	unit := NewBookingUnit(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_appointments_active_slot"})
	mock.ExpectRollback()

	err := unit.Run(context.Background(), func(store BookingStore) error {
		return store.InsertAppointment(context.Background(), &models.Appointment{
			TeacherID:       "t1",
			StudentID:       "s1",
			StartAt:         time.Date(2030, 6, 3, 1, 0, 0, 0, time.UTC),
			DurationMinutes: 30,
			Status:          models.AppointmentApproved,
			IdempotencyKey:  "key-1",
		})
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSlotTaken.Code))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingUnitQuotaForUpdateCreatesDefault(t *testing.T) {
	db, mock, cleanup := newBookingUnitMock(t)
	defer cleanup()
	unit := NewBookingUnit(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT student_id, service_level, meetings_used, last_reset_at, updated_at FROM student_quotas WHERE student_id = \\$1 FOR UPDATE").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}))
	mock.ExpectExec("INSERT INTO student_quotas").
		WithArgs("s1", sqlmock.AnyArg(), 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := unit.Run(context.Background(), func(store BookingStore) error {
		quota, err := store.QuotaForUpdate(context.Background(), "s1")
		if err != nil {
			return err
		}
		assert.Equal(t, models.ServiceLevel1, quota.ServiceLevel)
		assert.Equal(t, 0, quota.MeetingsUsed)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingUnitFindByIdempotencyKeyNil(t *testing.T) {
	db, mock, cleanup := newBookingUnitMock(t)
	defer cleanup()
	unit := NewBookingUnit(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, teacher_id, .+ FROM appointments WHERE idempotency_key = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := unit.Run(context.Background(), func(store BookingStore) error {
		appt, err := store.FindByIdempotencyKey(context.Background(), "missing")
		if err != nil {
			return err
		}
		assert.Nil(t, appt)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
