package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetwise/booking-api/internal/models"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
)

type fakeExportLister struct {
	appointments []models.Appointment
	filter       models.AppointmentFilter
}

func (f *fakeExportLister) List(_ context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	f.filter = filter
	return f.appointments, len(f.appointments), nil
}

func TestExportDayCSV(t *testing.T) {
	lister := &fakeExportLister{appointments: []models.Appointment{
		{
			ID:              "a1",
			TeacherID:       "t1",
			StudentID:       "s1",
			Subject:         "Algebra",
			StartAt:         at("2030-06-03T01:00:00Z"),
			DurationMinutes: 30,
			Status:          models.AppointmentApproved,
		},
	}}
	svc := NewScheduleExportService(&fakeTeacherReader{teacher: shanghaiTeacher()}, lister, nil)

	result, err := svc.ExportDay(context.Background(), "t1", "2030-06-03", FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "schedule-t1-2030-06-03.csv", result.Filename)

	body := string(result.Content)
	assert.True(t, strings.HasPrefix(body, "Time,Student,Subject,Duration,Status"))
	// 01:00 UTC is 09:00 in Shanghai.
	assert.Contains(t, body, "09:00,s1,Algebra,30 min,approved")

	require.NotNil(t, lister.filter.From)
	require.NotNil(t, lister.filter.To)
	assert.Equal(t, at("2030-06-02T16:00:00Z"), lister.filter.From.UTC())
	assert.Equal(t, at("2030-06-03T16:00:00Z"), lister.filter.To.UTC())
}

func TestExportDayPDF(t *testing.T) {
	lister := &fakeExportLister{}
	svc := NewScheduleExportService(&fakeTeacherReader{teacher: shanghaiTeacher()}, lister, nil)

	result, err := svc.ExportDay(context.Background(), "t1", "2030-06-03", FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasPrefix(string(result.Content), "%PDF"))
}

func TestExportDayRejectsBadInput(t *testing.T) {
	svc := NewScheduleExportService(&fakeTeacherReader{teacher: shanghaiTeacher()}, &fakeExportLister{}, nil)

	_, err := svc.ExportDay(context.Background(), "t1", "June 3rd", FormatCSV)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrBadRequest.Code))

	_, err = svc.ExportDay(context.Background(), "t1", "2030-06-03", ExportFormat("xlsx"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrBadRequest.Code))
}

func TestExportDayUnknownTeacher(t *testing.T) {
	svc := NewScheduleExportService(&fakeTeacherReader{err: sql.ErrNoRows}, &fakeExportLister{}, nil)

	_, err := svc.ExportDay(context.Background(), "ghost", "2030-06-03", FormatCSV)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTeacherNotFound.Code))
}
