package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
	"github.com/meetwise/booking-api/pkg/export"
)

// ExportFormat enumerates supported export encodings.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ExportResult carries rendered bytes plus HTTP response metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

type exportAppointmentLister interface {
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error)
}

// ScheduleExportService renders a teacher's day schedule as CSV or PDF.
type ScheduleExportService struct {
	teachers     teacherReader
	appointments exportAppointmentLister
	csv          *export.CSVExporter
	pdf          *export.PDFExporter
	logger       *zap.Logger
}

// NewScheduleExportService instantiates ScheduleExportService.
func NewScheduleExportService(teachers teacherReader, appointments exportAppointmentLister, logger *zap.Logger) *ScheduleExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleExportService{
		teachers:     teachers,
		appointments: appointments,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		logger:       logger,
	}
}

var scheduleHeaders = []string{"Time", "Student", "Subject", "Duration", "Status"}

// ExportDay renders every appointment on the teacher-local calendar date,
// times shown in the teacher's timezone.
func (s *ScheduleExportService) ExportDay(ctx context.Context, teacherID, date string, format ExportFormat) (*ExportResult, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "date must be formatted YYYY-MM-DD")
	}
	if format != FormatCSV && format != FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "format must be csv or pdf")
	}

	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTeacherNotFound
		}
		return nil, err
	}

	loc, err := time.LoadLocation(teacher.Timezone)
	if err != nil {
		loc = time.UTC
	}
	year, month, dom := day.Date()
	from := time.Date(year, month, dom, 0, 0, 0, 0, loc).UTC()
	to := time.Date(year, month, dom+1, 0, 0, 0, 0, loc).UTC()

	appointments, _, err := s.appointments.List(ctx, models.AppointmentFilter{
		TeacherID: teacherID,
		From:      &from,
		To:        &to,
		Page:      1,
		PageSize:  100,
		SortBy:    "start_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{Headers: scheduleHeaders}
	for _, appt := range appointments {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Time":     appt.StartAt.In(loc).Format("15:04"),
			"Student":  appt.StudentID,
			"Subject":  appt.Subject,
			"Duration": strconv.Itoa(appt.DurationMinutes) + " min",
			"Status":   string(appt.Status),
		})
	}

	title := fmt.Sprintf("Schedule %s %s", teacher.FullName, date)
	filename := fmt.Sprintf("schedule-%s-%s.%s", teacherID, date, format)

	switch format {
	case FormatPDF:
		content, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, fmt.Errorf("render schedule pdf: %w", err)
		}
		return &ExportResult{Content: content, ContentType: "application/pdf", Filename: filename}, nil
	default:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, fmt.Errorf("render schedule csv: %w", err)
		}
		return &ExportResult{Content: content, ContentType: "text/csv", Filename: filename}, nil
	}
}
