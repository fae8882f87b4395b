package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalmiddleware "github.com/meetwise/booking-api/internal/middleware"
	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/internal/service"
	"github.com/meetwise/booking-api/pkg/config"
)

type stubTeacherReader struct {
	teacher *models.Teacher
}

func (s *stubTeacherReader) FindByID(context.Context, string) (*models.Teacher, error) {
	found := *s.teacher
	return &found, nil
}

type stubAvailabilityRepo struct {
	windows []models.AvailabilityWindow
}

func (s *stubAvailabilityRepo) ListWindows(context.Context, string) ([]models.AvailabilityWindow, error) {
	return s.windows, nil
}

func (s *stubAvailabilityRepo) ListActiveWindowsForWeekday(_ context.Context, _ string, weekday int) ([]models.AvailabilityWindow, error) {
	var out []models.AvailabilityWindow
	for _, w := range s.windows {
		if w.DayOfWeek == weekday && w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *stubAvailabilityRepo) CreateWindow(context.Context, *models.AvailabilityWindow) error {
	return nil
}

func (s *stubAvailabilityRepo) UpdateWindow(context.Context, *models.AvailabilityWindow) error {
	return nil
}

func (s *stubAvailabilityRepo) DeleteWindow(context.Context, string, string) error { return nil }

func (s *stubAvailabilityRepo) ListBlockedOverlapping(context.Context, string, time.Time, time.Time) ([]models.BlockedInterval, error) {
	return nil, nil
}

func (s *stubAvailabilityRepo) CreateBlocked(context.Context, *models.BlockedInterval) error {
	return nil
}

func (s *stubAvailabilityRepo) DeleteBlocked(context.Context, string, string) error { return nil }

type stubSlotAppointments struct{}

func (stubSlotAppointments) ListActiveOverlapping(context.Context, string, time.Time, time.Time) ([]models.Appointment, error) {
	return nil, nil
}

func (stubSlotAppointments) CountActiveBetween(context.Context, string, time.Time, time.Time) (int, error) {
	return 0, nil
}

type stubWaitlistRepo struct {
	active *models.WaitlistEntry
}

func (s *stubWaitlistRepo) Insert(_ context.Context, entry *models.WaitlistEntry) error {
	entry.ID = "w1"
	entry.CreatedAt = time.Now().UTC()
	stored := *entry
	s.active = &stored
	return nil
}

func (s *stubWaitlistRepo) FindActive(_ context.Context, teacherID, studentID string, slotStart time.Time) (*models.WaitlistEntry, error) {
	if s.active != nil && s.active.TeacherID == teacherID && s.active.StudentID == studentID && s.active.SlotStart.Equal(slotStart) {
		found := *s.active
		return &found, nil
	}
	return nil, nil
}

func (s *stubWaitlistRepo) FindEarliestActive(context.Context, string, time.Time) (*models.WaitlistEntry, error) {
	return nil, nil
}

func (s *stubWaitlistRepo) CountActiveAhead(context.Context, *models.WaitlistEntry) (int, error) {
	return 1, nil
}

func (s *stubWaitlistRepo) MarkPromoted(context.Context, string) error { return nil }

func (s *stubWaitlistRepo) MarkExpired(context.Context, string) (bool, error) { return false, nil }

func (s *stubWaitlistRepo) ListActiveDue(context.Context, time.Time, int) ([]models.WaitlistEntry, error) {
	return nil, nil
}

type stubBooker struct{}

func (stubBooker) CreateAppointment(context.Context, service.CreateAppointmentRequest) (*models.Appointment, error) {
	return &models.Appointment{ID: "a1"}, nil
}

type stubOutbox struct{}

func (stubOutbox) Enqueue(context.Context, *models.Notification) error { return nil }

type stubQuotaRepo struct {
	quota *models.StudentQuota
}

func (s *stubQuotaRepo) Find(context.Context, string) (*models.StudentQuota, error) {
	return s.quota, nil
}

func (s *stubQuotaRepo) Upsert(_ context.Context, quota *models.StudentQuota) error {
	stored := *quota
	s.quota = &stored
	return nil
}

func (s *stubQuotaRepo) ListStale(context.Context, time.Time, int) ([]models.StudentQuota, error) {
	return nil, nil
}

func (s *stubQuotaRepo) ListAll(context.Context, int, int) ([]models.StudentQuota, error) {
	return nil, nil
}

func (s *stubQuotaRepo) Reset(context.Context, string, time.Time) (bool, error) { return true, nil }

func (s *stubQuotaRepo) ForceReset(context.Context, string, time.Time) error { return nil }

type routerFixture struct {
	waitlistRepo *stubWaitlistRepo
	quotaRepo    *stubQuotaRepo
	slotDate     string
}

func buildBookingRouter(t *testing.T) (*gin.Engine, *routerFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	noCache := service.NewSlotCacheService(nil, nil, 0, false, nil)

	// A date comfortably inside the booking horizon, on a weekday with an
	// active availability window.
	target := time.Now().UTC().AddDate(0, 0, 7)
	teacher := &models.Teacher{
		ID:               "t1",
		Email:            "chen@example.com",
		FullName:         "Chen Wei",
		Timezone:         "UTC",
		MaxDailyMeetings: 8,
		BufferMinutes:    0,
		Active:           true,
	}
	windows := []models.AvailabilityWindow{{
		ID:        "win1",
		TeacherID: "t1",
		DayOfWeek: int(target.Weekday()),
		StartTime: "09:00",
		EndTime:   "11:00",
		Active:    true,
	}}

	availabilitySvc := service.NewAvailabilityService(
		&stubTeacherReader{teacher: teacher},
		&stubAvailabilityRepo{windows: windows},
		stubSlotAppointments{},
		noCache,
		config.SlotsConfig{DefaultDuration: 30, MaxLookaheadDay: 90},
		nil,
	)

	fixture := &routerFixture{
		waitlistRepo: &stubWaitlistRepo{},
		quotaRepo:    &stubQuotaRepo{},
		slotDate:     target.Format("2006-01-02"),
	}
	waitlistSvc := service.NewWaitlistService(fixture.waitlistRepo, stubBooker{}, stubOutbox{}, config.WaitlistConfig{MaxBatchSize: 500}, nil)
	quotaSvc := service.NewQuotaService(fixture.quotaRepo, config.QuotaConfig{Level1MonthlyCap: 4, Level1AutoApproveLimit: 2}, nil)

	slotHandler := NewSlotHandler(availabilitySvc)
	waitlistHandler := NewWaitlistHandler(waitlistSvc)
	quotaHandler := NewQuotaHandler(quotaSvc)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
				UserID: c.GetHeader("X-Test-User"),
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})
	router.GET("/teachers/:id/slots", slotHandler.List)
	router.GET("/teachers/:id/slots/check", slotHandler.Check)
	router.GET("/teachers/:id/waitlist/position", waitlistHandler.Position)
	router.POST("/waitlist", waitlistHandler.Join)
	router.GET("/students/:id/quota", quotaHandler.Get)

	return router, fixture
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestSlotRoutes(t *testing.T) {
	router, fixture := buildBookingRouter(t)

	t.Run("missing date", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/teachers/t1/slots", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
		require.Contains(t, resp.Body.String(), "date query parameter is required")
	})

	t.Run("bad duration", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/teachers/t1/slots?date="+fixture.slotDate+"&duration=abc", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("lists slots", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/teachers/t1/slots?date="+fixture.slotDate, nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"slots"`)
		require.Contains(t, resp.Body.String(), "T09:00:00Z")
	})

	t.Run("check requires a start timestamp", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/teachers/t1/slots/check?start=tomorrow", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("check reports free slot", func(t *testing.T) {
		start := fixture.slotDate + "T09:00:00Z"
		req, _ := http.NewRequest(http.MethodGet, "/teachers/t1/slots/check?start="+start, nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"available":true`)
	})
}

func TestWaitlistRoutes(t *testing.T) {
	router, fixture := buildBookingRouter(t)
	slotStart := time.Now().UTC().AddDate(0, 0, 7).Truncate(time.Hour)

	t.Run("join forces caller identity for students", func(t *testing.T) {
		payload := fmt.Sprintf(`{"teacher_id":"t1","student_id":"someone-else","slot_start":%q}`, slotStart.Format(time.RFC3339))
		req, _ := http.NewRequest(http.MethodPost, "/waitlist", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "s1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.Equal(t, "s1", fixture.waitlistRepo.active.StudentID)
	})

	t.Run("position found", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/teachers/t1/waitlist/position?slotStart="+slotStart.Format(time.RFC3339), nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "s1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"position":2`)
	})

	t.Run("position bad slot start", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/teachers/t1/waitlist/position?slotStart=tomorrow", nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "s1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("position not waitlisted", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/teachers/t1/waitlist/position?slotStart="+slotStart.Format(time.RFC3339), nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "stranger")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestQuotaRoutes(t *testing.T) {
	router, _ := buildBookingRouter(t)

	t.Run("students read only their own quota", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/students/s2/quota", nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "s1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("own quota materialises defaults", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/students/s1/quota", nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		req.Header.Set("X-Test-User", "s1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"service_level":"level1"`)
	})
}
