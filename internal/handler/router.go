package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/middleware"
	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/internal/service"
)

// Handlers bundles every HTTP handler for route registration.
type Handlers struct {
	Teachers     *TeacherHandler
	Availability *AvailabilityHandler
	Slots        *SlotHandler
	Appointments *AppointmentHandler
	Waitlist     *WaitlistHandler
	Quota        *QuotaHandler
	Exports      *ExportHandler
	Metrics      *MetricsHandler
}

// RegisterRoutes mounts the API surface under the given prefix. Maintenance
// endpoints (expiry sweeps, quota reset) are admin-only and triggered by an
// external scheduler.
func RegisterRoutes(r *gin.Engine, prefix string, auth *service.AuthService, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Health)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)
	api.Use(middleware.JWT(auth))

	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)
	admin := middleware.RequireRoles(models.RoleAdmin)

	teachers := api.Group("/teachers")
	{
		teachers.GET("", h.Teachers.List)
		teachers.POST("", admin, h.Teachers.Create)
		teachers.GET("/:id", h.Teachers.Get)
		teachers.PUT("/:id", staff, h.Teachers.Update)
		teachers.DELETE("/:id", admin, h.Teachers.Deactivate)

		teachers.GET("/:id/slots", h.Slots.List)
		teachers.GET("/:id/slots/check", h.Slots.Check)
		teachers.GET("/:id/export", staff, h.Exports.Schedule)

		teachers.GET("/:id/availability", h.Availability.ListWindows)
		teachers.POST("/:id/availability", staff, h.Availability.CreateWindow)
		teachers.PUT("/:id/availability/:windowId", staff, h.Availability.UpdateWindow)
		teachers.DELETE("/:id/availability/:windowId", staff, h.Availability.DeleteWindow)

		teachers.POST("/:id/blocked", staff, h.Availability.CreateBlocked)
		teachers.DELETE("/:id/blocked/:blockedId", staff, h.Availability.DeleteBlocked)

		teachers.GET("/:id/waitlist/position", h.Waitlist.Position)
	}

	appointments := api.Group("/appointments")
	{
		appointments.POST("", h.Appointments.Create)
		appointments.GET("", h.Appointments.List)
		appointments.GET("/:id", h.Appointments.Get)
		appointments.POST("/:id/approve", staff, h.Appointments.Approve)
		appointments.POST("/:id/reject", staff, h.Appointments.Reject)
		appointments.POST("/:id/cancel", h.Appointments.Cancel)
		appointments.POST("/:id/complete", staff, h.Appointments.Complete)
		appointments.POST("/:id/no-show", staff, h.Appointments.NoShow)
	}

	api.POST("/waitlist", h.Waitlist.Join)

	quotas := api.Group("/students")
	{
		quotas.GET("/:id/quota", h.Quota.Get)
		quotas.PUT("/:id/quota/level", admin, h.Quota.SetLevel)
	}

	maintenance := api.Group("/maintenance", admin)
	{
		maintenance.POST("/appointments/expire", h.Appointments.Expire)
		maintenance.POST("/waitlist/promote", h.Waitlist.Promote)
		maintenance.POST("/waitlist/expire", h.Waitlist.Expire)
		maintenance.POST("/quotas/reset", h.Quota.Reset)
	}
}
