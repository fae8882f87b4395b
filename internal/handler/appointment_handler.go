package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/internal/service"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
	"github.com/meetwise/booking-api/pkg/response"
)

// AppointmentHandler exposes the booking lifecycle endpoints.
type AppointmentHandler struct {
	bookings *service.BookingService
}

// NewAppointmentHandler constructs AppointmentHandler.
func NewAppointmentHandler(bookings *service.BookingService) *AppointmentHandler {
	return &AppointmentHandler{bookings: bookings}
}

// Create books an appointment. Students book for themselves; the student id
// in the payload is overridden by the caller's identity unless the caller is
// an admin.
func (h *AppointmentHandler) Create(c *gin.Context) {
	var req service.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := currentClaims(c); claims != nil && claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}

	appointment, err := h.bookings.CreateAppointment(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appointment)
}

// Get returns one appointment.
func (h *AppointmentHandler) Get(c *gin.Context) {
	appointment, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appointment, nil)
}

// List returns appointments matching optional filters.
func (h *AppointmentHandler) List(c *gin.Context) {
	var filter models.AppointmentFilter
	filter.TeacherID = c.Query("teacherId")
	filter.StudentID = c.Query("studentId")
	filter.Status = models.AppointmentStatus(c.Query("status"))
	if from := c.Query("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "from must be RFC3339"))
			return
		}
		filter.From = &parsed
	}
	if to := c.Query("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "to must be RFC3339"))
			return
		}
		filter.To = &parsed
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	// Students only see their own bookings.
	if claims := currentClaims(c); claims != nil && claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}

	appointments, total, err := h.bookings.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appointments, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Approve confirms a pending appointment.
func (h *AppointmentHandler) Approve(c *gin.Context) {
	h.transition(c, h.bookings.Approve)
}

// Reject declines a pending appointment.
func (h *AppointmentHandler) Reject(c *gin.Context) {
	h.transition(c, h.bookings.Reject)
}

// Cancel withdraws a pending or approved appointment.
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	h.transition(c, h.bookings.Cancel)
}

// Complete closes an approved appointment after it took place.
func (h *AppointmentHandler) Complete(c *gin.Context) {
	h.transition(c, h.bookings.Complete)
}

// NoShow records a student absence.
func (h *AppointmentHandler) NoShow(c *gin.Context) {
	h.transition(c, h.bookings.MarkNoShow)
}

func (h *AppointmentHandler) transition(c *gin.Context, fn func(ctx context.Context, id string) (*models.Appointment, error)) {
	appointment, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appointment, nil)
}

// Expire flips overdue active appointments to expired. Triggered by an
// external scheduler.
func (h *AppointmentHandler) Expire(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "limit must be an integer"))
			return
		}
		limit = parsed
	}
	result, err := h.bookings.ExpireOverdue(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
