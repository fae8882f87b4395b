package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/service"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
	"github.com/meetwise/booking-api/pkg/response"
)

// AvailabilityHandler manages a teacher's weekly windows and blocked
// intervals.
type AvailabilityHandler struct {
	availability *service.AvailabilityService
}

// NewAvailabilityHandler constructs AvailabilityHandler.
func NewAvailabilityHandler(availability *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability}
}

// ListWindows returns the teacher's weekly availability template.
func (h *AvailabilityHandler) ListWindows(c *gin.Context) {
	windows, err := h.availability.ListWindows(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows, nil)
}

// CreateWindow adds a weekly window.
func (h *AvailabilityHandler) CreateWindow(c *gin.Context) {
	var req service.CreateWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.TeacherID = c.Param("id")
	window, err := h.availability.CreateWindow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, window)
}

// UpdateWindow rewrites a weekly window.
func (h *AvailabilityHandler) UpdateWindow(c *gin.Context) {
	var req service.UpdateWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.TeacherID = c.Param("id")
	req.WindowID = c.Param("windowId")
	window, err := h.availability.UpdateWindow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// DeleteWindow removes a weekly window.
func (h *AvailabilityHandler) DeleteWindow(c *gin.Context) {
	if err := h.availability.DeleteWindow(c.Request.Context(), c.Param("id"), c.Param("windowId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateBlocked records a one-off blocked interval.
func (h *AvailabilityHandler) CreateBlocked(c *gin.Context) {
	var req service.CreateBlockedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.TeacherID = c.Param("id")
	blocked, err := h.availability.CreateBlocked(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, blocked)
}

// DeleteBlocked removes a blocked interval.
func (h *AvailabilityHandler) DeleteBlocked(c *gin.Context) {
	if err := h.availability.DeleteBlocked(c.Request.Context(), c.Param("id"), c.Param("blockedId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
