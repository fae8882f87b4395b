package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/internal/service"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
	"github.com/meetwise/booking-api/pkg/response"
)

// WaitlistHandler exposes waitlist endpoints.
type WaitlistHandler struct {
	waitlist *service.WaitlistService
}

// NewWaitlistHandler constructs WaitlistHandler.
func NewWaitlistHandler(waitlist *service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

// Join queues the caller for an occupied slot.
func (h *WaitlistHandler) Join(c *gin.Context) {
	var req service.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := currentClaims(c); claims != nil && claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}

	entry, err := h.waitlist.Join(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Position returns the caller's place in a slot's queue.
func (h *WaitlistHandler) Position(c *gin.Context) {
	slotStart, err := time.Parse(time.RFC3339, c.Query("slotStart"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "slotStart must be RFC3339"))
		return
	}
	studentID := c.Query("studentId")
	if claims := currentClaims(c); claims != nil && claims.Role == models.RoleStudent {
		studentID = claims.UserID
	}
	if studentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "studentId query parameter is required"))
		return
	}

	position, err := h.waitlist.Position(c.Request.Context(), c.Param("id"), studentID, slotStart)
	if err != nil {
		response.Error(c, err)
		return
	}
	if position == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no active waitlist entry for this slot"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"position": *position}, nil)
}

// Promote attempts to book the freed slot for the head of its queue. The
// engine promotes automatically when a slot frees up; this endpoint lets an
// operator replay a promotion that was lost to a crash.
func (h *WaitlistHandler) Promote(c *gin.Context) {
	teacherID := c.Query("teacherId")
	if teacherID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "teacherId query parameter is required"))
		return
	}
	slotStart, err := time.Parse(time.RFC3339, c.Query("slotStart"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "slotStart must be RFC3339"))
		return
	}

	entry, err := h.waitlist.PromoteHead(c.Request.Context(), teacherID, slotStart)
	if err != nil {
		response.Error(c, err)
		return
	}
	if entry == nil {
		response.JSON(c, http.StatusOK, gin.H{"promoted": false}, nil)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"promoted": true, "entry": entry}, nil)
}

// Expire flips waitlist entries whose slot has started to expired. Triggered
// by an external scheduler.
func (h *WaitlistHandler) Expire(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "limit must be an integer"))
			return
		}
		limit = parsed
	}
	result, err := h.waitlist.ExpireDue(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
