package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/service"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
	"github.com/meetwise/booking-api/pkg/response"
)

// SlotHandler exposes slot listing.
type SlotHandler struct {
	availability *service.AvailabilityService
}

// NewSlotHandler constructs SlotHandler.
func NewSlotHandler(availability *service.AvailabilityService) *SlotHandler {
	return &SlotHandler{availability: availability}
}

// List returns bookable slots for a teacher on a date.
func (h *SlotHandler) List(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "date query parameter is required"))
		return
	}

	duration := 0
	if raw := c.Query("duration"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "duration must be an integer number of minutes"))
			return
		}
		duration = parsed
	}

	slots, err := h.availability.ListSlots(c.Request.Context(), c.Param("id"), date, duration)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Check reports whether one specific slot is currently bookable.
func (h *SlotHandler) Check(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "start must be an RFC3339 timestamp"))
		return
	}

	duration := 0
	if raw := c.Query("duration"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "duration must be an integer number of minutes"))
			return
		}
		duration = parsed
	}

	available, err := h.availability.CheckSlot(c.Request.Context(), c.Param("id"), start, duration)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"available": available}, nil)
}
