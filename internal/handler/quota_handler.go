package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/internal/service"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
	"github.com/meetwise/booking-api/pkg/response"
)

// QuotaHandler exposes student quota endpoints.
type QuotaHandler struct {
	quota *service.QuotaService
}

// NewQuotaHandler constructs QuotaHandler.
func NewQuotaHandler(quota *service.QuotaService) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

// Get returns a student's quota state.
func (h *QuotaHandler) Get(c *gin.Context) {
	studentID := c.Param("id")
	if claims := currentClaims(c); claims != nil && claims.Role == models.RoleStudent && claims.UserID != studentID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	quota, err := h.quota.Get(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quota, nil)
}

type setLevelRequest struct {
	ServiceLevel models.ServiceLevel `json:"service_level" binding:"required"`
}

// SetLevel changes a student's service level.
func (h *QuotaHandler) SetLevel(c *gin.Context) {
	var req setLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	quota, err := h.quota.SetLevel(c.Request.Context(), c.Param("id"), req.ServiceLevel)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quota, nil)
}

// Reset runs the monthly batch reset. Triggered by an external scheduler.
func (h *QuotaHandler) Reset(c *gin.Context) {
	force := false
	if raw := c.Query("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "force must be a boolean"))
			return
		}
		force = parsed
	}
	limit := 1000
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "limit must be an integer"))
			return
		}
		limit = parsed
	}

	result, err := h.quota.ResetAll(c.Request.Context(), force, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
