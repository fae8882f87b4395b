package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/service"
	appErrors "github.com/meetwise/booking-api/pkg/errors"
	"github.com/meetwise/booking-api/pkg/response"
)

// ExportHandler streams rendered schedule documents.
type ExportHandler struct {
	exports *service.ScheduleExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ScheduleExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Schedule renders a teacher's day schedule as CSV or PDF.
func (h *ExportHandler) Schedule(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "date query parameter is required"))
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))

	result, err := h.exports.ExportDay(c.Request.Context(), c.Param("id"), date, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(200, result.ContentType, result.Content)
}
