package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/middleware"
	"github.com/meetwise/booking-api/internal/models"
)

// currentClaims returns the authenticated caller's claims, or nil when the
// route is unauthenticated.
func currentClaims(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
