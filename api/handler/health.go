package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/scram/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// StatsSource reports live counters for the health endpoint.
type StatsSource interface {
	Stats() models.ServiceStats
	Uptime() time.Duration
}

// Health returns a handler for GET /api/v1/health.
func Health(src StatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  "healthy",
			Uptime:  src.Uptime().Round(time.Second).String(),
			Stats:   src.Stats(),
			Version: Version,
		})
	}
}
