package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-lite/pkg/storage"
)

const maxRecentDeliveries = 500

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Connected int       `json:"connected"`
	Capacity  int       `json:"capacity"`
	Uptime    string    `json:"uptime"`
	CheckedAt time.Time `json:"checkedAt"`
}

// ClientsResponse is returned by GET /api/v1/relay/clients
type ClientsResponse struct {
	Success    bool  `json:"success"`
	Identities []int `json:"identities"`
	Connected  int   `json:"connected"`
	Capacity   int   `json:"capacity"`
}

// DeliveriesResponse is returned by GET /api/v1/relay/deliveries
type DeliveriesResponse struct {
	Success bool                     `json:"success"`
	Summary storage.DeliverySummary  `json:"summary"`
	Recent  []storage.DeliveryRecord `json:"recent"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	stats := s.stats.Stats()

	status := "healthy"
	if stats.Connected >= stats.Capacity {
		status = "full"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:    status,
		Connected: stats.Connected,
		Capacity:  stats.Capacity,
		Uptime:    stats.Uptime().Round(time.Second).String(),
		CheckedAt: time.Now(),
	})
}

// handleStats handles GET /api/v1/relay/stats
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    s.stats.Stats(),
	})
}

// handleClients handles GET /api/v1/relay/clients
func (s *Server) handleClients(c *gin.Context) {
	stats := s.stats.Stats()

	ids := stats.Identities
	if ids == nil {
		ids = []int{}
	}

	c.JSON(http.StatusOK, ClientsResponse{
		Success:    true,
		Identities: ids,
		Connected:  stats.Connected,
		Capacity:   stats.Capacity,
	})
}

// handleDeliveries handles GET /api/v1/relay/deliveries?limit=N
func (s *Server) handleDeliveries(c *gin.Context) {
	if s.deliveries == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Delivery log disabled",
			Message: "Start the relay with an audit database to record deliveries",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid limit",
				Message: "limit must be a positive number",
			})
			return
		}
		limit = min(n, maxRecentDeliveries)
	}

	summary, err := s.deliveries.Summary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read delivery log", Message: err.Error()})
		return
	}

	recent, err := s.deliveries.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read delivery log", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, DeliveriesResponse{
		Success: true,
		Summary: summary,
		Recent:  recent,
	})
}
