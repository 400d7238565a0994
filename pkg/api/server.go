// Package api provides the HTTP status API of the relay
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-lite/pkg/network"
	"github.com/ZentaChain/zentalk-lite/pkg/storage"
)

// StatsProvider exposes relay snapshots; *network.RelayServer satisfies it
type StatsProvider interface {
	Stats() network.Stats
}

// DeliverySummarizer exposes the audit log; *storage.DeliveryLog satisfies it
type DeliverySummarizer interface {
	Summary() (storage.DeliverySummary, error)
	Recent(limit int) ([]storage.DeliveryRecord, error)
}

// Server is the HTTP status API
type Server struct {
	stats      StatsProvider
	deliveries DeliverySummarizer
	router     *gin.Engine
	addr       string
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	Addr         string
	EnableCORS   bool
	RateLimit    int // Requests per minute
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8080",
		EnableCORS:   false,
		RateLimit:    100,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates the API; deliveries may be nil when the audit log is off
func NewServer(stats StatsProvider, deliveries DeliverySummarizer, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		stats:      stats,
		deliveries: deliveries,
		router:     gin.New(),
		addr:       config.Addr,
	}
	server.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	server.setupMiddleware(config)
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	s.router.Use(RateLimitMiddleware(NewRateLimiter(config.RateLimit)))
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		relay := v1.Group("/relay")
		{
			relay.GET("/stats", s.handleStats)
			relay.GET("/clients", s.handleClients)
			relay.GET("/deliveries", s.handleDeliveries)
		}
	}

	// Health check endpoint (outside versioning)
	s.router.GET("/health", s.handleHealth)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 Status API listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down status API...")
	return s.Stop()
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
