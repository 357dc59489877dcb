// Package httpapi serves the expense workflow as HTTP/JSON for the UI layer.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ppiankov/spendgate/internal/logging"
	"github.com/ppiankov/spendgate/internal/receipt"
	"github.com/ppiankov/spendgate/internal/workflow"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr      string
	JWTSecret string
}

// NewRouter builds the gin engine. Everything under /api needs a bearer token.
func NewRouter(svc *workflow.Service, secret string, logger *zap.Logger) *gin.Engine {
	log := logging.OrNop(logger)
	h := &handlers{svc: svc, log: log, extractor: receipt.TextExtractor{DefaultCurrency: svc.BaseCurrency()}}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(JWT(secret))
	{
		api.GET("/me", h.me)

		api.POST("/expenses", h.submit)
		api.GET("/expenses", h.list)
		api.GET("/expenses/:id", h.get)
		api.PATCH("/expenses/:id", h.update)
		api.DELETE("/expenses/:id", h.remove)
		api.POST("/expenses/:id/approve", h.decide("approve"))
		api.POST("/expenses/:id/reject", h.decide("reject"))
		api.POST("/expenses/:id/override", h.override)
		api.POST("/expenses/:id/escalate", h.escalate)

		api.GET("/approvals/pending", h.pending)
		api.GET("/stats", h.stats)

		api.GET("/categories", h.categories)
		api.POST("/categories", h.addCategory)

		api.POST("/receipts/scan", h.scan)

		api.GET("/rules", h.listRules)
		api.GET("/rules/:id", h.getRule)
		api.POST("/rules", h.addRule)
		api.PUT("/rules/:id", h.updateRule)
		api.DELETE("/rules/:id", h.removeRule)
		api.POST("/rules/:id/activate", h.setActive(true))
		api.POST("/rules/:id/deactivate", h.setActive(false))
	}
	return r
}

// Server wraps the router in an http.Server.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewServer creates an HTTP server for svc.
func NewServer(svc *workflow.Service, cfg Config, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(svc, cfg.JWTSecret, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logging.OrNop(logger),
	}
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info("http listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("caller", CallerID(c)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}
