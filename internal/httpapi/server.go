// Package httpapi provides the HTTP API for otpd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otpd/internal/config"
	"github.com/fyrsmithlabs/otpd/internal/delivery"
	"github.com/fyrsmithlabs/otpd/internal/record"
	"github.com/fyrsmithlabs/otpd/internal/source"
)

// Enqueuer persists delivery intent for a record.
type Enqueuer interface {
	Enqueue(ctx context.Context, task delivery.Task) error
}

// Ingestor accepts messages and rescans the spool.
type Ingestor interface {
	Push(ctx context.Context, msg source.Message) error
	Rescan(ctx context.Context) (int, error)
}

// Notifier announces record list changes. Implemented by bus.Bus.
type Notifier interface {
	ListChanged()
}

// Server provides HTTP endpoints for otpd.
type Server struct {
	echo     *echo.Echo
	store    record.Store
	ingestor Ingestor
	queue    Enqueuer
	events   Notifier
	logger   *zap.Logger
	config   config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(store record.Store, ingestor Ingestor, queue Enqueuer, events Notifier, logger *zap.Logger, cfg config.ServerConfig) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor cannot be nil")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("events cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		store:    store,
		ingestor: ingestor,
		queue:    queue,
		events:   events,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/messages", s.handlePushMessage)
	v1.POST("/rescan", s.handleRescan)
	v1.GET("/records", s.handleListRecords)
	v1.POST("/records/:id/resend", s.handleResend)
	v1.DELETE("/records/:id", s.handleDeleteRecord)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// PushMessageRequest is the request body for POST /api/v1/messages.
type PushMessageRequest struct {
	From       string    `json:"from"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// PushMessageResponse is the response body for POST /api/v1/messages.
type PushMessageResponse struct {
	Accepted bool `json:"accepted"`
}

// RescanResponse is the response body for POST /api/v1/rescan.
type RescanResponse struct {
	Scanned int `json:"scanned"`
}

// ListRecordsResponse is the response body for GET /api/v1/records.
type ListRecordsResponse struct {
	Records []record.Record `json:"records"`
	Count   int             `json:"count"`
}

// ResendResponse is the response body for POST /api/v1/records/:id/resend.
type ResendResponse struct {
	RecordID string `json:"record_id"`
	Queued   bool   `json:"queued"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handlePushMessage ingests a single message.
func (s *Server) handlePushMessage(c echo.Context) error {
	var req PushMessageRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid message request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.From == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "from field is required")
	}
	if req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body field is required")
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}

	msg := source.Message{
		From:       req.From,
		Body:       req.Body,
		ReceivedAt: req.ReceivedAt,
	}
	if err := s.ingestor.Push(c.Request().Context(), msg); err != nil {
		s.logger.Error("message ingest failed", zap.String("from", req.From), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "message ingest failed")
	}

	return c.JSON(http.StatusAccepted, PushMessageResponse{Accepted: true})
}

// handleRescan re-reads the spool and reprocesses the newest message per
// sender.
func (s *Server) handleRescan(c echo.Context) error {
	scanned, err := s.ingestor.Rescan(c.Request().Context())
	if err != nil {
		s.logger.Error("rescan failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "rescan failed")
	}

	return c.JSON(http.StatusOK, RescanResponse{Scanned: scanned})
}

// handleListRecords returns all records, optionally filtered by status.
func (s *Server) handleListRecords(c echo.Context) error {
	var f record.Filter
	if raw := c.QueryParam("status"); raw != "" {
		status := record.Status(raw)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
		}
		f.Status = status
	}

	records, err := s.store.List(c.Request().Context(), f)
	if err != nil {
		s.logger.Error("record list failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "record list failed")
	}

	return c.JSON(http.StatusOK, ListRecordsResponse{Records: records, Count: len(records)})
}

// handleResend queues a fresh delivery for an existing record.
func (s *Server) handleResend(c echo.Context) error {
	id := c.Param("id")

	rec, err := s.store.GetByID(c.Request().Context(), id)
	if errors.Is(err, record.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if err != nil {
		s.logger.Error("record lookup failed", zap.String("record_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "record lookup failed")
	}

	if err := s.store.UpdateStatus(c.Request().Context(), rec.ID, record.StatusPending); err != nil {
		s.logger.Error("record status update failed", zap.String("record_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "record status update failed")
	}

	task := delivery.Task{RecordID: rec.ID, Phone: rec.Phone, Code: rec.Code}
	if err := s.queue.Enqueue(c.Request().Context(), task); err != nil {
		s.logger.Error("delivery enqueue failed", zap.String("record_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "delivery enqueue failed")
	}

	s.logger.Info("resend queued", zap.String("record_id", rec.ID), zap.String("phone", rec.Phone))
	s.events.ListChanged()
	return c.JSON(http.StatusAccepted, ResendResponse{RecordID: rec.ID, Queued: true})
}

// handleDeleteRecord removes a record, freeing its phone for a new record.
func (s *Server) handleDeleteRecord(c echo.Context) error {
	id := c.Param("id")

	err := s.store.Delete(c.Request().Context(), id)
	if errors.Is(err, record.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if err != nil {
		s.logger.Error("record delete failed", zap.String("record_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "record delete failed")
	}

	s.events.ListChanged()
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
