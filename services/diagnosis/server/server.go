// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes the daemon's read-only HTTP surface: health,
// store statistics, signature listings and Prometheus metrics. There is
// no write surface; mutations go through the CLI.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/scheduler"
	"github.com/tracehound/tracehound/services/diagnosis/store"
)

// Config configures the status server.
type Config struct {
	// Addr is the listen address, e.g. ":8765".
	Addr string

	// Store backs the read endpoints.
	Store store.Store

	// Budget, when set, is reported on /stats.
	Budget *scheduler.DailyBudget

	// Registry serves /metrics. Nil disables the endpoint.
	Registry *prometheus.Registry

	// Logger receives request-level diagnostics. If nil, slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP status surface.
type Server struct {
	httpSrv *http.Server
	logger  *slog.Logger
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("server: listen address required")
	}
	if cfg.Store == nil {
		return nil, errors.New("server: store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &handlers{store: cfg.Store, budget: cfg.Budget, logger: logger}
	router.GET("/healthz", h.healthz)
	router.GET("/stats", h.stats)
	router.GET("/signatures", h.listSignatures)
	router.GET("/signatures/:id", h.getSignature)
	if cfg.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	return &Server{
		httpSrv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}, nil
}

// Start serves until Shutdown. Blocks; returns nil on clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("status server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type handlers struct {
	store  store.Store
	budget *scheduler.DailyBudget
	logger *slog.Logger
}

func (h *handlers) healthz(c *gin.Context) {
	// The store is the only hard dependency; a failing stats read means
	// the daemon cannot do useful work.
	if _, err := h.store.GetStats(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) stats(c *gin.Context) {
	stats, err := h.store.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("stats read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	byStatus := make(map[string]int, len(stats.ByStatus))
	for st, n := range stats.ByStatus {
		byStatus[string(st)] = n
	}
	body := gin.H{
		"signatures_total":     stats.Total,
		"signatures_by_status": byStatus,
		"occurrences_total":    stats.TotalOccurrences,
		"estimated_spend_usd":  stats.EstimatedSpendUSD,
	}
	if h.budget != nil {
		body["budget_spent_today_usd"] = h.budget.SpentToday()
		body["budget_limit_usd"] = h.budget.LimitUSD()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) listSignatures(c *gin.Context) {
	var status models.Status
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", raw)})
			return
		}
		status = parsed
	}
	sigs, err := h.store.GetAll(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("signature listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing unavailable"})
		return
	}
	out := make([]gin.H, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, signatureSummary(sig))
	}
	c.JSON(http.StatusOK, gin.H{"signatures": out, "count": len(out)})
}

func (h *handlers) getSignature(c *gin.Context) {
	sig, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "signature not found"})
		return
	}
	if err != nil {
		h.logger.Error("signature read failed", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signature unavailable"})
		return
	}
	body := signatureSummary(sig)
	if d := sig.Diagnosis(); d != nil {
		body["diagnosis"] = gin.H{
			"root_cause":    d.RootCause,
			"suggested_fix": d.SuggestedFix,
			"evidence":      d.Evidence,
			"confidence":    string(d.Confidence),
			"diagnosed_at":  d.DiagnosedAt.Format(time.RFC3339),
			"model":         d.Model,
			"cost_usd":      d.CostUSD,
		}
	}
	if note := sig.ResolutionNote(); note != "" {
		body["resolution_note"] = note
	}
	if reason := sig.MuteReason(); reason != "" {
		body["mute_reason"] = reason
	}
	c.JSON(http.StatusOK, body)
}

func signatureSummary(sig *models.Signature) gin.H {
	return gin.H{
		"id":               sig.ID(),
		"fingerprint":      sig.Fingerprint(),
		"service":          sig.Service(),
		"error_type":       sig.ErrorType(),
		"message_template": sig.MessageTemplate(),
		"status":           string(sig.Status()),
		"occurrences":      sig.OccurrenceCount(),
		"first_seen":       sig.FirstSeen().Format(time.RFC3339),
		"last_seen":        sig.LastSeen().Format(time.RFC3339),
		"tags":             sig.Tags(),
	}
}
