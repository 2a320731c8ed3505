// Package api provides HTTP handlers and the main API server logic for DrillLine.
//
// It exposes endpoints for submitting sequenced dialog commands and for
// inspecting per-subscriber dialog state. The API integrates with the dialog
// engine, the store, the drill-progress projection, and the SMS dispatcher.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BellwoodLabs/DrillLine/internal/dialog"
	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/progress"
	"github.com/BellwoodLabs/DrillLine/internal/registration"
	"github.com/BellwoodLabs/DrillLine/internal/sms"
	"github.com/BellwoodLabs/DrillLine/internal/store"
)

// DefaultAPIAddr is the default listen address for the API server.
const DefaultAPIAddr = ":8080"

// DefaultRequestTimeout bounds command processing per request.
const DefaultRequestTimeout = 30 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server routes dialog commands to the engine and fans the resulting event
// batches out to the projection and the SMS dispatcher.
type Server struct {
	addr       string
	engine     *dialog.Engine
	repo       store.DialogRepository
	validator  registration.Validator
	dispatcher *sms.Dispatcher
	progress   *progress.Repository
}

// NewServer creates the API server. The dispatcher and progress repository
// are optional; a nil value simply disables that consumer.
func NewServer(engine *dialog.Engine, repo store.DialogRepository, validator registration.Validator,
	dispatcher *sms.Dispatcher, progressRepo *progress.Repository, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAPIAddr
	}
	return &Server{
		addr:       cfg.Addr,
		engine:     engine,
		repo:       repo,
		validator:  validator,
		dispatcher: dispatcher,
		progress:   progressRepo,
	}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/commands", s.commandsHandler)
	mux.HandleFunc("/v1/dialog-state", s.dialogStateHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	slog.Info("DrillLine API running", "addr", s.addr)
	if err := http.ListenAndServe(s.addr, s.Handler()); err != nil {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// consumeBatch hands one persisted batch to the projection and the SMS
// dispatcher. The batch is already durable at this point, so consumer
// failures are logged rather than surfaced as request errors; the projection
// catches up on redelivery.
func (s *Server) consumeBatch(ctx context.Context, batch *events.DialogEventBatch) {
	if s.progress != nil {
		if err := s.progress.HandleBatch(ctx, batch); err != nil {
			slog.Error("Server.consumeBatch: projection update failed",
				"batch_id", batch.BatchID, "error", err)
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.DispatchBatch(ctx, batch); err != nil {
			slog.Error("Server.consumeBatch: message dispatch failed",
				"batch_id", batch.BatchID, "error", err)
		}
	}
}
