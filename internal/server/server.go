// Package server exposes the orderd HTTP API.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/breaker"
	"github.com/tradeforge/orderd/internal/orchestrator"
	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/telemetry"
)

// Server wraps the HTTP front end.
type Server struct {
	orch    *orchestrator.Orchestrator
	store   storage.Storage
	breaker *breaker.Breaker
	metrics *telemetry.Metrics
	log     *zap.Logger

	httpServer *http.Server
	addr       string
}

// New builds a server listening on addr once started.
func New(addr string, orch *orchestrator.Orchestrator, store storage.Storage, brk *breaker.Breaker, metrics *telemetry.Metrics, log *zap.Logger) *Server {
	return &Server{
		orch:    orch,
		store:   store,
		breaker: brk,
		metrics: metrics,
		log:     log,
		addr:    addr,
	}
}

// Router assembles the route tree. Exposed for httptest-based tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.correlationID)
	r.Use(s.recoverPanic)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadiness)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handleBatchCreate)
		r.Get("/", s.handleListOrders)
		r.Post("/batch/submit", s.handleBulkSubmit)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetOrder)
			r.Put("/", s.handleUpdateOrder)
			r.Delete("/", s.handleDeleteOrder)
		})
	})

	r.Route("/statuses", statusRoutes(s))
	r.Route("/order-types", orderTypeRoutes(s))
	r.Route("/blotters", blotterRoutes(s))

	return r
}

// Start begins serving and blocks until the listener closes. Cancelling ctx
// triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second, // bulk submit can legitimately run for a minute
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("http server listening", zap.String("addr", listener.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
