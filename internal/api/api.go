// Package api exposes the read-only status surface of a running GreetPipe bot
// and, for the Twilio transport, the inbound message webhook.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/store"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 5 * time.Second
	// DefaultReadHeaderTimeout guards against slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
	// TwilioWebhookPath is where Twilio posts inbound messages.
	TwilioWebhookPath = "/webhook/twilio"
)

// StatusSource provides the latest bot snapshot.
type StatusSource interface {
	Status() models.Status
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func() models.Status

// Status implements StatusSource.
func (f StatusFunc) Status() models.Status { return f() }

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	TwilioWebhook http.Handler
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook mounts handler on TwilioWebhookPath.
func WithTwilioWebhook(handler http.Handler) Option {
	return func(o *Opts) { o.TwilioWebhook = handler }
}

// Server serves the status endpoints.
type Server struct {
	addr       string
	status     StatusSource
	st         store.Store
	started    time.Time
	httpServer *http.Server
}

// NewServer builds a Server. status and st must not be nil.
func NewServer(status StatusSource, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		addr:    cfg.Addr,
		status:  status,
		st:      st,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/receipts", s.receiptsHandler)
	if cfg.TwilioWebhook != nil {
		mux.Handle(TwilioWebhookPath, cfg.TwilioWebhook)
		slog.Debug("Server.NewServer: Twilio webhook mounted", "path", TwilioWebhookPath)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until the context ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("Server.Serve: API listening", "addr", ln.Addr().String())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		slog.Info("Server.Serve: API stopped")
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
