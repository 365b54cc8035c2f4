// Package ingress is the loopback HTTP listener through which the editor
// pushes document snapshots. Every accepted POST /update is republished on
// the internal event bus as a "markdown-update" event.
package ingress

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/eventbus"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/metrics"
	"github.com/conneroisu/glimpse/internal/ports"
)

// DefaultMaxBodyBytes bounds a single update body.
const DefaultMaxBodyBytes = 16 << 20

// Config configures the ingress listener.
type Config struct {
	Addr         string
	MaxBodyBytes int64
}

// Server is the update ingress.
type Server struct {
	config  Config
	bus     eventbus.Emitter
	logger  logging.Logger
	metrics *metrics.Metrics

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// New creates an ingress server publishing to bus.
func New(config Config, bus eventbus.Emitter, logger logging.Logger, m *metrics.Metrics) *Server {
	if config.Addr == "" {
		config.Addr = ports.IngressAddr()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{
		config:  config,
		bus:     bus,
		logger:  logger.WithComponent("ingress"),
		metrics: m,
	}
}

// Handler returns the ingress routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/update", s.handleUpdate)
	return mux
}

// Start binds the listener and serves in the background. Bind failures are
// returned as ERR_INGRESS_BIND; the server is never retried.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.NewNetworkError(errors.ErrCodeIngressBind, "could not bind update ingress", err).
			WithContext("addr", s.config.Addr)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.serverMutex.Lock()
	s.listener = ln
	s.httpServer = server
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Glimpse server listening", "url", "http://"+ln.Addr().String())

	go func() {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, err, "Update ingress stopped")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})
	return shutdownErr
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := s.serveUpdate(w, r)
	s.metrics.IngressRequest(status)
	s.logger.Debug(r.Context(), "Handled update", "method", r.Method, "status", status, "elapsed", time.Since(start))
}

func (s *Server) serveUpdate(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}
	if !acceptableContentType(r.Header.Get("Content-Type")) {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return http.StatusUnsupportedMediaType
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	payload, err := Decode(r.Body)
	if err != nil {
		var decodeErr *DecodeError
		if !stderrors.As(err, &decodeErr) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return http.StatusBadRequest
		}
		s.logger.Debug(r.Context(), "Rejected update", "status", decodeErr.Status, "reason", decodeErr.Error())
		http.Error(w, decodeErr.Error(), decodeErr.Status)
		return decodeErr.Status
	}

	if err := s.bus.Emit(eventbus.EventMarkdownUpdate, payload); err != nil {
		s.logger.Error(r.Context(), err, "Failed to emit update event", "file", payload.FileName)
	}

	w.WriteHeader(http.StatusOK)
	return http.StatusOK
}
