// Package server is the frontend bridge: a loopback HTTP server through
// which the preview webview receives editor updates over a websocket and
// asks for LaTeX renders, line-click notifications and preamble reloads.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"mime"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/eventbus"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/metrics"
	"github.com/conneroisu/glimpse/internal/ports"
	"github.com/conneroisu/glimpse/internal/renderer"
	"github.com/conneroisu/glimpse/internal/version"
)

// DefaultMaxBodyBytes bounds API request bodies.
const DefaultMaxBodyBytes = 16 << 20

// Renderer turns a LaTeX snippet into SVG.
type Renderer interface {
	Render(ctx context.Context, req renderer.RenderRequest) (string, error)
}

// LineNotifier forwards line clicks to the editor.
type LineNotifier interface {
	LineClickedAsync(line uint32)
}

// Preamble exposes the shared preamble.
type Preamble interface {
	Get() string
	Reload(ctx context.Context) error
}

// Events is the subscribing side of the event bus.
type Events interface {
	Subscribe() *eventbus.Subscription
	Subscribers() int
}

// Config configures the bridge.
type Config struct {
	Addr           string
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Dependencies are the components the bridge fronts. Any of them may be
// nil; the matching routes then answer 503.
type Dependencies struct {
	Events   Events
	Renderer Renderer
	Notifier LineNotifier
	Preamble Preamble
	Metrics  *metrics.Metrics
}

// Server is the frontend bridge.
type Server struct {
	config Config
	deps   Dependencies
	logger logging.Logger

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	clients      map[*client]struct{}
	clientsMutex sync.Mutex
	clientsWG    sync.WaitGroup
	shutdownOnce sync.Once
	isShutdown   bool
}

// New creates a bridge server.
func New(config Config, deps Dependencies, logger logging.Logger) *Server {
	if config.Addr == "" {
		config.Addr = ports.FrontendAddr()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{
		config:  config,
		deps:    deps,
		logger:  logger.WithComponent("bridge"),
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the bridge routes wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/render", s.handleRender)
	mux.HandleFunc("POST /api/line-clicked", s.handleLineClicked)
	mux.HandleFunc("GET /api/preamble", s.handlePreamble)
	mux.HandleFunc("POST /api/preamble/reload", s.handlePreambleReload)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	return s.addMiddleware(mux)
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.NewNetworkError(errors.ErrCodeServerBind, "could not bind frontend bridge", err).
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

	s.logger.Info(ctx, "Frontend bridge listening", "url", "http://"+ln.Addr().String())

	go func() {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, err, "Frontend bridge stopped")
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

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	return len(s.clients)
}

// Shutdown closes every websocket client, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.clientsMutex.Lock()
		s.isShutdown = true
		for c := range s.clients {
			c.close()
		}
		s.clientsMutex.Unlock()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}

		done := make(chan struct{})
		go func() {
			s.clientsWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if shutdownErr == nil {
				shutdownErr = ctx.Err()
			}
		}
	})

	return shutdownErr
}

func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		origin := r.Header.Get("Origin")
		if s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if status, reason := s.checkUnsafeRequest(r); status != 0 {
			s.logger.Warn(r.Context(), nil, "Rejected request",
				"method", r.Method, "path", r.URL.Path, "origin", origin, "status", status)
			s.writeJSON(r.Context(), w, status, errorResponse{Error: reason})
			return
		}

		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Handled request",
			"method", r.Method, "path", r.URL.Path, "request_id", requestID, "elapsed", time.Since(start))
	})
}

// checkUnsafeRequest guards state-changing methods against cross-site
// requests. A foreign Origin is refused outright, and the body must be
// declared as JSON so browsers always preflight. It returns 0 when the
// request may proceed.
func (s *Server) checkUnsafeRequest(r *http.Request) (int, string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return 0, ""
	}

	if origin := r.Header.Get("Origin"); origin != "" && !s.isAllowedOrigin(origin) {
		return http.StatusForbidden, "origin not allowed"
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return http.StatusUnsupportedMediaType, "Content-Type must be application/json"
	}
	return 0, ""
}

// isAllowedOrigin accepts configured origins and any http(s) origin on a
// loopback host.
func (s *Server) isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return false
	}
	return ports.IsLoopback(originURL.Hostname())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subscribers := 0
	if s.deps.Events != nil {
		subscribers = s.deps.Events.Subscribers()
	}

	health := map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"version":    version.GetShortVersion(),
		"build_info": version.GetBuildInfo(),
		"checks": map[string]interface{}{
			"events":   map[string]interface{}{"subscribers": subscribers, "websocket_clients": s.Clients()},
			"renderer": map[string]interface{}{"available": s.deps.Renderer != nil},
			"notifier": map[string]interface{}{"available": s.deps.Notifier != nil},
			"preamble": map[string]interface{}{"available": s.deps.Preamble != nil},
		},
	}

	s.writeJSON(r.Context(), w, http.StatusOK, health)
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(ctx, err, "Failed to encode response")
	}
}

func (s *Server) unavailable(w http.ResponseWriter, r *http.Request, component string) {
	s.writeJSON(r.Context(), w, http.StatusServiceUnavailable, errorResponse{
		Error: component + " is not available",
	})
}
