// Package server exposes the bridge's published state to local consumers over
// HTTP and a JSON-RPC WebSocket.
package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/john/monox_bridge/bridge"
)

// Source is the read side of a bridge.
type Source interface {
	State() bridge.StateData
	Diagnostics() map[string]any
	Subscribe(cb bridge.StatusCallback) (unsubscribe func())
}

// Config holds the listen address.
type Config struct {
	Addr string
}

// Server is the downstream HTTP/WebSocket server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	wsHub      *WSHub

	mu          sync.RWMutex
	source      Source
	unsubscribe func()
}

// New creates a server for src and subscribes its hub to state changes.
func New(cfg Config, src Source) *Server {
	s := &Server{router: mux.NewRouter()}

	s.wsHub = NewWSHub(s)
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
	}

	s.Attach(src)
	return s
}

// Attach switches the server to src, used when the host replaces a bridge
// that went offline. Subscribers are told about the new state immediately.
func (s *Server) Attach(src Source) {
	unsubscribe := src.Subscribe(func(data bridge.StateData) {
		if s.current() == src {
			s.wsHub.BroadcastStatusUpdate(data)
		}
	})

	s.mu.Lock()
	prev, release := s.source, s.unsubscribe
	s.source, s.unsubscribe = src, unsubscribe
	s.mu.Unlock()

	if release != nil {
		release()
	}
	if prev != nil {
		s.wsHub.BroadcastStatusUpdate(src.State())
	}
}

func (s *Server) current() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/printer/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/printer/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/printer/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	s.router.HandleFunc("/websocket", s.wsHub.HandleWebSocket).Methods(http.MethodGet)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "Photon Mono X Bridge",
	})
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes the listener and open WebSocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Debug().Int("clients", s.wsHub.Clients()).Msg("closing websocket clients")
	s.wsHub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
