// Package server constructs and runs the forest chat HTTP service, wiring
// the messaging core to its WebSocket transport.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bearbait/forestchat/internal/chat"
	"github.com/bearbait/forestchat/internal/store"
)

// Server owns the transport side of the chat service and the core
// components behind it.
type Server struct {
	cfg       Config
	store     *store.Store
	registry  *chat.Registry
	presence  *chat.Broadcaster
	authority *chat.Authority
	router    *chat.Router
	origins   *originChecker
	upgrader  websocket.Upgrader
	log       *zap.Logger
	wg        sync.WaitGroup
}

// New wires the core components over the given store and returns a server
// ready to have its routes registered.
func New(cfg *Config, st *store.Store, log *zap.Logger) *Server {
	resolved := defaultConfig()
	if cfg != nil {
		resolved = cfg.sanitized()
	}

	registry := chat.NewRegistry(log.Named("registry"))
	presence := chat.NewBroadcaster(registry, log.Named("presence"))
	authority := chat.NewAuthority(st, registry, presence, resolved.SessionMaxAge, log.Named("sessions"))
	router := chat.NewRouter(st, registry, resolved.HistoryLimit, log.Named("router"))
	origins := newOriginChecker(resolved.AllowedOrigins, log)

	s := &Server{
		cfg:       resolved,
		store:     st,
		registry:  registry,
		presence:  presence,
		authority: authority,
		router:    router,
		origins:   origins,
		log:       log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return s
}

// Authority exposes the session authority so the caller can run its
// background sweeper.
func (s *Server) Authority() *chat.Authority {
	return s.authority
}

// CreateHTTPServer creates and configures an HTTP server with the specified
// handler. It sets reasonable timeout values for production use.
func CreateHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ShutdownHTTP gracefully shuts down the HTTP server, waiting for active
// requests to finish or the timeout to pass.
func (s *Server) ShutdownHTTP(httpServer *http.Server, timeout time.Duration) error {
	s.log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	return nil
}

// Shutdown closes every live connection and waits for their pump goroutines
// to finish, or gives up after the timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info("closing live connections")

	for _, entry := range s.registry.Snapshot() {
		entry.Kick()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all connections closed")
		return nil
	case <-time.After(timeout):
		s.log.Warn("shutdown timeout reached, some connection goroutines may still be running")
		return context.DeadlineExceeded
	}
}
