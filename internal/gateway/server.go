// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	v1 "ampd/api/v1"
	"ampd/internal/gateway/middleware"
	"ampd/pkg/logger"
)

// Server wraps the HTTP listener with the middleware chain and the v1
// API routes.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	addr       string
}

// NewServer creates a gateway server listening on addr.
func NewServer(addr string, api *v1.Router) *Server {
	router := mux.NewRouter()
	api.RegisterRoutes(router)

	// Middleware chain: Recovery -> Logging -> CORS.
	handler := middleware.Recovery(middleware.Logging(middleware.CORS(router)))

	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: 60 * time.Second,
			// SSE responses stay open indefinitely; the request context
			// bounds them instead of a write timeout.
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
		router: router,
		addr:   addr,
	}
}

// Start blocks serving HTTP until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	logger.Info().Str("addr", s.addr).Msg("gateway listening")
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("gateway shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Router returns the underlying router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
