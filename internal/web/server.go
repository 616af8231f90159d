// Package web provides the HTTP API for docchat.
package web

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host string
	Port int
}

// Server is the docchat HTTP server.
type Server struct {
	config  ServerConfig
	router  *chi.Mux
	handler *Handler
}

// NewServer creates a Server over the given handler dependencies.
func NewServer(cfg ServerConfig, handler *Handler) *Server {
	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		handler: handler,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handler.Health)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/stores", s.handler.ListStores)
		r.Get("/status", s.handler.Status)
		r.Post("/documents", s.handler.AddDocument)
		r.Post("/search", s.handler.Search)
		r.Post("/ask", s.handler.Ask)
	})
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)
	log.Printf("Starting docchat server on http://%s", addr)
	return http.ListenAndServe(addr, s.router)
}
