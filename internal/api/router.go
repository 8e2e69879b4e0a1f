// Package api implements the thin HTTP/JSON projection of the Session
// Facade (§6 of the spec): it only validates request shape, calls into the
// Session, and serializes the result.
package api

import (
	"log"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/flightpath-dev/autopilot-agent/internal/config"
	ourmw "github.com/flightpath-dev/autopilot-agent/internal/middleware"
	"github.com/flightpath-dev/autopilot-agent/internal/session"
)

// Server holds the chi router and the Session it projects over HTTP.
type Server struct {
	session *session.Session
	router  *chi.Mux
	logger  *log.Logger
}

// New builds the HTTP surface's router, wired to the given Session.
func New(sess *session.Session, cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{session: sess, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(ourmw.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	r.Post("/connect", s.handleConnect)
	r.Post("/disconnect", s.handleDisconnect)
	r.Get("/telemetry", s.handleTelemetry)
	r.Get("/health", s.handleHealth)
	r.Get("/logs", s.handleLogs)
	r.Post("/logs/clear", s.handleLogsClear)
	r.Post("/set_mode", s.handleSetMode)
	r.Post("/arm", s.handleArm)
	r.Post("/mission/start", s.handleMissionStart)
	r.Post("/mission/stop", s.handleMissionStop)
	r.Get("/mission/status", s.handleMissionStatus)

	s.router = r
	return s
}

// Router returns the underlying chi router for use with http.Server/ListenAndServe.
func (s *Server) Router() *chi.Mux { return s.router }
