// Package restserver exposes the read-only HTTP views of the daemon:
// configuration, stations and their readings, per-project sensors and
// safety verdicts, and the human-intervention override endpoints.
package restserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/internal/station"
	"github.com/obswx/safetyd/pkg/config"
)

// Server is the HTTP face of the daemon. All endpoints are read-only
// snapshots except the human-intervention pair, which only touches the
// override file.
type Server struct {
	cfg          *config.Config
	registry     *safety.Registry
	stations     map[string]station.Station
	intervention *safety.Intervention
	httpServer   *http.Server
}

// New wires the server; Start actually listens.
func New(cfg *config.Config, registry *safety.Registry, stations map[string]station.Station, intervention *safety.Intervention) *Server {
	s := &Server{
		cfg:          cfg,
		registry:     registry,
		stations:     stations,
		intervention: intervention,
	}

	router := mux.NewRouter()
	router.Use(requestLogger)

	router.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	router.HandleFunc("/stations", s.handleStations).Methods(http.MethodGet)
	router.HandleFunc("/stations/{name}", s.handleStationDetail).Methods(http.MethodGet)
	router.HandleFunc("/projects", s.handleProjects).Methods(http.MethodGet)
	router.HandleFunc("/is_safe", s.handleDefaultIsSafe).Methods(http.MethodGet)
	router.HandleFunc("/human-intervention/create", s.handleInterventionCreate).Methods(http.MethodGet)
	router.HandleFunc("/human-intervention/remove", s.handleInterventionRemove).Methods(http.MethodGet)
	router.HandleFunc("/{project}/sensors", s.handleProjectSensors).Methods(http.MethodGet)
	router.HandleFunc("/{project}/sensor/{name}", s.handleSensorDetail).Methods(http.MethodGet)
	router.HandleFunc("/{project}/is_safe", s.handleProjectIsSafe).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in its own goroutine.
func (s *Server) Start() {
	go func() {
		log.Infof("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server failed: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
