// Package server is the studio's thin HTTP/SSE surface over the Scheduler:
// method+pattern routing on the stdlib mux, a localhost-only CSRF guard on
// cross-origin POST/PATCH/DELETE requests, and SSE with no write timeout. The transport is kept
// thin and swappable; the Scheduler itself tracks in-flight runs, so no
// separate registry sits between them.
package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/automaker/automaker/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Addr        string // listen address, e.g. ":8080"
	ProjectPath string

	// CORSOrigin, if set, is an additional non-localhost Origin the CSRF
	// guard allows through (e.g. a studio UI served from another host),
	// read from the studio's CORS_ORIGIN env setting.
	CORSOrigin string
}

// Server is the HTTP server fronting one project's Scheduler.
type Server struct {
	config      Config
	projectPath string
	scheduler   *scheduler.Scheduler
	baseCtx     context.Context
	cancel      context.CancelFunc
	httpSrv     *http.Server
	logger      *log.Logger
}

// New creates a new Server with the given config and Scheduler.
func New(cfg Config, sch *scheduler.Scheduler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		projectPath: cfg.ProjectPath,
		scheduler:   sch,
		baseCtx:     ctx,
		cancel:      cancel,
		logger:      log.New(os.Stderr, "[automaker-server] ", log.LstdFlags),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /features", s.handleListFeatures)
	mux.HandleFunc("POST /features", s.handleCreateFeature)
	mux.HandleFunc("GET /features/{id}", s.handleGetFeature)
	mux.HandleFunc("PATCH /features/{id}", s.handleUpdateFeature)
	mux.HandleFunc("DELETE /features/{id}", s.handleDeleteFeature)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /worktrees", s.handleListWorktrees)
	mux.HandleFunc("DELETE /worktrees/{branch...}", s.handleRemoveWorktree)
	mux.HandleFunc("GET /features/{id}/status", s.handleFeatureStatus)
	mux.HandleFunc("GET /features/{id}/events", s.handleFeatureEvents)
	mux.HandleFunc("POST /features/{id}/run", s.handleRunFeature)
	mux.HandleFunc("POST /features/{id}/resume", s.handleResumeFeature)
	mux.HandleFunc("POST /features/{id}/followup", s.handleFollowUpFeature)
	mux.HandleFunc("POST /features/{id}/verify", s.handleVerifyFeature)
	mux.HandleFunc("POST /features/{id}/commit", s.handleCommitFeature)
	mux.HandleFunc("POST /features/{id}/merge", s.handleMergeFeature)
	mux.HandleFunc("POST /features/{id}/stop", s.handleStopFeature)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux, cfg.CORSOrigin),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// ListenAndServe starts the server and blocks until Shutdown is called or
// the listener errors.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("listening on %s", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// csrfProtect rejects cross-origin mutating requests: browsers always
// set Origin on cross-origin requests, so
// checking it blocks browser CSRF while leaving CLI/programmatic callers
// (which omit Origin) unaffected.
func csrfProtect(next http.Handler, allowedOrigin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodDelete {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				host := u.Hostname()
				allowed := host == "localhost" || host == "127.0.0.1" || host == "::1"
				if !allowed && allowedOrigin != "" && origin == allowedOrigin {
					allowed = true
				}
				if !allowed {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops the HTTP server gracefully, draining the background
// dependency-scheduling loop and in-flight connections.
func (s *Server) Shutdown() {
	s.scheduler.StopLoop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}
