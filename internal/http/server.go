// Package http is the JSON control plane consumed by the CLI and any
// future UI. Routes live under /api with an optional bearer token and a
// per-client rate limit.
package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/automator/internal/config"
	"github.com/nextlevelbuilder/automator/internal/executor"
	"github.com/nextlevelbuilder/automator/internal/scheduler"
	"github.com/nextlevelbuilder/automator/internal/store"
	"github.com/nextlevelbuilder/automator/internal/vault"
)

// Server wires the control-plane handlers over the core services.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	vault     *vault.Vault
	executor  *executor.Executor
	scheduler *scheduler.Scheduler
	limiter   *RateLimiter
	version   string
	started   time.Time

	httpSrv *http.Server
}

// NewServer assembles the control plane.
func NewServer(
	cfg *config.Config,
	s *store.Store,
	v *vault.Vault,
	exec *executor.Executor,
	sched *scheduler.Scheduler,
	version string,
) *Server {
	return &Server{
		cfg:       cfg,
		store:     s,
		vault:     v,
		executor:  exec,
		scheduler: sched,
		limiter:   NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
		version:   version,
		started:   time.Now(),
	}
}

// Routes builds the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", s.handleUpdateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/toggle", s.handleToggleTask)
	mux.HandleFunc("POST /api/tasks/{id}/execute", s.handleExecuteTask)
	mux.HandleFunc("GET /api/tasks/{id}/preflight", s.handlePreflightTask)

	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)

	mux.HandleFunc("GET /api/credentials", s.handleListCredentials)
	mux.HandleFunc("POST /api/credentials", s.handleCreateCredential)
	mux.HandleFunc("DELETE /api/credentials/{id}", s.handleDeleteCredential)
	mux.HandleFunc("PUT /api/credentials/{name}/value", s.handleSetCredentialValue)
	mux.HandleFunc("DELETE /api/credentials/{name}/value", s.handleClearCredentialValue)

	return s.middleware(mux)
}

// middleware applies the rate limit and bearer auth to every request.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
		if !tokenMatch(extractBearerToken(r), s.cfg.AuthToken) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("control plane listening", "addr", s.cfg.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
