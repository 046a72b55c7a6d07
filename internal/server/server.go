// Package server implements the development server: a static file server
// over the build destination with live reload.
//
// HTML responses get a small client script injected before </body>. The
// script connects to /__livereload and, depending on the update it
// receives, swaps stylesheets in place, reloads the page or shows the
// failure of the last build.
package server

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/scheduler"
	"github.com/conneroisu/assetforge/internal/websocket"
)

// Reserved routes.
const (
	LiveReloadPath   = "/__livereload"
	LiveReloadScript = "/__livereload.js"
	StatusPath       = "/__status"
)

//go:embed livereload.js
var liveReloadJS []byte

// Server serves the build destination with live reload capability.
type Server struct {
	config *config.Config
	dest   string
	fsys   fs.FS
	deps   *graph.DependencyGraph
	hub    *websocket.Hub
	logger logging.Logger

	httpServer  *http.Server
	serverMutex sync.Mutex

	lastReport  *scheduler.Report
	lastErr     error
	reportMutex sync.RWMutex

	shutdownOnce sync.Once
}

// New creates a server for the project rooted at root. deps is only read,
// for the status endpoint; it may be nil.
func New(cfg *config.Config, root string, deps *graph.DependencyGraph, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDiscard()
	}

	dest := filepath.Join(root, filepath.FromSlash(cfg.Build.Dest))

	return &Server{
		config: cfg,
		dest:   dest,
		fsys:   os.DirFS(dest),
		deps:   deps,
		hub:    websocket.NewHub(cfg.Server.AllowedOrigins, logger),
		logger: logger.WithComponent("server"),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StatusPath, s.handleStatus)
	if s.config.Server.LiveReload {
		mux.Handle("GET "+LiveReloadPath, s.hub)
		mux.HandleFunc("GET "+LiveReloadScript, s.handleScript)
	}
	mux.HandleFunc("GET /", s.handleFile)

	return s.addMiddleware(mux)
}

// Start listens on the configured address and serves until ctx is done or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or Shutdown is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Server shutdown incomplete")
		}
	})
	defer stop()

	s.logger.Info(ctx, "Serving", "url", "http://"+ln.Addr().String(), "dest", s.config.Build.Dest,
		"live_reload", s.config.Server.LiveReload)

	if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown closes live-reload connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		hubErr := s.hub.Shutdown(ctx)

		s.serverMutex.Lock()
		server := s.httpServer
		s.serverMutex.Unlock()

		var httpErr error
		if server != nil {
			httpErr = server.Shutdown(ctx)
		}

		shutdownErr = stderrors.Join(hubErr, httpErr)
	})

	return shutdownErr
}

// TaskDone tells clients about the artifacts a successful task changed:
// a css update when every changed file under the destination is a
// stylesheet, a full reload otherwise. Results without changes under the
// destination are ignored.
func (s *Server) TaskDone(res scheduler.TaskResult) {
	if !s.config.Server.LiveReload || res.Status != scheduler.StatusSucceeded {
		return
	}

	paths := s.urlPaths(res.Changed)
	if len(paths) == 0 {
		return
	}

	typ := websocket.MessageCSS
	for _, p := range paths {
		if path.Ext(p) != ".css" {
			typ = websocket.MessageReload
			break
		}
	}

	s.logger.Debug(context.Background(), "Sending update", "type", typ, "task", res.Task, "paths", len(paths))
	s.hub.Broadcast(websocket.UpdateMessage{
		Type:    typ,
		BuildID: res.BuildID,
		Task:    res.Task,
		Paths:   paths,
	})
}

// BuildDone records the outcome of a build and reports failures to
// clients.
func (s *Server) BuildDone(report *scheduler.Report, err error) {
	s.reportMutex.Lock()
	s.lastReport = report
	s.lastErr = err
	s.reportMutex.Unlock()

	if err == nil || !s.config.Server.LiveReload {
		return
	}

	msg := websocket.UpdateMessage{Type: websocket.MessageError, Error: err.Error()}
	if report != nil {
		msg.BuildID = report.BuildID
		if failed := report.Failed(); len(failed) > 0 {
			msg.Task = failed[0].Task
			msg.Error = failed[0].Error()
		}
	}
	s.hub.Broadcast(msg)
}

// LastBuild returns the most recent build report and error.
func (s *Server) LastBuild() (*scheduler.Report, error) {
	s.reportMutex.RLock()
	defer s.reportMutex.RUnlock()
	return s.lastReport, s.lastErr
}

// Clients returns the number of connected live-reload clients.
func (s *Server) Clients() int {
	return s.hub.Clients()
}

// urlPaths maps project-relative artifact paths under the destination to
// URL paths, dropping everything else.
func (s *Server) urlPaths(artifacts []string) []string {
	prefix := strings.TrimSuffix(path.Clean(filepath.ToSlash(s.config.Build.Dest)), "/") + "/"

	var paths []string
	for _, p := range artifacts {
		if rel, ok := strings.CutPrefix(p, prefix); ok {
			paths = append(paths, "/"+rel)
		}
	}

	return paths
}
