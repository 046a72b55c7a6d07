package server

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/scheduler"
	"github.com/conneroisu/assetforge/internal/version"
)

const scriptTag = `<script src="` + LiveReloadScript + `"></script>`

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Version    string            `json:"version"`
	LiveReload bool              `json:"live_reload"`
	Clients    int               `json:"clients"`
	Build      *scheduler.Report `json:"build,omitempty"`
	Error      string            `json:"error,omitempty"`
	Edges      []graph.Edge      `json:"edges"`
	Timestamp  time.Time         `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.LastBuild()

	resp := StatusResponse{
		Version:    version.Short(),
		LiveReload: s.config.Server.LiveReload,
		Clients:    s.hub.Clients(),
		Build:      report,
		Edges:      []graph.Edge{},
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if s.deps != nil {
		resp.Edges = s.deps.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		s.logger.Warn(r.Context(), encErr, "Failed to encode status response")
	}
}

func (s *Server) handleScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(liveReloadJS)
}

// handleFile serves a file from the destination. Directories serve their
// index.html, or a listing when there is none.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	urlPath := path.Clean("/" + r.URL.Path)
	name := strings.TrimPrefix(urlPath, "/")
	if name == "" {
		name = "."
	}

	info, err := fs.Stat(s.fsys, name)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			s.renderError(w, r, http.StatusNotFound, "No file at "+urlPath+" in the build output.")
			return
		}
		s.renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, strings.TrimSuffix(urlPath, "/")+"/", http.StatusMovedPermanently)
			return
		}

		index := path.Join(name, "index.html")
		if st, err := fs.Stat(s.fsys, index); err == nil && !st.IsDir() {
			s.serveFile(w, r, index)
			return
		}

		s.serveListing(w, r, urlPath, name)
		return
	}

	s.serveFile(w, r, name)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	w.Header().Set("Cache-Control", "no-cache")

	if !s.config.Server.LiveReload || path.Ext(name) != ".html" {
		http.ServeFileFS(w, r, s.fsys, name)
		return
	}

	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(InjectScript(data))
}

func (s *Server) serveListing(w http.ResponseWriter, r *http.Request, urlPath, name string) {
	entries, err := fs.ReadDir(s.fsys, name)
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	base := strings.TrimSuffix(urlPath, "/") + "/"
	items := make([]listing, 0, len(entries))
	for _, e := range entries {
		item := listing{Name: e.Name(), Dir: e.IsDir(), Href: base + e.Name()}
		if e.IsDir() {
			item.Href += "/"
		} else if fi, err := e.Info(); err == nil {
			item.Size = fi.Size()
			item.Human = humanSize(fi.Size())
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Dir != items[j].Dir {
			return items[i].Dir
		}
		return items[i].Name < items[j].Name
	})

	templ.Handler(directoryIndex(base, items)).ServeHTTP(w, r)
}

// InjectScript inserts the live-reload script tag before the last </body>,
// or appends it when the document has none.
func InjectScript(doc []byte) []byte {
	if bytes.Contains(doc, []byte(scriptTag)) {
		return doc
	}

	idx := lastIndexFold(doc, []byte("</body>"))
	if idx < 0 {
		out := make([]byte, 0, len(doc)+len(scriptTag))
		out = append(out, doc...)
		return append(out, scriptTag...)
	}

	out := make([]byte, 0, len(doc)+len(scriptTag))
	out = append(out, doc[:idx]...)
	out = append(out, scriptTag...)
	return append(out, doc[idx:]...)
}

func lastIndexFold(s, sub []byte) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if bytes.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
