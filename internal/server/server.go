// Package server routes HTTP requests to the resolver, lister and renderer.
//
// Data flows one way: a request is resolved against the served root, then
// either listed or rendered, and every failure is mapped to a status code
// before anything is written. No state is shared between requests.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clean-dependency-project/ultiserve/internal/listing"
	"github.com/clean-dependency-project/ultiserve/internal/render"
	"github.com/clean-dependency-project/ultiserve/internal/resolver"
	"github.com/clean-dependency-project/ultiserve/internal/storage"
)

// DefaultRawParam is the query parameter that forces raw delivery.
const DefaultRawParam = "raw"

// AccessRecorder persists served requests. It is optional.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, access *storage.Access) error
}

// FileRenderer renders a resolved file.
type FileRenderer interface {
	Render(path, ext string, forceRaw bool) (render.Result, error)
}

// Options configures a Server.
type Options struct {
	RawParam string
	Logger   *slog.Logger
	Access   AccessRecorder
}

// Server is the HTTP entry point. It is safe for concurrent use.
type Server struct {
	root      *resolver.Root
	renderer  FileRenderer
	templates *template.Template
	rawParam  string
	logger    *slog.Logger
	access    AccessRecorder
}

// New creates a Server for root.
func New(root *resolver.Root, renderer FileRenderer, opts Options) (*Server, error) {
	if root == nil {
		return nil, errors.New("served root is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	rawParam := opts.RawParam
	if rawParam == "" {
		rawParam = DefaultRawParam
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		root:      root,
		renderer:  renderer,
		templates: tmpl,
		rawParam:  rawParam,
		logger:    logger,
		access:    opts.Access,
	}, nil
}

// Handler returns the routed handler. Only GET is accepted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.serve)
	r.Get("/*", s.serve)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", http.MethodGet)
		writeStatus(w, http.StatusMethodNotAllowed)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound)
	})
	return r
}

// serve dispatches on the resolved target.
func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	target := s.root.Resolve(r.URL.EscapedPath())

	switch target.Kind {
	case resolver.Forbidden:
		s.fail(w, r, http.StatusForbidden, target.Reason)
	case resolver.NotFound:
		s.fail(w, r, http.StatusNotFound, target.Reason)
	case resolver.Directory:
		s.serveDirectory(w, r, target)
	case resolver.File:
		s.serveFile(w, r, target)
	default:
		s.fail(w, r, http.StatusInternalServerError, fmt.Errorf("unexpected target kind %v", target.Kind))
	}
}

func (s *Server) serveDirectory(w http.ResponseWriter, r *http.Request, target resolver.Target) {
	entries, err := listing.List(target.Path)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}

	view := newDirectoryView(target.Segments, target.Path, !s.root.IsRoot(target.Path), entries)
	body, err := execute(s.templates, "index.tmpl", view)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	write(w, r, http.StatusOK, render.ContentTypeHTML, body)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, target resolver.Target) {
	result, err := s.renderer.Render(target.Path, target.Ext, s.forceRaw(r))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}

	switch result.Mode {
	case render.Raw, render.Page:
		write(w, r, http.StatusOK, result.ContentType, result.Content)
		return
	}

	view := FileView{
		Title:       displayPath(target.Segments),
		FileName:    target.Path,
		RawURL:      s.rawURL(target.Segments),
		Language:    result.Language,
		Unsafe:      result.Unsafe(),
		Breadcrumbs: breadcrumbs(target.Segments),
	}
	if view.Unsafe {
		view.HTML = template.HTML(result.Content)
	} else {
		view.Text = string(result.Content)
	}

	body, err := execute(s.templates, "file.tmpl", view)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	write(w, r, http.StatusOK, render.ContentTypeHTML, body)
}

// forceRaw reads the raw flag. A bare "?raw" counts as true.
func (s *Server) forceRaw(r *http.Request) bool {
	query := r.URL.Query()
	if !query.Has(s.rawParam) {
		return false
	}
	value := query.Get(s.rawParam)
	if value == "" {
		return true
	}
	raw, err := strconv.ParseBool(value)
	return err == nil && raw
}

func (s *Server) rawURL(segments []string) string {
	return urlFor(segments) + "?" + url.QueryEscape(s.rawParam) + "=true"
}

// fail writes a status with a minimal body. Reasons are logged, never sent.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, reason error) {
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		"path", r.URL.Path,
		"status", status,
		"error", reason,
	)
	writeStatus(w, status)
}

// statusFor maps listing and read errors onto status codes. A target that
// vanished after resolution is a 404, not a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// write sends a complete body unless the client has already gone away.
func write(w http.ResponseWriter, r *http.Request, status int, contentType string, body []byte) {
	if r.Context().Err() != nil {
		return
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeStatus(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}
