// Package render decides how a served file is delivered and produces its body.
package render

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Content types produced by the renderer.
const (
	ContentTypeHTML   = "text/html; charset=utf-8"
	ContentTypePlain  = "text/plain; charset=utf-8"
	ContentTypeBinary = "application/octet-stream"
)

// Highlighter turns text into pre-escaped HTML for a language hint.
// Any error makes the renderer fall back to plain text.
type Highlighter interface {
	Highlight(content, language string) (string, error)
}

// Mode says how a Result must be written.
type Mode int

const (
	// Raw bodies are written unchanged with ContentType.
	Raw Mode = iota
	// Highlighted bodies are pre-escaped HTML to embed in the file page.
	Highlighted
	// Plain bodies are text that the file page must escape.
	Plain
	// Page bodies are complete HTML documents written unchanged.
	Page
)

func (m Mode) String() string {
	switch m {
	case Raw:
		return "raw"
	case Highlighted:
		return "highlighted"
	case Plain:
		return "plain"
	case Page:
		return "page"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Decision is the raw-or-highlighted choice for one file.
type Decision struct {
	Raw      bool
	Language string
}

// Result is a rendered file.
type Result struct {
	Mode        Mode
	Content     []byte
	ContentType string
	Language    string
}

// Unsafe reports whether Content is pre-escaped HTML.
func (r Result) Unsafe() bool {
	return r.Mode == Highlighted
}

// Options configures a Renderer.
type Options struct {
	// Languages maps lower-case extensions to highlighter language hints.
	Languages map[string]string
	// ServeHTML delivers .html and .html5 files as pages instead of source.
	ServeHTML bool
	Logger    *slog.Logger
}

// Renderer reads files and renders them. It holds no per-request state.
type Renderer struct {
	highlighter Highlighter
	languages   map[string]string
	serveHTML   bool
	logger      *slog.Logger
}

// New creates a Renderer. A nil highlighter renders every text file plain.
func New(h Highlighter, opts Options) *Renderer {
	languages := make(map[string]string, len(opts.Languages))
	for ext, lang := range opts.Languages {
		languages[strings.ToLower(ext)] = lang
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		highlighter: h,
		languages:   languages,
		serveHTML:   opts.ServeHTML,
		logger:      logger,
	}
}

// Decide maps an extension and the raw flag to a Decision.
func (r *Renderer) Decide(ext string, forceRaw bool) Decision {
	if forceRaw {
		return Decision{Raw: true}
	}
	return Decision{Language: r.languages[strings.ToLower(ext)]}
}

// Render reads the whole file at path and renders it. Names without an
// extension, such as Dockerfile, are looked up by their whole name. Read errors are
// returned wrapped so errors.Is works with fs.ErrNotExist and
// fs.ErrPermission. Highlighting failures never surface as errors.
func (r *Renderer) Render(path, ext string, forceRaw bool) (Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	if !utf8.Valid(content) {
		return Result{Mode: Raw, Content: content, ContentType: ContentTypeBinary}, nil
	}

	key := ext
	if key == "" {
		key = filepath.Base(path)
	}
	decision := r.Decide(key, forceRaw)
	if decision.Raw {
		return Result{Mode: Raw, Content: content, ContentType: ContentTypePlain}, nil
	}

	if r.serveHTML && isHTML(ext) {
		return Result{Mode: Page, Content: content, ContentType: ContentTypeHTML}, nil
	}

	if decision.Language != "" && r.highlighter != nil {
		highlighted, err := r.highlight(string(content), decision.Language)
		if err == nil {
			return Result{
				Mode:        Highlighted,
				Content:     []byte(highlighted),
				ContentType: ContentTypeHTML,
				Language:    decision.Language,
			}, nil
		}
		r.logger.Debug("highlighting failed, rendering plain text",
			"path", path, "language", decision.Language, "error", err)
	}

	return Result{Mode: Plain, Content: content, ContentType: ContentTypeHTML}, nil
}

// highlight calls the highlighter and turns a panic into an error.
func (r *Renderer) highlight(content, language string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("highlighter panic: %v", p)
		}
	}()
	return r.highlighter.Highlight(content, language)
}

func isHTML(ext string) bool {
	switch strings.ToLower(ext) {
	case "html", "html5":
		return true
	}
	return false
}
