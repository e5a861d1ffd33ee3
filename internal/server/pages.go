package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/clean-dependency-project/ultiserve/internal/listing"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Crumb is one breadcrumb link.
type Crumb struct {
	Name string
	URL  string
}

// EntryView is one listed child.
type EntryView struct {
	Name    string
	Display string
	URL     string
	IsDir   bool
}

// DirectoryView is the render context for a directory listing.
type DirectoryView struct {
	Title          string
	CurrentDir     string
	FullCurrentDir string
	HasParent      bool
	ParentURL      string
	Breadcrumbs    []Crumb
	Entries        []EntryView
}

// FileView is the render context for a file page. HTML is only set when
// Unsafe is true; otherwise Text is escaped by the template.
type FileView struct {
	Title       string
	FileName    string
	RawURL      string
	Language    string
	Unsafe      bool
	HTML        template.HTML
	Text        string
	Breadcrumbs []Crumb
}

// loadTemplates parses every embedded template into one set.
func loadTemplates() (*template.Template, error) {
	tmpl := template.New("")

	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := templateFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}
		if _, err := tmpl.New(entry.Name()).Parse(string(data)); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", entry.Name(), err)
		}
	}

	return tmpl, nil
}

// execute renders a named template fully into memory so a failure never
// leaves a half-written response.
func execute(tmpl *template.Template, name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// urlFor builds an escaped absolute URL path from request segments.
func urlFor(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	return "/" + strings.Join(escaped, "/")
}

// displayPath is the unescaped request path shown as a page title.
func displayPath(segments []string) string {
	return "/" + strings.Join(segments, "/")
}

// breadcrumbs returns a link for the root and one per segment.
func breadcrumbs(segments []string) []Crumb {
	crumbs := make([]Crumb, 0, len(segments)+1)
	crumbs = append(crumbs, Crumb{Name: "~", URL: "/"})
	for i, seg := range segments {
		crumbs = append(crumbs, Crumb{Name: seg, URL: urlFor(segments[:i+1])})
	}
	return crumbs
}

// newDirectoryView builds the listing context. hasParent is false only for
// the served root; the parent link is always an ancestor inside it.
func newDirectoryView(segments []string, fullPath string, hasParent bool, entries []listing.FileEntry) DirectoryView {
	base := urlFor(segments)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		href := base + url.PathEscape(e.Name)
		if e.IsDir() {
			href += "/"
		}
		views = append(views, EntryView{
			Name:    e.Name,
			Display: e.DisplayName(),
			URL:     href,
			IsDir:   e.IsDir(),
		})
	}

	view := DirectoryView{
		Title:          displayPath(segments),
		CurrentDir:     displayPath(segments),
		FullCurrentDir: fullPath,
		HasParent:      hasParent,
		Breadcrumbs:    breadcrumbs(segments),
		Entries:        views,
	}
	if hasParent {
		parent := []string{}
		if len(segments) > 0 {
			parent = segments[:len(segments)-1]
		}
		view.ParentURL = urlFor(parent)
	}
	return view
}
