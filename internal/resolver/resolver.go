// Package resolver maps request paths onto a served root directory.
//
// Every path handed out by a Root is canonical (symlinks resolved) and lies
// inside the root. Requests that would leave the root, syntactically through
// ".." segments or through a symlink pointing elsewhere, resolve to Forbidden
// without revealing whether the outside target exists.
package resolver

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

// Sentinel errors describing why a request did not resolve.
var (
	ErrBadEncoding      = errors.New("request path is not valid percent-encoding")
	ErrParentSegment    = errors.New("request path contains a parent directory segment")
	ErrPathEscape       = errors.New("resolved path escapes the served root")
	ErrUnsupportedType  = errors.New("path is neither a regular file nor a directory")
	ErrRootNotDirectory = errors.New("served root is not a directory")
)

// Kind classifies a resolved target.
type Kind int

const (
	NotFound Kind = iota
	Forbidden
	Directory
	File
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Directory:
		return "directory"
	case File:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Target is the outcome of resolving one request path.
type Target struct {
	Kind Kind
	// Path is the canonical absolute path. Empty unless Kind is Directory or File.
	Path string
	// Ext is the extension of the requested name without the leading dot.
	Ext string
	// Segments are the cleaned request segments, used for navigation links.
	Segments []string
	// Reason explains NotFound and Forbidden outcomes.
	Reason error
}

// Root is the served directory. It is immutable after NewRoot.
type Root struct {
	path string
}

// NewRoot canonicalizes dir and checks that it is an existing directory.
func NewRoot(dir string) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("root directory must not be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", dir, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", abs, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to access root %s: %w", canonical, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDirectory, canonical)
	}
	return &Root{path: canonical}, nil
}

// Path returns the canonical absolute root path.
func (r *Root) Path() string {
	return r.path
}

// Contains reports whether p is the root or lies beneath it, compared
// component-wise so that /srv2 is not inside /srv.
func (r *Root) Contains(p string) bool {
	if p == r.path {
		return true
	}
	prefix := r.path
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// IsRoot reports whether p is the root itself.
func (r *Root) IsRoot(p string) bool {
	return p == r.path
}

// Resolve maps an escaped URL path to a target inside the root.
func (r *Root) Resolve(requestPath string) Target {
	segments, err := Segments(requestPath)
	if err != nil {
		if errors.Is(err, ErrBadEncoding) {
			return Target{Kind: NotFound, Reason: err}
		}
		return Target{Kind: Forbidden, Reason: err}
	}

	joined := filepath.Join(append([]string{r.path}, segments...)...)
	canonical, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if r.escapes(joined) {
			return Target{Kind: Forbidden, Segments: segments, Reason: ErrPathEscape}
		}
		return failed(segments, err)
	}
	if !r.Contains(canonical) {
		return Target{Kind: Forbidden, Segments: segments, Reason: ErrPathEscape}
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return failed(segments, err)
	}

	switch {
	case info.IsDir():
		return Target{Kind: Directory, Path: canonical, Segments: segments}
	case info.Mode().IsRegular():
		name := filepath.Base(canonical)
		if len(segments) > 0 {
			name = segments[len(segments)-1]
		}
		return Target{
			Kind:     File,
			Path:     canonical,
			Ext:      strings.TrimPrefix(path.Ext(name), "."),
			Segments: segments,
		}
	default:
		return Target{Kind: Forbidden, Segments: segments, Reason: ErrUnsupportedType}
	}
}

// Segments decodes an escaped URL path and splits it into clean segments.
// Empty and "." segments are dropped; ".." is rejected with ErrParentSegment.
func Segments(requestPath string) ([]string, error) {
	decoded, err := url.PathUnescape(requestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	if strings.ContainsRune(decoded, 0) {
		return nil, fmt.Errorf("%w: contains NUL", ErrBadEncoding)
	}

	var segments []string
	for _, seg := range strings.Split(decoded, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return nil, ErrParentSegment
		}
		if filepath.Separator != '/' && strings.ContainsRune(seg, filepath.Separator) {
			return nil, fmt.Errorf("%w: %q", ErrParentSegment, seg)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// maxLinkHops bounds how many symlinks escapes follows by hand.
const maxLinkHops = 40

// escapes reports whether p, or the symlink chain it starts, points outside
// the root. Dangling links are followed by hand to their deepest existing
// ancestor, so a missing name outside the root looks the same as an
// existing one.
func (r *Root) escapes(p string) bool {
	for hops := 0; hops < maxLinkHops; hops++ {
		info, err := os.Lstat(p)
		if err != nil || info.Mode()&fs.ModeSymlink == 0 {
			break
		}
		target, err := os.Readlink(p)
		if err != nil {
			break
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(p), target)
		}
		p = filepath.Clean(target)
	}

	for dir := p; ; dir = filepath.Dir(dir) {
		if canonical, err := filepath.EvalSymlinks(dir); err == nil {
			return !r.Contains(canonical)
		}
		if filepath.Dir(dir) == dir {
			return false
		}
	}
}

// failed classifies a filesystem error into NotFound or Forbidden.
// Symlink loops and anything unexpected are Forbidden.
func failed(segments []string, err error) Target {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return Target{Kind: NotFound, Segments: segments, Reason: err}
	default:
		return Target{Kind: Forbidden, Segments: segments, Reason: err}
	}
}
