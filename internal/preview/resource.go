package preview

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Slot is an output position that hosts at most one live session.
type Slot int

// Resource identifies a source document by its normalized absolute path.
type Resource struct {
	path string
}

// ResourceFromPath normalizes p into a Resource. Relative paths are resolved
// against the working directory.
func ResourceFromPath(p string) Resource {
	if p == "" {
		return Resource{}
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return Resource{path: filepath.Clean(p)}
}

// ParseResource accepts a file:// URI or a plain path.
func ParseResource(s string) (Resource, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Resource{}, fmt.Errorf("empty resource")
	}
	if !strings.HasPrefix(s, "file:") {
		return ResourceFromPath(s), nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return Resource{}, fmt.Errorf("parse resource %q: %w", s, err)
	}
	if u.Path == "" {
		return Resource{}, fmt.Errorf("resource %q has no path", s)
	}
	return ResourceFromPath(filepath.FromSlash(u.Path)), nil
}

// Path returns the normalized filesystem path.
func (r Resource) Path() string { return r.path }

// Base returns the last element of the path.
func (r Resource) Base() string {
	if r.path == "" {
		return ""
	}
	return filepath.Base(r.path)
}

// Dir returns the directory holding the resource.
func (r Resource) Dir() string {
	if r.path == "" {
		return ""
	}
	return filepath.Dir(r.path)
}

// IsZero reports whether r identifies nothing.
func (r Resource) IsZero() bool { return r.path == "" }

// Equal compares by normalized path.
func (r Resource) Equal(other Resource) bool { return r.path == other.path }

// String returns the file URI used as the source of view messages.
func (r Resource) String() string {
	if r.path == "" {
		return ""
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(r.path)}
	return u.String()
}
