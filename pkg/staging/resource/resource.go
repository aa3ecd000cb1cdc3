// Package resource defines project identifiers and project-relative resource
// paths. Paths are the unit of locking and of quota scoping for archive
// operations, so their normalization rules live here, in one place, and every
// component goes through Parse before touching a lock or a reservation.
package resource

import (
	"regexp"
	"strings"

	"github.com/stagefs/stagefs/pkg/staging/errors"
)

// projectIDPattern restricts project identifiers to a filesystem- and
// URL-safe alphabet.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateProjectID checks that id is a usable project identifier.
func ValidateProjectID(id string) error {
	if !projectIDPattern.MatchString(id) {
		return errors.NewInvalidArgumentError("invalid project identifier")
	}
	return nil
}

// Path is a normalized project-relative resource path.
//
// The empty Path denotes the project root. A non-empty Path never has a
// leading or trailing slash, never contains empty, "." or ".." segments, and
// always stays inside the project root.
type Path string

// Root is the project root prefix.
const Root Path = ""

// maxPathLength bounds the full relative path; longer targets are rejected
// before any lock is attempted.
const maxPathLength = 4096

// ParseFile normalizes raw into a Path naming a single resource. The project
// root itself is not a valid file target.
func ParseFile(raw string) (Path, error) {
	p, err := ParseDir(raw)
	if err != nil {
		return Root, err
	}
	if p == Root {
		return Root, errors.NewInvalidPathError(raw, "path names the project root")
	}
	return p, nil
}

// ParseDir normalizes raw into a Path naming a directory prefix. "", "/" and
// "." all name the project root.
//
// Interior ".." segments that stay inside the project are resolved; any
// segment sequence that would escape the project root is rejected, as are
// NUL bytes and oversized paths. Rejection happens before any lock or
// reservation is taken.
func ParseDir(raw string) (Path, error) {
	if len(raw) > maxPathLength {
		return Root, errors.NewInvalidPathError(raw, "path too long")
	}
	if strings.ContainsRune(raw, 0) {
		return Root, errors.NewInvalidPathError(raw, "path contains NUL byte")
	}

	segments := make([]string, 0, 8)
	for _, seg := range strings.Split(raw, "/") {
		switch seg {
		case "", ".":
			// Collapse duplicate slashes and self references.
		case "..":
			if len(segments) == 0 {
				return Root, errors.NewInvalidPathError(raw, "path escapes the project root")
			}
			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, seg)
		}
	}

	return Path(strings.Join(segments, "/")), nil
}

// Join appends more segments to p, normalizing the result. Escaping segments
// are rejected the same way ParseDir rejects them.
func (p Path) Join(elem ...string) (Path, error) {
	parts := append([]string{string(p)}, elem...)
	return ParseDir(strings.Join(parts, "/"))
}

// String returns the relative path, "" for the project root.
func (p Path) String() string {
	return string(p)
}

// IsRoot reports whether p is the project root.
func (p Path) IsRoot() bool {
	return p == Root
}

// Base returns the final path segment, or "" for the root.
func (p Path) Base() string {
	if p == Root {
		return ""
	}
	s := string(p)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Dir returns the parent prefix of p, Root when p has no parent.
func (p Path) Dir() Path {
	s := string(p)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return Path(s[:i])
	}
	return Root
}

// HasPrefix reports whether p equals prefix or lies beneath it. Every path
// lies beneath the project root.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix == Root {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(string(p), string(prefix)+"/")
}

// ConflictsWith reports whether locks on p and q would overlap: either path
// is a prefix of (or equal to) the other. This is the lock-scope predicate
// that makes a directory lease exclude concurrent single-file operations
// underneath it.
func (p Path) ConflictsWith(q Path) bool {
	return p.HasPrefix(q) || q.HasPrefix(p)
}

// Segments returns the path split into segments, nil for the root.
func (p Path) Segments() []string {
	if p == Root {
		return nil
	}
	return strings.Split(string(p), "/")
}
