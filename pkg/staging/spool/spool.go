// Package spool manages the on-disk staging area.
//
// The spool is a single directory tree with three zones:
//
//	<root>/projects/<project>/...  durable, published files
//	<root>/uploads/<upload-id>/    workspaces for in-flight uploads
//	<root>/trash/<uuid>            retracted content awaiting removal
//
// All three live on the same filesystem so that publishing a workspace into
// the durable tree and retracting a file into the trash are both single
// renames. A file is durable exactly when the rename has happened; there is
// no state in which readers can observe partial content.
package spool

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/bytesize"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/resource"
)

const (
	projectsDir = "projects"
	uploadsDir  = "uploads"
	trashDir    = "trash"

	// payloadName is the file inside a workspace that accumulates the
	// uploaded bytes.
	payloadName = "payload"
)

// ErrClosed is returned by operations on a closed spool.
var ErrClosed = errors.New("spool is closed")

// Config holds spool configuration.
type Config struct {
	// Root is the spool directory. Created if missing.
	Root string `mapstructure:"root" json:"root" yaml:"root"`

	// MinFree is how much filesystem space must remain available after an
	// admission; uploads that would dip below it are refused.
	// Default: 1GiB
	MinFree bytesize.Size `mapstructure:"min_free" json:"min_free" yaml:"min_free"`

	// DirMode is the permission mode for created directories.
	// Default: 0755
	DirMode os.FileMode `mapstructure:"dir_mode" json:"dir_mode" yaml:"dir_mode"`

	// FileMode is the permission mode for published files.
	// Default: 0644
	FileMode os.FileMode `mapstructure:"file_mode" json:"file_mode" yaml:"file_mode"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.MinFree == 0 {
		c.MinFree = bytesize.GiB
	}
	if c.DirMode == 0 {
		c.DirMode = 0755
	}
	if c.FileMode == 0 {
		c.FileMode = 0644
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("spool root is required")
	}
	return nil
}

// Spool is the staging area on local disk.
type Spool struct {
	mu       sync.RWMutex
	root     string
	minFree  int64
	dirMode  os.FileMode
	fileMode os.FileMode
	closed   bool
}

// New opens a spool rooted at cfg.Root, creating the zone directories if
// they do not exist.
func New(cfg Config) (*Spool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, zone := range []string{projectsDir, uploadsDir, trashDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Root, zone), cfg.DirMode); err != nil {
			return nil, fmt.Errorf("failed to create spool directory: %w", err)
		}
	}

	return &Spool{
		root:     cfg.Root,
		minFree:  int64(cfg.MinFree),
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
	}, nil
}

// Root returns the spool root directory.
func (s *Spool) Root() string {
	return s.root
}

// Close marks the spool as closed. In-flight file handles stay valid.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Spool) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// FilePath returns the durable location of (project, path). The file may
// or may not exist.
func (s *Spool) FilePath(project string, path resource.Path) string {
	return filepath.Join(s.root, projectsDir, project, filepath.FromSlash(path.String()))
}

// ============================================
// Workspaces
// ============================================

// Workspace is the scratch directory for one upload. The payload file
// accumulates the uploaded bytes; extraction scratch files live alongside
// it. The whole directory is removed when the upload ends.
type Workspace struct {
	id    string
	dir   string
	spool *Spool
}

// Workspace returns the workspace for an upload ID. The directory is
// created lazily on first write, so this never touches the disk.
func (s *Spool) Workspace(id string) *Workspace {
	return &Workspace{
		id:    id,
		dir:   filepath.Join(s.root, uploadsDir, id),
		spool: s,
	}
}

// ID returns the upload ID this workspace belongs to.
func (w *Workspace) ID() string { return w.id }

// Dir returns the workspace directory. Callers may place scratch files
// here; everything goes when the workspace is removed.
func (w *Workspace) Dir() string { return w.dir }

// PayloadPath returns the location of the accumulated payload file.
func (w *Workspace) PayloadPath() string {
	return filepath.Join(w.dir, payloadName)
}

// Size returns the payload size in bytes, 0 if nothing has been written.
func (w *Workspace) Size() (int64, error) {
	info, err := os.Stat(w.PayloadPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// AppendAt writes r to the payload starting at offset and returns the
// number of bytes written. The caller's offset is authoritative: a payload
// left longer by a crashed previous append is truncated back to offset
// before writing, so replays converge instead of corrupting.
func (w *Workspace) AppendAt(offset int64, r io.Reader) (int64, error) {
	if err := w.spool.guard(); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(w.dir, w.spool.dirMode); err != nil {
		return 0, fmt.Errorf("failed to create workspace: %w", err)
	}

	f, err := os.OpenFile(w.PayloadPath(), os.O_CREATE|os.O_WRONLY, w.spool.fileMode)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	switch {
	case info.Size() < offset:
		return 0, fmt.Errorf("payload is %d bytes, cannot append at %d", info.Size(), offset)
	case info.Size() > offset:
		if err := f.Truncate(offset); err != nil {
			return 0, err
		}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	n, err := io.Copy(f, r)
	if err != nil {
		return n, err
	}

	return n, f.Sync()
}

// CreateScratch opens a fresh scratch file in the workspace, truncating any
// leftover from a crashed attempt. The caller closes it and either hands the
// path to Publish or removes it.
func (w *Workspace) CreateScratch(name string) (*os.File, error) {
	if err := w.spool.guard(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(w.dir, w.spool.dirMode); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, w.spool.fileMode)
}

// Remove deletes the workspace directory and everything in it. Removing a
// workspace that was never written is a no-op.
func (w *Workspace) Remove() error {
	if err := w.spool.guard(); err != nil {
		return err
	}
	return os.RemoveAll(w.dir)
}

// WorkspaceInfo describes an on-disk workspace for sweeping.
type WorkspaceInfo struct {
	ID      string
	ModTime time.Time
}

// ListWorkspaces returns the workspaces present on disk, for orphan
// detection.
func (s *Spool) ListWorkspaces() ([]WorkspaceInfo, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, uploadsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	infos := make([]WorkspaceInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, WorkspaceInfo{ID: entry.Name(), ModTime: fi.ModTime()})
	}
	return infos, nil
}

// ============================================
// Durable tree
// ============================================

// Publish renames src into the durable tree at (project, path), creating
// parent directories as needed. src must live on the spool filesystem. An
// existing file at the destination is replaced atomically; a destination
// whose parent is a regular file is a conflict.
func (s *Spool) Publish(src, project string, path resource.Path) error {
	if err := s.guard(); err != nil {
		return err
	}

	dst := s.FilePath(project, path)
	if err := os.MkdirAll(filepath.Dir(dst), s.dirMode); err != nil {
		if errors.Is(err, syscall.ENOTDIR) {
			return stagingerrors.NewConflictError(
				fmt.Sprintf("parent of %q exists as a file", path))
		}
		return err
	}

	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, syscall.EISDIR) || errors.Is(err, syscall.ENOTEMPTY) {
			return stagingerrors.NewConflictError(
				fmt.Sprintf("%q exists as a directory", path))
		}
		return err
	}
	return nil
}

// Open opens a durable file for reading.
func (s *Spool) Open(project string, path resource.Path) (*os.File, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.FilePath(project, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, stagingerrors.NewNotFoundError(path.String(), "file")
		}
		return nil, err
	}
	return f, nil
}

// Stat stats a durable path. The returned info reports IsDir for paths
// that exist only as directories in the tree.
func (s *Spool) Stat(project string, path resource.Path) (os.FileInfo, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	info, err := os.Stat(s.FilePath(project, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, stagingerrors.NewNotFoundError(path.String(), "file")
		}
		return nil, err
	}
	return info, nil
}

// ============================================
// Two-phase delete
// ============================================

// Retract moves the content at (project, path) into the trash and returns
// the trash entry ID. The content disappears from the durable tree in one
// rename; the trash entry is purged afterwards with PurgeTrash, so a crash
// in between leaves only an orphaned trash entry for the sweeper.
// A missing path returns an empty ID and no error.
func (s *Spool) Retract(project string, path resource.Path) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}

	src := s.FilePath(project, path)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	id := uuid.NewString()
	if err := os.Rename(src, filepath.Join(s.root, trashDir, id)); err != nil {
		return "", err
	}

	s.cleanEmptyDirs(filepath.Dir(src))
	return id, nil
}

// PurgeTrash removes a trash entry. Missing entries are fine.
func (s *Spool) PurgeTrash(id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.root, trashDir, id))
}

// EmptyTrash removes trash entries last modified before the cutoff and
// returns how many were removed. Entries newer than the cutoff may belong
// to an in-flight delete and are left alone.
func (s *Spool) EmptyTrash(cutoff time.Time) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, trashDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if !fi.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, trashDir, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// cleanEmptyDirs removes empty directories up to the project zone.
func (s *Spool) cleanEmptyDirs(dir string) {
	stop := filepath.Join(s.root, projectsDir)
	for dir != stop && len(dir) > len(stop) {
		if err := os.Remove(dir); err != nil {
			// Not empty or already gone. Either way, done.
			break
		}
		dir = filepath.Dir(dir)
	}
}

// ============================================
// Admission and health
// ============================================

// CheckFree verifies the filesystem can hold need more bytes without
// dipping below the configured free-space floor.
func (s *Spool) CheckFree(need int64) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, _, available, err := volumeStats(s.root)
	if err != nil {
		return fmt.Errorf("statfs %s: %w", s.root, err)
	}
	if available-need < s.minFree {
		return stagingerrors.NewNoSpaceError()
	}
	return nil
}

// Usage returns total and available bytes on the spool filesystem.
func (s *Spool) Usage() (total, available int64, err error) {
	if err := s.guard(); err != nil {
		return 0, 0, err
	}
	total, _, available, err = volumeStats(s.root)
	return total, available, err
}

// HealthCheck verifies the spool directories are accessible.
func (s *Spool) HealthCheck() error {
	if err := s.guard(); err != nil {
		return err
	}

	for _, zone := range []string{projectsDir, uploadsDir, trashDir} {
		info, err := os.Stat(filepath.Join(s.root, zone))
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", zone)
		}
	}
	return nil
}

// WalkProject walks the durable files of a project in lexical order,
// calling fn with each file's path and info. Used by consistency checks.
func (s *Spool) WalkProject(project string, fn func(path resource.Path, info os.FileInfo) error) error {
	if err := s.guard(); err != nil {
		return err
	}

	base := filepath.Join(s.root, projectsDir, project)
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == base {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		parsed, err := resource.ParseFile(filepath.ToSlash(rel))
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(parsed, info)
	})
}
