// Package credentials provides credential storage and context management for stagefsctl.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultConfigDir is the default directory for stagefsctl configuration.
	DefaultConfigDir = "stagefsctl"
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "config.json"
	// FilePermissions for config files (read/write for owner only).
	FilePermissions = 0600
	// DirPermissions for config directories.
	DirPermissions = 0700

	// tokenExpirySkew treats tokens this close to expiry as already
	// expired, so a request started now does not fail mid-flight.
	tokenExpirySkew = 60 * time.Second
)

var (
	// ErrNoCurrentContext indicates no context is currently set.
	ErrNoCurrentContext = errors.New("no current context set")
	// ErrContextNotFound indicates the requested context doesn't exist.
	ErrContextNotFound = errors.New("context not found")
	// ErrNotLoggedIn indicates no valid credentials exist.
	ErrNotLoggedIn = errors.New("not logged in - run 'stagefsctl login' first")
)

// Context represents a connection context to a stagefs server.
type Context struct {
	ServerURL    string    `json:"server_url"`
	Username     string    `json:"username,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// IsExpired returns true if the access token has expired or is about to.
func (c *Context) IsExpired() bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(tokenExpirySkew).After(c.ExpiresAt)
}

// HasRefreshToken returns true if a refresh token is available.
func (c *Context) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Preferences holds client-side defaults that fill flags the user left
// unset. Written by "stagefsctl context set-output".
type Preferences struct {
	DefaultOutput string `json:"default_output,omitempty"` // table, json, yaml
}

// Config represents the complete stagefsctl configuration.
type Config struct {
	CurrentContext string              `json:"current_context"`
	Contexts       map[string]*Context `json:"contexts"`
	Preferences    Preferences         `json:"preferences,omitempty"`
}

// Store manages credential storage and retrieval. It keeps the whole
// config in memory and rewrites the file on every mutation.
type Store struct {
	configPath string
	config     *Config
}

// NewStore opens the credential store, creating an empty in-memory config
// when no file exists yet. Nothing is written until the first mutation.
func NewStore() (*Store, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	s := &Store{configPath: configPath}
	switch err := s.load(); {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		s.config = &Config{Contexts: make(map[string]*Context)}
	default:
		return nil, err
	}
	return s, nil
}

// getConfigPath resolves $XDG_CONFIG_HOME/stagefsctl/config.json, falling
// back to ~/.config when XDG_CONFIG_HOME is unset.
func getConfigPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, DefaultConfigDir, ConfigFileName), nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("corrupt config %s: %w", s.configPath, err)
	}
	// Hand-edited files may omit the map entirely.
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	s.config = cfg
	return nil
}

// save writes the config atomically: a crash mid-write must never leave a
// truncated file, since it holds the stored tokens.
func (s *Store) save() error {
	dir := filepath.Dir(s.configPath)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ConfigFileName+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(FilePermissions); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.configPath)
}

// GetCurrentContext returns the current context.
func (s *Store) GetCurrentContext() (*Context, error) {
	name := s.config.CurrentContext
	if name == "" {
		return nil, ErrNoCurrentContext
	}
	ctx, ok := s.config.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("current context %q: %w", name, ErrContextNotFound)
	}
	return ctx, nil
}

// GetCurrentContextName returns the name of the current context.
func (s *Store) GetCurrentContextName() string {
	return s.config.CurrentContext
}

// GetContext returns a specific context by name.
func (s *Store) GetContext(name string) (*Context, error) {
	ctx, ok := s.config.Contexts[name]
	if !ok {
		return nil, ErrContextNotFound
	}
	return ctx, nil
}

// ListContexts returns all context names in sorted order.
func (s *Store) ListContexts() []string {
	names := make([]string, 0, len(s.config.Contexts))
	for name := range s.config.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetContext creates or updates a context.
func (s *Store) SetContext(name string, ctx *Context) error {
	s.config.Contexts[name] = ctx
	return s.save()
}

// UseContext switches to a different context.
func (s *Store) UseContext(name string) error {
	if _, ok := s.config.Contexts[name]; !ok {
		return ErrContextNotFound
	}
	s.config.CurrentContext = name
	return s.save()
}

// RenameContext renames a context, carrying the current-context pointer
// along when it referred to the old name.
func (s *Store) RenameContext(oldName, newName string) error {
	ctx, ok := s.config.Contexts[oldName]
	if !ok {
		return ErrContextNotFound
	}
	if _, taken := s.config.Contexts[newName]; taken {
		return fmt.Errorf("context %q already exists", newName)
	}

	delete(s.config.Contexts, oldName)
	s.config.Contexts[newName] = ctx
	if s.config.CurrentContext == oldName {
		s.config.CurrentContext = newName
	}
	return s.save()
}

// DeleteContext removes a context. Deleting the current context leaves no
// context selected.
func (s *Store) DeleteContext(name string) error {
	if _, ok := s.config.Contexts[name]; !ok {
		return ErrContextNotFound
	}

	delete(s.config.Contexts, name)
	if s.config.CurrentContext == name {
		s.config.CurrentContext = ""
	}
	return s.save()
}

// UpdateTokens updates the tokens for the current context.
func (s *Store) UpdateTokens(accessToken, refreshToken string, expiresAt time.Time) error {
	ctx, err := s.GetCurrentContext()
	if err != nil {
		return err
	}

	ctx.AccessToken = accessToken
	ctx.RefreshToken = refreshToken
	ctx.ExpiresAt = expiresAt
	return s.save()
}

// ClearCurrentContext clears credentials from the current context (logout).
// The server URL and username stay so a later login can reuse them.
func (s *Store) ClearCurrentContext() error {
	ctx, err := s.GetCurrentContext()
	if err != nil {
		return err
	}

	ctx.AccessToken = ""
	ctx.RefreshToken = ""
	ctx.ExpiresAt = time.Time{}
	return s.save()
}

// GetPreferences returns the user preferences.
func (s *Store) GetPreferences() Preferences {
	return s.config.Preferences
}

// SetPreferences updates the user preferences.
func (s *Store) SetPreferences(prefs Preferences) error {
	s.config.Preferences = prefs
	return s.save()
}

// ConfigPath returns the path to the config file.
func (s *Store) ConfigPath() string {
	return s.configPath
}

// GenerateContextName derives a context name from the server URL host, so
// logins against different servers land in different contexts when the user
// gives no explicit name.
func GenerateContextName(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "default"
	}
	name := strings.ToLower(u.Host)
	name = strings.ReplaceAll(name, ".", "-")
	name = strings.ReplaceAll(name, ":", "-")
	return name
}
