package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configHeader is written above the generated YAML so a fresh config file
// explains itself.
const configHeader = `# stagefs configuration file
#
# Generated by 'stagefs init'. Values shown are the defaults; edit and
# restart the server to apply. Environment variables with the STAGEFS_
# prefix override file values, e.g. STAGEFS_LOGGING_LEVEL=DEBUG.
#
`

// InitConfig creates a configuration file with default values at the
// default location ($XDG_CONFIG_HOME/stagefs/config.yaml).
//
// Returns the path of the created file. Fails if a config file already
// exists there, unless force is true.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath creates a configuration file with default values at the
// given path, creating parent directories as needed.
//
// Fails if the file already exists, unless force is true.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	cfg := GetDefaultConfig()

	// Every generated config carries a fresh admin token secret so the
	// admin endpoints work out of the box.
	secret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("failed to generate admin secret: %w", err)
	}
	cfg.API.JWT.Secret = secret

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := append([]byte(configHeader), data...)

	// 0600: the file holds the admin token secret.
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateSecret returns a random URL-safe secret suitable for HMAC
// signing. 48 random bytes encode to 64 characters, comfortably above the
// 32-character minimum the API enforces.
func generateSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
