package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// configDir returns ~/.stardag, creating it on first use. The reference
// CLI lays this tree out with TOML config and one JSON file per
// credential; this port keeps the same directory layout and file-per-
// concern split but uses YAML throughout (gopkg.in/yaml.v3, already in
// this module's dependency set) since no TOML library is available here.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("client: resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".stardag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("client: creating %s: %w", dir, err)
	}
	return dir, nil
}

// Profile names a (registry, workspace, environment) tuple a caller can
// select by name instead of repeating a base URL and environment id on
// every command. Mirrors the reference CLI's config.toml profile entries.
type Profile struct {
	Name          string `yaml:"name"`
	Registry      string `yaml:"registry"`
	BaseURL       string `yaml:"base_url"`
	WorkspaceSlug string `yaml:"workspace_slug"`
	EnvironmentID string `yaml:"environment_id"`
}

// Config is the top-level ~/.stardag/config.yaml document: every known
// profile plus which one is active when STARDAG_PROFILE isn't set.
type Config struct {
	DefaultProfile string    `yaml:"default_profile,omitempty"`
	Profiles       []Profile `yaml:"profiles"`
}

func configPath(dir string) string { return filepath.Join(dir, "config.yaml") }

// LoadConfig reads ~/.stardag/config.yaml, returning an empty Config if it
// doesn't exist yet (a fresh install has no profiles).
func LoadConfig() (Config, error) {
	dir, err := configDir()
	if err != nil {
		return Config{}, err
	}
	buf, err := os.ReadFile(configPath(dir))
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("client: reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("client: parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to ~/.stardag/config.yaml, replacing its prior contents.
func (cfg Config) Save() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	buf, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("client: encoding config: %w", err)
	}
	return os.WriteFile(configPath(dir), buf, 0o600)
}

// Profile looks up a profile by name, or by DefaultProfile when name is
// empty. Returns false if none matches.
func (cfg Config) Profile(name string) (Profile, bool) {
	if name == "" {
		name = cfg.DefaultProfile
	}
	for _, p := range cfg.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Upsert adds p or replaces the existing profile of the same name.
func (cfg *Config) Upsert(p Profile) {
	for i, existing := range cfg.Profiles {
		if existing.Name == p.Name {
			cfg.Profiles[i] = p
			return
		}
	}
	cfg.Profiles = append(cfg.Profiles, p)
}

// Remove deletes the named profile, if present.
func (cfg *Config) Remove(name string) {
	out := cfg.Profiles[:0]
	for _, p := range cfg.Profiles {
		if p.Name != name {
			out = append(out, p)
		}
	}
	cfg.Profiles = out
	if cfg.DefaultProfile == name {
		cfg.DefaultProfile = ""
	}
}

// Credentials is the refresh-token material for one registry, persisted
// at ~/.stardag/credentials/{registry}.yaml so it never lives in the
// shared config.yaml (matching the reference CLI's file-per-registry
// split, since credentials and profile bookkeeping have different
// sensitivity and are managed by separate commands).
type Credentials struct {
	TokenEndpoint string `yaml:"token_endpoint"`
	ClientID      string `yaml:"client_id"`
	RefreshToken  string `yaml:"refresh_token"`
}

func credentialsPath(dir, registry string) string {
	return filepath.Join(dir, "credentials", registry+".yaml")
}

// SaveCredentials persists creds for registry, creating the credentials
// directory on first use.
func SaveCredentials(registry string, creds Credentials) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	path := credentialsPath(dir, registry)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("client: creating credentials directory: %w", err)
	}
	buf, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("client: encoding credentials: %w", err)
	}
	return os.WriteFile(path, buf, 0o600)
}

// LoadCredentials reads back what SaveCredentials wrote for registry. The
// second return is false if no credentials have been stored yet.
func LoadCredentials(registry string) (Credentials, bool, error) {
	dir, err := configDir()
	if err != nil {
		return Credentials{}, false, err
	}
	buf, err := os.ReadFile(credentialsPath(dir, registry))
	if os.IsNotExist(err) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, fmt.Errorf("client: reading credentials: %w", err)
	}
	var creds Credentials
	if err := yaml.Unmarshal(buf, &creds); err != nil {
		return Credentials{}, false, fmt.Errorf("client: parsing credentials: %w", err)
	}
	return creds, true, nil
}

// RemoveCredentials deletes the stored credentials for registry, if any.
func RemoveCredentials(registry string) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	err = os.Remove(credentialsPath(dir, registry))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("client: removing credentials: %w", err)
	}
	return nil
}

// cachedToken is one entry in the access-token cache: an access token
// plus the internal-token expiry the registry reported when it was
// minted, keyed by (registry, workspace, environment) so distinct
// workspaces never share a cached token.
type cachedToken struct {
	AccessToken string    `yaml:"access_token"`
	ExpiresAt   time.Time `yaml:"expires_at"`
}

func tokenCachePath(dir, registry, workspaceID, environmentID string) string {
	return filepath.Join(dir, "access-token-cache", registry, workspaceID, environmentID+".yaml")
}

// CacheAccessToken stores token for (registry, workspaceID, environmentID),
// valid until expiresAt.
func CacheAccessToken(registry, workspaceID, environmentID, token string, expiresAt time.Time) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	path := tokenCachePath(dir, registry, workspaceID, environmentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("client: creating token cache directory: %w", err)
	}
	buf, err := yaml.Marshal(cachedToken{AccessToken: token, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("client: encoding cached token: %w", err)
	}
	return os.WriteFile(path, buf, 0o600)
}

// CachedAccessToken returns the cached token for (registry, workspaceID,
// environmentID) if one exists and has not yet expired.
func CachedAccessToken(registry, workspaceID, environmentID string) (string, bool, error) {
	dir, err := configDir()
	if err != nil {
		return "", false, err
	}
	buf, err := os.ReadFile(tokenCachePath(dir, registry, workspaceID, environmentID))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("client: reading cached token: %w", err)
	}
	var cached cachedToken
	if err := yaml.Unmarshal(buf, &cached); err != nil {
		return "", false, fmt.Errorf("client: parsing cached token: %w", err)
	}
	if time.Now().After(cached.ExpiresAt) {
		return "", false, nil
	}
	return cached.AccessToken, true, nil
}

// TokenFromEnv returns STARDAG_API_KEY when set, the production/CI
// alternative to the interactive browser login flow: a caller with this
// set never needs a profile or cached token at all.
func TokenFromEnv() (string, bool) {
	v := os.Getenv("STARDAG_API_KEY")
	return v, v != ""
}

func targetRootsCachePath(dir, registry, workspaceID, environmentID string) string {
	return filepath.Join(dir, "target-roots", registry, workspaceID, environmentID+".yaml")
}

// SaveTargetRoots caches roots locally so target URIs can resolve
// offline between `config target-roots sync` runs.
func SaveTargetRoots(registry, workspaceID, environmentID string, roots []TargetRoot) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	path := targetRootsCachePath(dir, registry, workspaceID, environmentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("client: creating target roots cache directory: %w", err)
	}
	buf, err := yaml.Marshal(roots)
	if err != nil {
		return fmt.Errorf("client: encoding target roots: %w", err)
	}
	return os.WriteFile(path, buf, 0o600)
}

// LoadTargetRoots reads back what SaveTargetRoots last cached.
func LoadTargetRoots(registry, workspaceID, environmentID string) ([]TargetRoot, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(targetRootsCachePath(dir, registry, workspaceID, environmentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("client: reading cached target roots: %w", err)
	}
	var roots []TargetRoot
	if err := yaml.Unmarshal(buf, &roots); err != nil {
		return nil, fmt.Errorf("client: parsing cached target roots: %w", err)
	}
	return roots, nil
}
