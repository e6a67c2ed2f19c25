package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for cfgedit.
type Config struct {
	Identity   string           `toml:"identity"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Session    SessionConfig    `toml:"session"`
	Documents  DocumentsConfig  `toml:"documents"`
	Locks      LocksConfig      `toml:"locks"`
	Drafts     DraftsConfig     `toml:"drafts"`
	Encryption EncryptionConfig `toml:"encryption"`
	Validation ValidationConfig `toml:"validation"`
}

// Duration is a time.Duration written as a Go duration string ("2s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// SessionConfig tunes editing sessions. Zero values use the built-in defaults.
type SessionConfig struct {
	AutosaveDelay     Duration `toml:"autosave_delay,omitempty"`
	ValidateDelay     Duration `toml:"validate_delay,omitempty"`
	HeartbeatInterval Duration `toml:"heartbeat_interval,omitempty"`
	DraftRetention    Duration `toml:"draft_retention,omitempty"`
	CallTimeout       Duration `toml:"call_timeout,omitempty"`
	DiffWindow        int      `toml:"diff_window,omitempty"`
}

// DocumentsConfig selects the document backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DocumentsConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "git", "s3" or "postgres"

	// Root directory (filesystem) or repository (git).
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Postgres-specific fields (only used when Type == "postgres")
	PostgresURL string `toml:"postgres_url,omitempty"`
}

// LocksConfig selects the lock service.
type LocksConfig struct {
	Type                 string   `toml:"type"`                 // "memory", "sqlite" or "redis"
	DataDir              string   `toml:"data_dir,omitempty"`   // only used for type=sqlite
	RedisURL             string   `toml:"redis_url,omitempty"`  // only used for type=redis
	LeaseTTL             Duration `toml:"lease_ttl,omitempty"`  // defaults to 3m
	PrivilegedIdentities []string `toml:"privileged_identities"`
}

// DraftsConfig selects the draft store.
type DraftsConfig struct {
	Type      string `toml:"type"`               // "memory" or "sqlite"
	DataDir   string `toml:"data_dir,omitempty"` // only used for type=sqlite
	Encrypted bool   `toml:"encrypted"`          // encrypt draft text with the configured key pair
}

// EncryptionConfig holds paths to the age key pair used for draft encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ValidationConfig locates rule sets.
type ValidationConfig struct {
	RulesDir       string `toml:"rules_dir"`
	DefaultRuleSet string `toml:"default_rule_set,omitempty"`
	Watch          bool   `toml:"watch"`
}

// NewConfig creates a new Config for identity with everything stored under baseDir.
func NewConfig(identity, baseDir string) *Config {
	dbDir := filepath.Join(baseDir, "db")
	return &Config{
		Identity: identity,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Documents: DocumentsConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "documents"),
		},
		Locks: LocksConfig{Type: "sqlite", DataDir: dbDir},
		Drafts: DraftsConfig{Type: "sqlite", DataDir: dbDir},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "cfgedit.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "cfgedit.key"),
		},
		Validation: ValidationConfig{
			RulesDir: filepath.Join(baseDir, "rules"),
			Watch:    true,
		},
	}
}

// Validate checks that the selected backends have the settings they need.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	switch c.Documents.Type {
	case "memory":
	case "filesystem", "git":
		if c.Documents.Root == "" {
			return fmt.Errorf("%s documents require root to be set", c.Documents.Type)
		}
	case "s3":
		if c.Documents.S3Bucket == "" {
			return fmt.Errorf("s3 documents require s3_bucket to be set")
		}
	case "postgres":
		if c.Documents.PostgresURL == "" {
			return fmt.Errorf("postgres documents require postgres_url to be set")
		}
	default:
		return fmt.Errorf("unknown documents type: %q", c.Documents.Type)
	}
	switch c.Locks.Type {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown locks type: %q", c.Locks.Type)
	}
	switch c.Drafts.Type {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown drafts type: %q", c.Drafts.Type)
	}
	if c.Session.DiffWindow < 0 {
		return fmt.Errorf("diff_window must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
