package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"bt/internal/bt"
)

// Config is the statically typed shape of ~/.config/bt.toml. The file is
// parsed once at startup; unknown keys fail with a diagnostic.
type Config struct {
	HostID     string        `toml:"host_id"`
	BaseDir    string        `toml:"base_dir"`
	LogDir     string        `toml:"log_dir"`
	IgnoreList []string      `toml:"ignore_list"`
	Vaults     []VaultConfig `toml:"vault"`
}

// VaultConfig is a discriminated union: Kind selects the backend and which
// of the remaining fields apply.
type VaultConfig struct {
	Kind string `toml:"kind"` // "fs", "s3", or "memory" (tests)
	Name string `toml:"name"`

	// fs
	Root string `toml:"root,omitempty"`

	// s3. Metadata may live under a distinct bucket/prefix so it can carry
	// different lifecycle or storage-class policies than content.
	Bucket         string `toml:"bucket,omitempty"`
	Prefix         string `toml:"prefix,omitempty"`
	Region         string `toml:"region,omitempty"`
	Endpoint       string `toml:"endpoint,omitempty"`
	MetadataBucket string `toml:"metadata_bucket,omitempty"`
	MetadataPrefix string `toml:"metadata_prefix,omitempty"`

	// Optional static credentials; when empty the SDK default chain applies.
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
}

// New returns a config with defaults filled in for the given host and base
// directory.
func New(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
	}
}

// Derived filesystem layout under BaseDir.

func (c *Config) DatabasePath() string { return filepath.Join(c.BaseDir, "data", "metadata.db") }
func (c *Config) StagingRoot() string  { return c.BaseDir }
func (c *Config) LockPath() string     { return filepath.Join(c.BaseDir, "bt.lock") }

// Validate checks the decoded config for use.
func (c *Config) Validate() error {
	if _, err := uuid.Parse(c.HostID); err != nil {
		return fmt.Errorf("host_id is not a UUID: %w: %w", err, bt.ErrConfigInvalid)
	}
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required: %w", bt.ErrConfigInvalid)
	}
	if len(c.Vaults) == 0 {
		return fmt.Errorf("at least one [[vault]] is required: %w", bt.ErrConfigInvalid)
	}
	for i, v := range c.Vaults {
		switch v.Kind {
		case "fs":
			if v.Root == "" {
				return fmt.Errorf("vault %d: fs vault requires root: %w", i, bt.ErrConfigInvalid)
			}
		case "s3":
			if v.Bucket == "" {
				return fmt.Errorf("vault %d: s3 vault requires bucket: %w", i, bt.ErrConfigInvalid)
			}
		case "memory":
		default:
			return fmt.Errorf("vault %d: unknown kind %q: %w", i, v.Kind, bt.ErrConfigInvalid)
		}
	}
	return nil
}

// Read decodes a Config from r, rejecting unknown keys.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w: %w", err, bt.ErrConfigInvalid)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q: %w", undecoded[0].String(), bt.ErrConfigInvalid)
	}
	return &cfg, nil
}

// Write encodes cfg to w.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// ReadFromFile loads and validates the config at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes a fresh config file at path, refusing to overwrite one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
