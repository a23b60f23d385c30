package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"bt/internal/bt"
)

const validConfig = `
host_id = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
base_dir = "/home/user/data/bt"
log_dir = "/home/user/data/bt/log"
ignore_list = ["*.tmp", ".DS_Store"]

[[vault]]
kind = "fs"
name = "local"
root = "/mnt/backup"

[[vault]]
kind = "s3"
name = "offsite"
bucket = "my-backups"
prefix = "laptop"
region = "eu-central-1"
`

func TestReadValidConfig(t *testing.T) {
	cfg, err := Read(strings.NewReader(validConfig))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.HostID != "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee" {
		t.Errorf("host_id = %s", cfg.HostID)
	}
	if len(cfg.Vaults) != 2 {
		t.Fatalf("got %d vaults, want 2", len(cfg.Vaults))
	}
	if cfg.Vaults[0].Kind != "fs" || cfg.Vaults[0].Root != "/mnt/backup" {
		t.Errorf("vault[0] = %+v", cfg.Vaults[0])
	}
	if cfg.Vaults[1].Kind != "s3" || cfg.Vaults[1].Bucket != "my-backups" {
		t.Errorf("vault[1] = %+v", cfg.Vaults[1])
	}
	if len(cfg.IgnoreList) != 2 {
		t.Errorf("ignore_list = %v", cfg.IgnoreList)
	}
}

func TestReadRejectsUnknownKeys(t *testing.T) {
	_, err := Read(strings.NewReader(`host_id = "x"` + "\n" + `surprise = true` + "\n"))
	if !errors.Is(err, bt.ErrConfigInvalid) {
		t.Errorf("Read with unknown key = %v, want ErrConfigInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad host id", func(c *Config) { c.HostID = "not-a-uuid" }},
		{"missing base dir", func(c *Config) { c.BaseDir = "" }},
		{"no vaults", func(c *Config) { c.Vaults = nil }},
		{"fs vault without root", func(c *Config) { c.Vaults[0].Root = "" }},
		{"s3 vault without bucket", func(c *Config) { c.Vaults[1].Bucket = "" }},
		{"unknown vault kind", func(c *Config) { c.Vaults[0].Kind = "ftp" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Read(strings.NewReader(validConfig))
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, bt.ErrConfigInvalid) {
				t.Errorf("Validate = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestInitAndReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "bt.toml")

	cfg := New("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", "/data/bt")
	cfg.Vaults = []VaultConfig{{Kind: "fs", Name: "local", Root: "/mnt/backup"}}

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(path, cfg); err == nil {
		t.Error("Init must refuse to overwrite an existing config")
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile: %v", err)
	}
	if got.HostID != cfg.HostID || got.BaseDir != cfg.BaseDir {
		t.Errorf("roundtrip = %+v", got)
	}
	if got.LogDir != "/data/bt/log" {
		t.Errorf("log_dir default = %s", got.LogDir)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := New("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", "/data/bt")

	if got := cfg.DatabasePath(); got != "/data/bt/data/metadata.db" {
		t.Errorf("DatabasePath = %s", got)
	}
	if got := cfg.LockPath(); got != "/data/bt/bt.lock" {
		t.Errorf("LockPath = %s", got)
	}
	if got := cfg.StagingRoot(); got != "/data/bt" {
		t.Errorf("StagingRoot = %s", got)
	}
}
