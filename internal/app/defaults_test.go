package app

import (
	"path/filepath"
	"testing"
)

func TestDefaultsFromEnv(t *testing.T) {
	t.Setenv("BT_CONFIG", "/etc/custom/bt.toml")
	t.Setenv("BT_BASE_DIR", "/srv/bt")

	d, err := GetDefaults()
	if err != nil {
		t.Fatalf("GetDefaults: %v", err)
	}
	if d.ConfigPath != "/etc/custom/bt.toml" {
		t.Errorf("ConfigPath = %s", d.ConfigPath)
	}
	if d.BaseDir != "/srv/bt" {
		t.Errorf("BaseDir = %s", d.BaseDir)
	}
}

func TestDefaultsFromHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("BT_CONFIG", "")
	t.Setenv("BT_BASE_DIR", "")

	d, err := GetDefaults()
	if err != nil {
		t.Fatalf("GetDefaults: %v", err)
	}
	if want := filepath.Join(home, ".config", "bt.toml"); d.ConfigPath != want {
		t.Errorf("ConfigPath = %s, want %s", d.ConfigPath, want)
	}
	if want := filepath.Join(home, "data", "bt"); d.BaseDir != want {
		t.Errorf("BaseDir = %s, want %s", d.BaseDir, want)
	}
}
