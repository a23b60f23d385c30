package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the resolved locations the CLI starts from.
//
// Environment overrides: BT_CONFIG for the config file, BT_BASE_DIR for the
// data directory.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// GetDefaults resolves the config path and base directory, honoring the
// environment overrides.
func GetDefaults() (Defaults, error) {
	var d Defaults

	if p := os.Getenv("BT_CONFIG"); p != "" {
		d.ConfigPath = p
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		d.ConfigPath = filepath.Join(home, ".config", "bt.toml")
	}

	if p := os.Getenv("BT_BASE_DIR"); p != "" {
		d.BaseDir = p
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		d.BaseDir = filepath.Join(home, "data", "bt")
	}

	return d, nil
}
