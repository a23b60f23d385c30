package vault

import (
	"context"
	"errors"
	"testing"

	"bt/internal/bt"
	"bt/internal/config"
)

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	fsVault, err := FromConfig(ctx, config.VaultConfig{Kind: "fs", Name: "local", Root: t.TempDir()})
	if err != nil {
		t.Fatalf("fs vault: %v", err)
	}
	if fsVault.Name() != "local" {
		t.Errorf("fs vault name = %s", fsVault.Name())
	}

	memVault, err := FromConfig(ctx, config.VaultConfig{Kind: "memory", Name: "mem"})
	if err != nil {
		t.Fatalf("memory vault: %v", err)
	}
	if _, ok := memVault.(*MemoryVault); !ok {
		t.Errorf("memory vault type = %T", memVault)
	}

	// S3 construction only loads configuration; no network involved.
	s3Vault, err := FromConfig(ctx, config.VaultConfig{
		Kind: "s3", Name: "offsite", Bucket: "b", Region: "eu-central-1",
		AccessKeyID: "AKIATEST", SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("s3 vault: %v", err)
	}
	if s3Vault.Name() != "offsite" {
		t.Errorf("s3 vault name = %s", s3Vault.Name())
	}

	if _, err := FromConfig(ctx, config.VaultConfig{Kind: "ftp"}); !errors.Is(err, bt.ErrConfigInvalid) {
		t.Errorf("unknown kind = %v, want ErrConfigInvalid", err)
	}
}
