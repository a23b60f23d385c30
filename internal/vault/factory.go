package vault

import (
	"context"
	"fmt"

	"bt/internal/bt"
	"bt/internal/config"
)

// FromConfig builds a vault from its config block. fs and s3 vaults are
// wrapped in the transient-failure retry policy; a memory vault is returned
// unwrapped.
func FromConfig(ctx context.Context, vc config.VaultConfig) (bt.Vault, error) {
	switch vc.Kind {
	case "fs":
		v, err := NewFilesystemVault(vc.Name, vc.Root)
		if err != nil {
			return nil, err
		}
		return WithRetry(v), nil
	case "s3":
		v, err := NewS3Vault(ctx, vc)
		if err != nil {
			return nil, err
		}
		return WithRetry(v), nil
	case "memory":
		return NewMemoryVault(vc.Name), nil
	default:
		return nil, fmt.Errorf("unknown vault kind %q: %w", vc.Kind, bt.ErrConfigInvalid)
	}
}
