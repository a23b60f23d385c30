package vault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"bt/internal/bt"
	"bt/internal/testutil"
)

// flakyVault fails PutContent a fixed number of times before succeeding.
type flakyVault struct {
	*MemoryVault
	failures int
	kind     error
	calls    int
}

func (v *flakyVault) PutContent(ctx context.Context, digest, sourcePath string) error {
	v.calls++
	if v.calls <= v.failures {
		return fmt.Errorf("synthetic failure %d: %w", v.calls, v.kind)
	}
	return v.MemoryVault.PutContent(ctx, digest, sourcePath)
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyVault{MemoryVault: NewMemoryVault("flaky"), failures: 1, kind: bt.ErrTransient}
	v := WithRetry(inner)

	src := testutil.WriteFile(t, t.TempDir(), "f", "retried")
	if err := v.PutContent(context.Background(), testutil.HashOf("retried"), src); err != nil {
		t.Fatalf("PutContent through retry = %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner called %d times, want 2", inner.calls)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	inner := &flakyVault{MemoryVault: NewMemoryVault("flaky"), failures: 100, kind: bt.ErrTransient}
	v := WithRetry(inner)

	err := v.PutContent(context.Background(), testutil.HashOf("x"), testutil.WriteFile(t, t.TempDir(), "f", "x"))
	if !errors.Is(err, bt.ErrTransient) {
		t.Fatalf("expected surfaced transient error, got %v", err)
	}
	if inner.calls != retryAttempts {
		t.Errorf("inner called %d times, want %d", inner.calls, retryAttempts)
	}
}

func TestRetryDoesNotRetryNonTransient(t *testing.T) {
	inner := &flakyVault{MemoryVault: NewMemoryVault("denied"), failures: 100, kind: bt.ErrAuthDenied}
	v := WithRetry(inner)

	err := v.PutContent(context.Background(), testutil.HashOf("x"), testutil.WriteFile(t, t.TempDir(), "f", "x"))
	if !errors.Is(err, bt.ErrAuthDenied) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("non-transient failure retried %d times", inner.calls)
	}
}
