package vault

import (
	"context"
	"errors"
	"time"

	"bt/internal/bt"
)

const (
	retryAttempts  = 4
	retryBaseDelay = 500 * time.Millisecond
)

// retrying decorates a vault with exponential backoff on transient failures.
// Only errors marked bt.ErrTransient are retried; everything else surfaces
// immediately.
type retrying struct {
	inner bt.Vault
}

// WithRetry wraps a vault in the transient-failure retry policy.
func WithRetry(v bt.Vault) bt.Vault {
	return &retrying{inner: v}
}

func (r *retrying) Name() string { return r.inner.Name() }

func (r *retrying) PutContent(ctx context.Context, digest, sourcePath string) error {
	return withBackoff(ctx, func() error { return r.inner.PutContent(ctx, digest, sourcePath) })
}

func (r *retrying) GetContent(ctx context.Context, digest, outputPath string) error {
	return withBackoff(ctx, func() error { return r.inner.GetContent(ctx, digest, outputPath) })
}

func (r *retrying) PutMetadata(ctx context.Context, hostID, sourcePath string) error {
	return withBackoff(ctx, func() error { return r.inner.PutMetadata(ctx, hostID, sourcePath) })
}

func (r *retrying) GetMetadata(ctx context.Context, hostID, outputPath string) error {
	return withBackoff(ctx, func() error { return r.inner.GetMetadata(ctx, hostID, outputPath) })
}

func (r *retrying) ValidateSetup(ctx context.Context) error {
	return withBackoff(ctx, func() error { return r.inner.ValidateSetup(ctx) })
}

func withBackoff(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = fn()
		if err == nil || !errors.Is(err, bt.ErrTransient) {
			return err
		}
	}
	return err
}
