package tasks

import (
	"context"
	"time"
)

// SourceLocker guards a source against being refreshed by two batch runs at
// once.
type SourceLocker interface {
	Acquire(ctx context.Context, sourceID int64, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sourceID int64) error
}

// NoopLocker always grants the lease.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, sourceID int64, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoopLocker) Release(ctx context.Context, sourceID int64) error {
	return nil
}
