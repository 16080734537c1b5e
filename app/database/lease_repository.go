package database

import (
	"context"
	"fmt"
	"time"
)

// LeaseRepository implements per-source leases on top of the source_leases table.
// It lets several processes sharing one database avoid refreshing the same
// source at the same time.
type LeaseRepository struct {
	q      Querier
	holder string
	now    func() time.Time
}

func NewLeaseRepository(q Querier, holder string) *LeaseRepository {
	return &LeaseRepository{q: q, holder: holder, now: time.Now}
}

// Acquire takes the lease for sourceID unless another holder owns an unexpired one
func (r *LeaseRepository) Acquire(ctx context.Context, sourceID int64, ttl time.Duration) (bool, error) {
	now := r.now().Unix()
	expiresAt := r.now().Add(ttl).Unix()

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO source_leases (source_id, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (source_id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE source_leases.expires_at <= ? OR source_leases.holder = excluded.holder
	`, sourceID, r.holder, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}

	return n > 0, nil
}

// Release gives up a lease held by this holder
func (r *LeaseRepository) Release(ctx context.Context, sourceID int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM source_leases WHERE source_id = ? AND holder = ?`, sourceID, r.holder)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
