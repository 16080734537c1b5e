package database

import (
	"context"
	"fmt"
)

// SearchQueue persists ids of removed items for the search indexer to clean up
type SearchQueue struct {
	q Querier
}

func NewSearchQueue(q Querier) *SearchQueue {
	return &SearchQueue{q: q}
}

// QueueStale records item ids that no longer exist
func (s *SearchQueue) QueueStale(ctx context.Context, ids []int64, queuedAt int64) error {
	for _, id := range ids {
		_, err := s.q.ExecContext(ctx, `INSERT INTO search_cleanup (item_id, queued_at) VALUES (?, ?)`, id, queuedAt)
		if err != nil {
			return fmt.Errorf("failed to queue stale item %d: %w", id, err)
		}
	}
	return nil
}

// Pending returns queued item ids in queue order, at most limit of them
func (s *SearchQueue) Pending(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT item_id FROM search_cleanup ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read search cleanup queue: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan queued item: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search cleanup queue: %w", err)
	}

	return ids, nil
}

// Ack removes processed ids from the queue
func (s *SearchQueue) Ack(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM search_cleanup WHERE item_id = ?`, id); err != nil {
			return fmt.Errorf("failed to ack queued item %d: %w", id, err)
		}
	}
	return nil
}
