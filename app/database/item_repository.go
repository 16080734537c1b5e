package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrItemNotFound = errors.New("item not found")

const itemColumns = `id, owner_id, source_id, title, link, body, published_at, visible, item_type,
	event_start, event_end, event_location, image_ref, image_desc, attachment_refs, item_digest, created_at`

// ItemRepository handles database operations for news and event items
type ItemRepository struct {
	q Querier
}

// NewItemRepository creates an item repository bound to a connection or transaction
func NewItemRepository(q Querier) *ItemRepository {
	return &ItemRepository{q: q}
}

// InsertItem stores a new item with its visibility keys and returns its id
func (r *ItemRepository) InsertItem(ctx context.Context, item *Item) (int64, error) {
	if item.SourceID != nil && item.ItemDigest == "" {
		return 0, fmt.Errorf("sourced item must carry a digest")
	}

	attachments, err := json.Marshal(nonNil(item.AttachmentRefs))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal attachment refs: %w", err)
	}

	var sourceID sql.NullInt64
	if item.SourceID != nil {
		sourceID = sql.NullInt64{Int64: *item.SourceID, Valid: true}
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO items (
			owner_id, source_id, title, link, body, published_at, visible, item_type,
			event_start, event_end, event_location, image_ref, image_desc, attachment_refs, item_digest
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.OwnerID, sourceID, item.Title, item.Link, item.Body, item.PublishedAt, item.Visible,
		item.Type, item.EventStart, item.EventEnd, item.EventLocation, item.ImageRef, item.ImageDesc,
		string(attachments), item.ItemDigest)
	if err != nil {
		return 0, fmt.Errorf("failed to insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read item id: %w", err)
	}

	for _, key := range item.VisibilityKeys {
		_, err := r.q.ExecContext(ctx, `
			INSERT OR IGNORE INTO item_visibility (item_id, visibility_key) VALUES (?, ?)
		`, id, key)
		if err != nil {
			return 0, fmt.Errorf("failed to insert item visibility: %w", err)
		}
	}

	item.ID = id
	return id, nil
}

// UpdateRefs records where an inserted item's image and attachments were stored
func (r *ItemRepository) UpdateRefs(ctx context.Context, id int64, imageRef string, attachmentRefs []string) error {
	attachments, err := json.Marshal(nonNil(attachmentRefs))
	if err != nil {
		return fmt.Errorf("failed to marshal attachment refs: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `UPDATE items SET image_ref = ?, attachment_refs = ? WHERE id = ?`,
		imageRef, string(attachments), id)
	if err != nil {
		return fmt.Errorf("failed to update item refs: %w", err)
	}
	return nil
}

// GetSourceItems returns every item reconciled from a source
func (r *ItemRepository) GetSourceItems(ctx context.Context, sourceID int64) ([]Item, error) {
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE source_id = ? ORDER BY id`, sourceID)
}

// GetSourceItemIDs returns the ids of the items reconciled from a source
func (r *ItemRepository) GetSourceItemIDs(ctx context.Context, sourceID int64) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM items WHERE source_id = ? ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get source item ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item ids: %w", err)
	}

	return ids, nil
}

// GetOwnerItems returns all items of an owner, newest first
func (r *ItemRepository) GetOwnerItems(ctx context.Context, ownerID int64) ([]Item, error) {
	items, err := r.queryItems(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE owner_id = ?
		ORDER BY published_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}

	if err := r.loadVisibility(ctx, ownerID, items); err != nil {
		return nil, err
	}

	return items, nil
}

// GetItem retrieves an item by id
func (r *ItemRepository) GetItem(ctx context.Context, id int64) (*Item, error) {
	items, err := r.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return &items[0], nil
}

// DeleteItems removes items by id
func (r *ItemRepository) DeleteItems(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := r.q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete item %d: %w", id, err)
		}
	}
	return nil
}

// GetItemCount returns the number of items of an owner
func (r *ItemRepository) GetItemCount(ctx context.Context, ownerID int64) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE owner_id = ?", ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

// GetSourceItemCount returns the number of items reconciled from a source
func (r *ItemRepository) GetSourceItemCount(ctx context.Context, sourceID int64) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE source_id = ?", sourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get source item count: %w", err)
	}
	return count, nil
}

func (r *ItemRepository) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var sourceID sql.NullInt64
		var attachments string
		err := rows.Scan(
			&item.ID, &item.OwnerID, &sourceID, &item.Title, &item.Link, &item.Body,
			&item.PublishedAt, &item.Visible, &item.Type, &item.EventStart, &item.EventEnd,
			&item.EventLocation, &item.ImageRef, &item.ImageDesc, &attachments,
			&item.ItemDigest, &item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}

		if sourceID.Valid {
			id := sourceID.Int64
			item.SourceID = &id
		}
		if err := json.Unmarshal([]byte(attachments), &item.AttachmentRefs); err != nil {
			return nil, fmt.Errorf("failed to decode attachment refs of item %d: %w", item.ID, err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

func (r *ItemRepository) loadVisibility(ctx context.Context, ownerID int64, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT v.item_id, v.visibility_key
		FROM item_visibility v
		JOIN items i ON i.id = v.item_id
		WHERE i.owner_id = ?
		ORDER BY v.item_id, v.visibility_key
	`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to query item visibility: %w", err)
	}
	defer rows.Close()

	keys := make(map[int64][]string)
	for rows.Next() {
		var itemID int64
		var key string
		if err := rows.Scan(&itemID, &key); err != nil {
			return fmt.Errorf("failed to scan item visibility: %w", err)
		}
		keys[itemID] = append(keys[itemID], strings.TrimSpace(key))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating item visibility: %w", err)
	}

	for i := range items {
		items[i].VisibilityKeys = keys[items[i].ID]
	}

	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
