package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrSourceNotFound = errors.New("source not found")

const sourceColumns = `id, owner_id, url, last_fetched_at, error_count, last_error, content_digest, created_at`

// SourceRepository handles database operations for feed sources
type SourceRepository struct {
	q Querier
}

// NewSourceRepository creates a source repository bound to a connection or transaction
func NewSourceRepository(q Querier) *SourceRepository {
	return &SourceRepository{q: q}
}

// UpsertSource registers url for owner and returns the source id.
// An existing registration is left untouched.
func (r *SourceRepository) UpsertSource(ctx context.Context, ownerID int64, feedURL string) (int64, bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO sources (owner_id, url) VALUES (?, ?)
		ON CONFLICT (owner_id, url) DO NOTHING
	`, ownerID, feedURL)
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert source: %w", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	var id int64
	err = r.q.QueryRowContext(ctx, `SELECT id FROM sources WHERE owner_id = ? AND url = ?`, ownerID, feedURL).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read source id: %w", err)
	}

	return id, created, nil
}

// GetSource retrieves a source by id, returning ErrSourceNotFound if absent
func (r *SourceRepository) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)

	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSourceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return source, nil
}

// GetAllSources returns every registered source ordered by id
func (r *SourceRepository) GetAllSources(ctx context.Context) ([]Source, error) {
	return r.querySources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
}

// GetOwnerSources returns the sources registered by one owner
func (r *SourceRepository) GetOwnerSources(ctx context.Context, ownerID int64) ([]Source, error) {
	return r.querySources(ctx, `SELECT `+sourceColumns+` FROM sources WHERE owner_id = ? ORDER BY id`, ownerID)
}

// RecordFailure stores a fetch or parse failure and bumps the error count
func (r *SourceRepository) RecordFailure(ctx context.Context, id int64, errText string, fetchedAt int64) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE sources
		SET last_error = ?, error_count = error_count + 1, last_fetched_at = ?
		WHERE id = ?
	`, TruncateErrorText(errText), fetchedAt, id)
	if err != nil {
		return fmt.Errorf("failed to record source failure: %w", err)
	}
	return nil
}

// MarkFetched records a successful fetch and clears the error state
func (r *SourceRepository) MarkFetched(ctx context.Context, id int64, fetchedAt int64) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE sources
		SET last_fetched_at = ?, error_count = 0, last_error = ''
		WHERE id = ?
	`, fetchedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark source fetched: %w", err)
	}
	return nil
}

// MarkReconciled stores the digest of the reconciled candidate list
func (r *SourceRepository) MarkReconciled(ctx context.Context, id int64, contentDigest string, fetchedAt int64) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE sources
		SET content_digest = ?, last_fetched_at = ?, error_count = 0, last_error = ''
		WHERE id = ?
	`, contentDigest, fetchedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark source reconciled: %w", err)
	}
	return nil
}

// DeleteSource removes a source; its items go with it through the foreign key
func (r *SourceRepository) DeleteSource(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}

// GetSourceCount returns the total number of sources
func (r *SourceRepository) GetSourceCount(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sources").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get source count: %w", err)
	}
	return count, nil
}

// GetFailingSourceCount returns the count of sources whose last fetch failed
func (r *SourceRepository) GetFailingSourceCount(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sources WHERE error_count > 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get failing source count: %w", err)
	}
	return count, nil
}

func (r *SourceRepository) querySources(ctx context.Context, query string, args ...any) ([]Source, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var s Source
	err := row.Scan(&s.ID, &s.OwnerID, &s.URL, &s.LastFetchedAt, &s.ErrorCount,
		&s.LastError, &s.ContentDigest, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TruncateErrorText limits error text to MaxErrorTextLength runes
func TruncateErrorText(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxErrorTextLength {
		return text
	}
	return string(runes[:MaxErrorTextLength])
}
