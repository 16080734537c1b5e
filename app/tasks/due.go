package tasks

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/lysyi3m/newsblock/app/database"
)

// backoffUnit is the delay added per squared consecutive error, in seconds.
const backoffUnit = 3600

// SourceLister returns every registered source.
type SourceLister interface {
	GetAllSources(ctx context.Context) ([]database.Source, error)
}

// DueSources returns up to maxCount sources due for a refresh at now, given
// the base refresh interval in seconds.
func DueSources(ctx context.Context, repo SourceLister, maxCount int, now, baseInterval int64) ([]database.Source, error) {
	sources, err := repo.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	return selectDue(sources, maxCount, now, baseInterval), nil
}

// adjustedDue is the last fetch time pushed back by the quadratic error
// backoff. A source is due once adjustedDue <= now - baseInterval.
func adjustedDue(s database.Source) int64 {
	ec := int64(s.ErrorCount)
	return s.LastFetchedAt + ec*ec*backoffUnit
}

// selectDue returns the individually due sources ordered by the earliest
// adjusted due time among all sources sharing their URL, then by id. A
// healthy source is returned even while a sibling on the same URL is backed
// off.
func selectDue(sources []database.Source, maxCount int, now, baseInterval int64) []database.Source {
	threshold := now - baseInterval

	urlDue := make(map[string]int64, len(sources))
	for _, s := range sources {
		due := adjustedDue(s)
		if current, ok := urlDue[s.URL]; !ok || due < current {
			urlDue[s.URL] = due
		}
	}

	var due []database.Source
	for _, s := range sources {
		if adjustedDue(s) <= threshold {
			due = append(due, s)
		}
	}

	slices.SortStableFunc(due, func(a, b database.Source) int {
		if c := cmp.Compare(urlDue[a.URL], urlDue[b.URL]); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if maxCount >= 0 && len(due) > maxCount {
		due = due[:maxCount]
	}

	return due
}
