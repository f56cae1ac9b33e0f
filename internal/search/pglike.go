package search

import (
	"context"
	"strings"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

type recordFinder interface {
	SearchRecords(ctx context.Context, q string) ([]store.Record, error)
}

// PgLike resolves queries with the store's case-insensitive substring match.
// It is the fallback when Meilisearch is absent or down and mirrors the
// exact filter semantics the list view promises.
type PgLike struct {
	store recordFinder
}

func NewPgLike(store recordFinder) *PgLike {
	return &PgLike{store: store}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

func (p *PgLike) Search(q Query) ([]string, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	records, err := p.store.SearchRecords(context.Background(), q.Text)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}
