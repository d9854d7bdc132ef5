package article

import "context"

// Store persists articles and supports the incremental stage queries.
type Store interface {
	// UpsertBatch inserts or merges each article by ID. Keys missing from the
	// incoming document, such as enrichment fields, keep their stored values.
	UpsertBatch(ctx context.Context, articles []Article) (UpsertCounts, error)
	// FindMissingField returns up to limit articles lacking the staged field.
	FindMissingField(ctx context.Context, field Field, limit int) ([]Article, error)
	// UpdateBatch merges each patch into its document and returns the number of
	// documents matched.
	UpdateBatch(ctx context.Context, patches []Patch) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Get(ctx context.Context, id string) (Article, error)
	Search(ctx context.Context, query string, limit int) ([]Article, error)
	Close() error
}
