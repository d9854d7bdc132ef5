package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
)

func newMockStore(t *testing.T) (*ArticleStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewArticleStoreWithPool(mock, "articles", zap.NewNop())
	require.NoError(t, err)
	return store, mock
}

func TestNewArticleStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewArticleStoreWithPool(mock, "articles; drop table x", nil)
	require.Error(t, err)

	_, err = NewArticleStoreWithPool(nil, "", nil)
	require.Error(t, err)

	store, err := NewArticleStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	require.Equal(t, defaultTable, store.table)
}

func TestUpsertBatchCountsInsertsAndUpdates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	a := article.Article{ID: article.ID("https://example.com/a"), URL: "https://example.com/a", Title: "A"}
	b := article.Article{ID: article.ID("https://example.com/b"), URL: "https://example.com/b", Title: "B"}
	c := article.Article{ID: article.ID("https://example.com/c"), URL: "https://example.com/c", Title: "C"}

	upsert := regexp.QuoteMeta("INSERT INTO articles (id, doc, updated_at)")
	mock.ExpectQuery(upsert).WithArgs(a.ID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(upsert).WithArgs(b.ID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectQuery(upsert).WithArgs(c.ID, pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	counts, err := store.UpsertBatch(context.Background(), []article.Article{a, b, {URL: "no-id"}, c})
	require.NoError(t, err)
	require.Equal(t, article.UpsertCounts{Inserted: 1, Updated: 1, Failed: 2}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMissingFieldQueriesByKeyAbsence(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT doc FROM articles WHERE NOT (doc ? 'embedding') ORDER BY id LIMIT 2")).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":"a","title":"A"}`)).
			AddRow([]byte(`{"id":"b","title":"B"}`)))

	got, err := store.FindMissingField(context.Background(), article.FieldEmbedding, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "B", got[1].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMissingFieldRejectsUnknownField(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	_, err := store.FindMissingField(context.Background(), article.Field("doc') OR true --"), 10)
	require.ErrorIs(t, err, article.ErrUnknownField)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBatchCountsMatchedRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	update := regexp.QuoteMeta("UPDATE articles SET doc = doc || $2::jsonb")
	mock.ExpectExec(update).
		WithArgs("a", []byte(`{"categories":["economy"],"category_scores":{"economy":0.8}}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(update).
		WithArgs("gone", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	n, err := store.UpdateBatch(context.Background(), []article.Patch{
		article.LabelResult{ID: "a", Categories: []string{"economy"}, Scores: map[string]float64{"economy": 0.8}},
		article.LabelResult{ID: "empty"},
		article.ImageResult{ID: "gone", ImageURL: "https://img.example.com/x.png"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBatchStopsOnError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE articles").WithArgs("a", pgxmock.AnyArg()).
		WillReturnError(errors.New("deadlock"))

	n, err := store.UpdateBatch(context.Background(), []article.Patch{
		article.ImageResult{ID: "a", ImageURL: "https://img.example.com/a.png"},
		article.ImageResult{ID: "b", ImageURL: "https://img.example.com/b.png"},
	})
	require.Error(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM articles")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("jsonb_array_elements_text").
		WillReturnRows(pgxmock.NewRows([]string{"cat", "n"}).AddRow("economy", 2).AddRow("finance", 1))
	mock.ExpectQuery(regexp.QuoteMeta("doc->>'search_topic' AS topic")).
		WillReturnRows(pgxmock.NewRows([]string{"topic", "n"}).AddRow("rates", 3))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, []article.Count{{Name: "economy", Count: 2}, {Name: "finance", Count: 1}}, stats.TopCategories)
	require.Equal(t, []article.Count{{Name: "rates", Count: 3}}, stats.TopTopics)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT doc FROM articles WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, article.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchBuildsTermPredicates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("LIKE \\$1 AND .* LIKE \\$2").
		WithArgs("%rate%", `%50\%%`).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow([]byte(`{"id":"a"}`)))

	got, err := store.Search(context.Background(), "Rate 50%", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())

	none, err := store.Search(context.Background(), "  ", 5)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPingReportsPoolErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewArticleStoreWithPool(mock, "", nil)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
