// Package postgres provides the Postgres article backend. Each article is one
// JSONB document keyed by its URL hash, so merges are a single `||` away.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
)

const defaultTable = "articles"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config controls the connection pool used for article documents.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Migrate         bool
}

// Pool is the subset of pgxpool.Pool the store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ArticleStore persists articles in Postgres.
type ArticleStore struct {
	pool   Pool
	table  string
	logger *zap.Logger
}

var _ article.Store = (*ArticleStore)(nil)

// NewArticleStore connects to Postgres, optionally applying migrations first.
func NewArticleStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	if cfg.Migrate {
		if err := Migrate(cfg.DSN); err != nil {
			return nil, err
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewArticleStoreWithPool(pool, cfg.Table, logger)
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool Pool, table string, logger *zap.Logger) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleStore{pool: pool, table: table, logger: logger}, nil
}

// Ping checks connectivity.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// UpsertBatch inserts new documents and merges incoming keys into existing
// ones. Enrichment keys absent from the incoming document survive the merge.
func (s *ArticleStore) UpsertBatch(ctx context.Context, articles []article.Article) (article.UpsertCounts, error) {
	var counts article.UpsertCounts
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, doc, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE
SET doc = %[1]s.doc || EXCLUDED.doc, updated_at = now()
RETURNING (xmax = 0) AS inserted`, s.table)

	for _, a := range articles {
		if err := ctx.Err(); err != nil {
			return counts, fmt.Errorf("upsert batch: %w", err)
		}
		if a.ID == "" {
			counts.Failed++
			s.logger.Warn("upsert skipped article without id", zap.String("url", a.URL))
			continue
		}
		doc, err := json.Marshal(a)
		if err != nil {
			counts.Failed++
			s.logger.Warn("encode article failed", zap.String("id", a.ID), zap.Error(err))
			continue
		}
		var inserted bool
		if err := s.pool.QueryRow(ctx, query, a.ID, doc).Scan(&inserted); err != nil {
			counts.Failed++
			s.logger.Warn("upsert article failed", zap.String("id", a.ID), zap.Error(err))
			continue
		}
		if inserted {
			counts.Inserted++
		} else {
			counts.Updated++
		}
	}
	return counts, nil
}

// FindMissingField returns up to limit documents without field, oldest id first.
func (s *ArticleStore) FindMissingField(ctx context.Context, field article.Field, limit int) ([]article.Article, error) {
	f, err := article.ParseField(string(field))
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	// The field name is validated above, so it is inlined to let the planner
	// match the partial indexes.
	query, args, err := psql.Select("doc").
		From(s.table).
		Where(fmt.Sprintf("NOT (doc ?? '%s')", f)).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build missing-field query: %w", err)
	}
	return s.queryArticles(ctx, query, args...)
}

// UpdateBatch merges each non-empty patch and returns the matched row count.
func (s *ArticleStore) UpdateBatch(ctx context.Context, patches []article.Patch) (int, error) {
	query := fmt.Sprintf(`UPDATE %s SET doc = doc || $2::jsonb, updated_at = now() WHERE id = $1`, s.table)
	matched := 0
	for _, p := range patches {
		if p == nil || p.Empty() {
			continue
		}
		fields, err := json.Marshal(p.Fields())
		if err != nil {
			return matched, fmt.Errorf("encode patch %s: %w", p.ArticleID(), err)
		}
		tag, err := s.pool.Exec(ctx, query, p.ArticleID(), fields)
		if err != nil {
			return matched, fmt.Errorf("update %s: %w", p.ArticleID(), err)
		}
		matched += int(tag.RowsAffected())
	}
	return matched, nil
}

// Stats aggregates the collection in three queries.
func (s *ArticleStore) Stats(ctx context.Context) (article.Stats, error) {
	var stats article.Stats

	totalSQL, _, err := psql.Select("count(*)").From(s.table).ToSql()
	if err != nil {
		return stats, fmt.Errorf("build count query: %w", err)
	}
	if err := s.pool.QueryRow(ctx, totalSQL).Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("count articles: %w", err)
	}

	catSQL, _, err := psql.Select("cat", "count(*) AS n").
		From(fmt.Sprintf("%s, jsonb_array_elements_text(COALESCE(doc->'categories', '[]'::jsonb)) AS cat", s.table)).
		GroupBy("cat").
		OrderBy("n DESC", "cat").
		Limit(article.TopCategoriesLimit).
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build category query: %w", err)
	}
	if stats.TopCategories, err = s.queryCounts(ctx, catSQL); err != nil {
		return stats, fmt.Errorf("top categories: %w", err)
	}

	topicSQL, _, err := psql.Select("doc->>'search_topic' AS topic", "count(*) AS n").
		From(s.table).
		Where("COALESCE(doc->>'search_topic', '') <> ''").
		GroupBy("topic").
		OrderBy("n DESC", "topic").
		Limit(article.TopTopicsLimit).
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build topic query: %w", err)
	}
	if stats.TopTopics, err = s.queryCounts(ctx, topicSQL); err != nil {
		return stats, fmt.Errorf("top topics: %w", err)
	}
	return stats, nil
}

// Get loads one article or returns article.ErrNotFound.
func (s *ArticleStore) Get(ctx context.Context, id string) (article.Article, error) {
	query, args, err := psql.Select("doc").From(s.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return article.Article{}, fmt.Errorf("build get query: %w", err)
	}
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return article.Article{}, fmt.Errorf("get %s: %w", id, article.ErrNotFound)
		}
		return article.Article{}, fmt.Errorf("get %s: %w", id, err)
	}
	var a article.Article
	if err := json.Unmarshal(raw, &a); err != nil {
		return article.Article{}, fmt.Errorf("decode article %s: %w", id, err)
	}
	return a, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search matches every whitespace-separated term against title, description
// and content, case-insensitively.
func (s *ArticleStore) Search(ctx context.Context, query string, limit int) ([]article.Article, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	where := sq.And{}
	for _, term := range terms {
		where = append(where, sq.Expr(
			"lower(concat_ws(' ', doc->>'title', doc->>'description', doc->>'content')) LIKE ?",
			"%"+likeEscaper.Replace(term)+"%",
		))
	}
	sqlStr, args, err := psql.Select("doc").
		From(s.table).
		Where(where).
		OrderBy("updated_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}
	return s.queryArticles(ctx, sqlStr, args...)
}

func (s *ArticleStore) queryArticles(ctx context.Context, query string, args ...any) ([]article.Article, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var out []article.Article
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		var a article.Article
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

func (s *ArticleStore) queryCounts(ctx context.Context, query string) ([]article.Count, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []article.Count{}
	for rows.Next() {
		var c article.Count
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
