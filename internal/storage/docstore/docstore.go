// Package docstore implements article.Store over any ordered key-value backend
// by keeping one JSON document per article ID.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
)

// ErrSkip tells KV.Update to leave the key untouched.
var ErrSkip = errors.New("skip write")

// KV is the minimal backend contract. Update must run fn and the write it
// returns atomically with respect to other Update calls on the same key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Update(ctx context.Context, key string, fn func(old []byte, exists bool) ([]byte, error)) error
	Scan(ctx context.Context, fn func(key string, value []byte) (bool, error)) error
	Close() error
}

// Store is an article.Store backed by a KV.
type Store struct {
	kv     KV
	logger *zap.Logger
}

var _ article.Store = (*Store)(nil)

// New wraps kv.
func New(kv KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger}
}

type document map[string]json.RawMessage

// UpsertBatch merges each article into its stored document.
func (s *Store) UpsertBatch(ctx context.Context, articles []article.Article) (article.UpsertCounts, error) {
	var counts article.UpsertCounts
	for _, a := range articles {
		if err := ctx.Err(); err != nil {
			return counts, fmt.Errorf("upsert batch: %w", err)
		}
		if a.ID == "" {
			counts.Failed++
			s.logger.Warn("upsert skipped article without id", zap.String("url", a.URL))
			continue
		}
		incoming, err := toDocument(a)
		if err != nil {
			counts.Failed++
			s.logger.Warn("encode article failed", zap.String("id", a.ID), zap.Error(err))
			continue
		}
		var existed bool
		err = s.kv.Update(ctx, a.ID, func(old []byte, exists bool) ([]byte, error) {
			existed = exists
			return merge(old, exists, incoming)
		})
		if err != nil {
			counts.Failed++
			s.logger.Warn("upsert article failed", zap.String("id", a.ID), zap.Error(err))
			continue
		}
		if existed {
			counts.Updated++
		} else {
			counts.Inserted++
		}
	}
	return counts, nil
}

// FindMissingField scans in key order and returns up to limit documents
// lacking field.
func (s *Store) FindMissingField(ctx context.Context, field article.Field, limit int) ([]article.Article, error) {
	if _, err := article.ParseField(string(field)); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []article.Article
	err := s.kv.Scan(ctx, func(_ string, value []byte) (bool, error) {
		var doc document
		if err := json.Unmarshal(value, &doc); err != nil {
			return false, fmt.Errorf("decode document: %w", err)
		}
		if present(doc, string(field)) {
			return true, nil
		}
		var a article.Article
		if err := json.Unmarshal(value, &a); err != nil {
			return false, fmt.Errorf("decode article: %w", err)
		}
		out = append(out, a)
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("find missing %s: %w", field, err)
	}
	return out, nil
}

// UpdateBatch merges each non-empty patch into an existing document. Patches
// for unknown IDs are skipped and not counted.
func (s *Store) UpdateBatch(ctx context.Context, patches []article.Patch) (int, error) {
	matched := 0
	for _, p := range patches {
		if p == nil || p.Empty() {
			continue
		}
		fields, err := toDocument(p.Fields())
		if err != nil {
			return matched, fmt.Errorf("encode patch %s: %w", p.ArticleID(), err)
		}
		err = s.kv.Update(ctx, p.ArticleID(), func(old []byte, exists bool) ([]byte, error) {
			if !exists {
				return nil, ErrSkip
			}
			return merge(old, true, fields)
		})
		switch {
		case errors.Is(err, ErrSkip):
			s.logger.Debug("patch target missing", zap.String("id", p.ArticleID()))
		case err != nil:
			return matched, fmt.Errorf("update %s: %w", p.ArticleID(), err)
		default:
			matched++
		}
	}
	return matched, nil
}

// Stats counts documents, categories and topics.
func (s *Store) Stats(ctx context.Context) (article.Stats, error) {
	categories := map[string]int{}
	topics := map[string]int{}
	total := 0
	err := s.kv.Scan(ctx, func(_ string, value []byte) (bool, error) {
		var a article.Article
		if err := json.Unmarshal(value, &a); err != nil {
			return false, fmt.Errorf("decode article: %w", err)
		}
		total++
		for _, c := range a.Categories {
			categories[c]++
		}
		if a.SearchTopic != "" {
			topics[a.SearchTopic]++
		}
		return true, nil
	})
	if err != nil {
		return article.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return article.Stats{
		Total:         total,
		TopCategories: top(categories, article.TopCategoriesLimit),
		TopTopics:     top(topics, article.TopTopicsLimit),
	}, nil
}

// Get loads one article.
func (s *Store) Get(ctx context.Context, id string) (article.Article, error) {
	raw, err := s.kv.Get(ctx, id)
	if err != nil {
		return article.Article{}, err
	}
	var a article.Article
	if err := json.Unmarshal(raw, &a); err != nil {
		return article.Article{}, fmt.Errorf("decode article %s: %w", id, err)
	}
	return a, nil
}

// Search returns articles whose title, description or content contain every
// query term, case-insensitively.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]article.Article, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	var out []article.Article
	err := s.kv.Scan(ctx, func(_ string, value []byte) (bool, error) {
		var a article.Article
		if err := json.Unmarshal(value, &a); err != nil {
			return false, fmt.Errorf("decode article: %w", err)
		}
		text := strings.ToLower(a.CombinedText())
		for _, term := range terms {
			if !strings.Contains(text, term) {
				return true, nil
			}
		}
		out = append(out, a)
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return out, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

func toDocument(v any) (document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return doc, nil
}

// merge overlays incoming keys onto the stored document.
func merge(old []byte, exists bool, incoming document) ([]byte, error) {
	doc := document{}
	if exists && len(old) > 0 {
		if err := json.Unmarshal(old, &doc); err != nil {
			return nil, fmt.Errorf("decode stored document: %w", err)
		}
	}
	for k, v := range incoming {
		doc[k] = v
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

func present(doc document, field string) bool {
	v, ok := doc[field]
	return ok && string(v) != "null"
}

func top(counts map[string]int, limit int) []article.Count {
	out := make([]article.Count, 0, len(counts))
	for name, n := range counts {
		out = append(out, article.Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
