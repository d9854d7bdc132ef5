// Package memory provides in-memory storage backends for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/storage/docstore"
)

// KV is a map-backed docstore.KV.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ docstore.KV = (*KV)(nil)

// NewKV constructs an empty KV.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value or article.ErrNotFound.
func (k *KV) Get(_ context.Context, key string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, article.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

// Update applies fn under the write lock.
func (k *KV) Update(_ context.Context, key string, fn func(old []byte, exists bool) ([]byte, error)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	old, exists := k.data[key]
	next, err := fn(old, exists)
	if err != nil {
		return err
	}
	k.data[key] = append([]byte(nil), next...)
	return nil
}

// Scan visits entries in key order until fn returns false or an error.
func (k *KV) Scan(ctx context.Context, fn func(key string, value []byte) (bool, error)) error {
	k.mu.RLock()
	keys := make([]string, 0, len(k.data))
	for key := range k.data {
		keys = append(keys, key)
	}
	snapshot := make(map[string][]byte, len(k.data))
	for key, v := range k.data {
		snapshot[key] = v
	}
	k.mu.RUnlock()

	sort.Strings(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan canceled: %w", err)
		}
		more, err := fn(key, snapshot[key])
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// Len returns the number of stored documents.
func (k *KV) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.data)
}

// Close implements docstore.KV.
func (k *KV) Close() error {
	return nil
}

// NewArticleStore returns a docstore.Store over a fresh in-memory KV.
func NewArticleStore(logger *zap.Logger) *docstore.Store {
	return docstore.New(NewKV(), logger)
}
