// Package badger provides an embedded article backend on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/storage/docstore"
)

const articlePrefix = "article:"

// KV stores article documents under a key prefix in one Badger database.
type KV struct {
	db *badger.DB
}

var _ docstore.KV = (*KV)(nil)

// Open opens or creates a database at path. An empty path with inMemory set
// opens a throwaway database.
func Open(path string, inMemory bool, logger *zap.Logger) (*KV, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if path == "" {
			return nil, errors.New("badger path is required")
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &zapAdapter{logger: logger.Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &KV{db: db}, nil
}

// NewArticleStore opens a Badger-backed article store.
func NewArticleStore(path string, inMemory bool, logger *zap.Logger) (*docstore.Store, error) {
	kv, err := Open(path, inMemory, logger)
	if err != nil {
		return nil, err
	}
	return docstore.New(kv, logger), nil
}

// Get returns the stored value or article.ErrNotFound.
func (k *KV) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := k.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(articlePrefix + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get %s: %w", key, article.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out, nil
}

// Update runs fn inside a read-write transaction. Badger's optimistic
// concurrency aborts with ErrConflict when two writers race; the write is
// retried once in that case.
func (k *KV) Update(_ context.Context, key string, fn func(old []byte, exists bool) ([]byte, error)) error {
	write := func() error {
		return k.db.Update(func(tx *badger.Txn) error {
			var (
				old    []byte
				exists bool
			)
			item, err := tx.Get([]byte(articlePrefix + key))
			switch {
			case err == nil:
				exists = true
				if old, err = item.ValueCopy(nil); err != nil {
					return err
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			next, err := fn(old, exists)
			if err != nil {
				return err
			}
			return tx.Set([]byte(articlePrefix+key), next)
		})
	}
	err := write()
	if errors.Is(err, badger.ErrConflict) {
		err = write()
	}
	return err
}

// Scan iterates article keys in order.
func (k *KV) Scan(ctx context.Context, fn func(key string, value []byte) (bool, error)) error {
	return k.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(articlePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("scan canceled: %w", err)
			}
			item := iter.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key := string(item.Key()[len(articlePrefix):])
			more, err := fn(key, value)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

// Close closes the database.
func (k *KV) Close() error {
	if k.db.IsClosed() {
		return nil
	}
	return k.db.Close()
}

type zapAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*zapAdapter)(nil)

func (a *zapAdapter) Errorf(msg string, items ...any)   { a.logger.Errorf(msg, items...) }
func (a *zapAdapter) Warningf(msg string, items ...any) { a.logger.Warnf(msg, items...) }
func (a *zapAdapter) Infof(msg string, items ...any)    { a.logger.Debugf(msg, items...) }
func (a *zapAdapter) Debugf(msg string, items ...any)   { a.logger.Debugf(msg, items...) }
