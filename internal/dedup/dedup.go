// Package dedup suppresses duplicate URLs within a single fetch run.
package dedup

import (
	"sync"

	"github.com/JakeFAU/article-pipeline/internal/article"
)

// Deduplicator records accepted URLs by literal value and by hash. Both sets
// are consulted so a hash collision is never the only gate.
type Deduplicator struct {
	mu     sync.Mutex
	hash   func(string) string
	urls   map[string]struct{}
	hashes map[string]struct{}
}

// New returns an empty Deduplicator. A nil hash uses article.ID.
func New(hash func(string) string) *Deduplicator {
	if hash == nil {
		hash = article.ID
	}
	return &Deduplicator{
		hash:   hash,
		urls:   make(map[string]struct{}),
		hashes: make(map[string]struct{}),
	}
}

// Accept atomically checks and records url. It returns false for duplicates.
func (d *Deduplicator) Accept(url string) bool {
	h := d.hash(url)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.urls[url]; ok {
		return false
	}
	if _, ok := d.hashes[h]; ok {
		return false
	}
	d.urls[url] = struct{}{}
	d.hashes[h] = struct{}{}
	return true
}

// Seen reports whether url, or anything with the same hash, was accepted.
func (d *Deduplicator) Seen(url string) bool {
	h := d.hash(url)
	d.mu.Lock()
	defer d.mu.Unlock()
	_, byURL := d.urls[url]
	_, byHash := d.hashes[h]
	return byURL || byHash
}

// Len returns the number of accepted URLs.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// Reset clears both sets.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = make(map[string]struct{})
	d.hashes = make(map[string]struct{})
}
