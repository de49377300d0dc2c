// Package embedcache memoizes text embeddings for the lifetime of one
// pipeline run.
package embedcache

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Embedder turns a label into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Stats describes cache usage.
type Stats struct {
	Size   int
	Hits   int
	Misses int
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Cache computes each distinct text's embedding at most once, even when
// called from several goroutines, and hands out the same unit-length slice
// for every later lookup. Callers must not modify returned vectors.
type Cache struct {
	embedder Embedder
	group    singleflight.Group

	mu     sync.RWMutex
	items  map[string][]float32
	hits   int
	misses int
}

// New returns an empty cache backed by embedder.
func New(embedder Embedder) *Cache {
	return &Cache{
		embedder: embedder,
		items:    make(map[string][]float32),
	}
}

// Get returns the normalized embedding of text, computing it on first use.
// Failed computations are not cached.
func (c *Cache) Get(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if v, ok := c.items[text]; ok {
		c.hits++
		c.mu.Unlock()
		return v, nil
	}
	c.misses++
	c.mu.Unlock()

	v, err, _ := c.group.Do(text, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.items[text]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		raw, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("empty embedding for %q", text)
		}
		vec := normalize(raw)

		c.mu.Lock()
		c.items[text] = vec
		c.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", text, err)
	}
	return v.([]float32), nil
}

// Warm embeds every text up front and returns the first failure.
func (c *Cache) Warm(ctx context.Context, texts []string) error {
	for _, t := range texts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Get(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of cache usage.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Size: len(c.items), Hits: c.hits, Misses: c.misses}
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	norm := math.Sqrt(sum)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
