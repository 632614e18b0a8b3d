package features

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/maastricht-university/codebook-trainer/cache"
)

// Cached memoises an Extractor in a content-addressed store. The key covers
// the recording's absolute path, size, modification time and the analysis
// parameters. With Force set every call re-extracts and overwrites. Fresh
// analyses are validated against Params.Lsf.Order before they are stored.
type Cached struct {
	Extractor Extractor
	Store     cache.Store
	Params    Params
	Force     bool

	hits, misses atomic.Int64
}

// Stats returns the number of cache hits and misses so far.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cached) Extract(ctx context.Context, path string) (*Analysis, error) {
	key, err := c.key(path)
	if err != nil {
		return nil, err
	}
	if !c.Force {
		raw, err := c.Store.Get(ctx, key)
		switch {
		case err == nil:
			var a Analysis
			if err := msgpack.Unmarshal(raw, &a); err == nil {
				c.hits.Add(1)
				return &a, nil
			}
			// A corrupt entry is recomputed and overwritten.
		case !errors.Is(err, cache.ErrNotFound):
			return nil, fmt.Errorf("cache get: %w", err)
		}
	}
	c.misses.Add(1)

	a, err := c.Extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(c.Params.Lsf.Order); err != nil {
		return nil, err
	}
	raw, err := msgpack.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("cache encode: %w", err)
	}
	if err := c.Store.Set(ctx, key, raw); err != nil {
		return nil, fmt.Errorf("cache set: %w", err)
	}
	return a, nil
}

func (c *Cached) key(path string) (cache.Key, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s", abs, st.Size(), st.ModTime().UnixNano(), c.Params.Fingerprint())
	return cache.Key{"features", hex.EncodeToString(h.Sum(nil))}, nil
}
