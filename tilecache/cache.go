// Package tilecache keeps tile datasets in durable storage so that a
// restart does not have to download them again.
//
// A stored dataset is fresh while it is younger than the TTL and carries
// the current format version. Anything else is fetched again, and the
// fetched copy replaces the stored one. Storage is an optimisation: when
// it fails, loads still succeed through the fetch function.
package tilecache

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"bytefi.sh/pkg/worldmap/clock"
	"bytefi.sh/pkg/worldmap/gameworld"
)

const (
	// Version tags records written by this package. Records with any
	// other version are refetched.
	Version = "1.0"
	// DefaultTTL is how long a stored dataset stays fresh.
	DefaultTTL = 30 * 24 * time.Hour
	keyPrefix  = "biome_cache_"
)

// KeyFor names the record holding the dataset of d.
func KeyFor(d gameworld.Dimension) string {
	return keyPrefix + d.DatasetKey()
}

type Config struct {
	TTL     time.Duration
	Version string
	// Retries is how many times a storage operation is attempted.
	Retries int
	// RetryBase is the first delay between attempts; it doubles each
	// time up to RetryMax.
	RetryBase time.Duration
	RetryMax  time.Duration
	// FetchTimeout bounds a shared load, which no single caller can
	// cancel.
	FetchTimeout time.Duration
	Clock        clock.Clock
}

func DefaultConfig() Config {
	return Config{
		TTL:          DefaultTTL,
		Version:      Version,
		Retries:      3,
		RetryBase:    100 * time.Millisecond,
		RetryMax:     time.Second,
		FetchTimeout: 2 * time.Minute,
		Clock:        clock.Real,
	}
}

// FetchFunc retrieves a dataset from its origin.
type FetchFunc func(ctx context.Context) ([]gameworld.Tile, error)

type Cache struct {
	store Store
	cfg   Config
	group singleflight.Group
}

func New(store Store, cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	return &Cache{store: store, cfg: cfg}
}

// Load returns the dataset under key, from storage if fresh, otherwise
// from fetch. Concurrent loads of one key share a single fetch.
//
// The shared fetch keeps the values of the first caller's ctx but not its
// cancellation, and is bounded by FetchTimeout instead. A caller whose ctx
// ends returns early and the others keep waiting.
func (c *Cache) Load(ctx context.Context, key string, fetch FetchFunc) ([]gameworld.Tile, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()
		return c.load(shared, key, fetch)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			glog.V(2).Infof("tilecache: %s: shared load", key)
		}
		return res.Val.([]gameworld.Tile), nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "loading %s", key)
	}
}

func (c *Cache) load(ctx context.Context, key string, fetch FetchFunc) ([]gameworld.Tile, error) {
	var (
		rec   Record
		found bool
	)
	err := c.retry(ctx, "get "+key, func() error {
		var err error
		rec, found, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		glog.Warningf("tilecache: treating %s as missing: %v", key, err)
		found = false
	}
	if found && c.fresh(rec) {
		glog.V(2).Infof("tilecache: %s: hit, %d tiles", key, len(rec.Data))
		return rec.Data, nil
	}

	tiles, err := fetch(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", key)
	}
	rec = Record{Data: tiles, Timestamp: c.cfg.Clock.Now(), Version: c.cfg.Version}
	err = c.retry(ctx, "put "+key, func() error {
		return c.store.Put(ctx, key, rec)
	})
	if err != nil {
		glog.Warningf("tilecache: not persisting %s: %v", key, err)
	}
	return tiles, nil
}

func (c *Cache) fresh(rec Record) bool {
	return rec.Version == c.cfg.Version && c.cfg.Clock.Now().Sub(rec.Timestamp) <= c.cfg.TTL
}

// Stale returns whatever is stored under key, whatever its age or
// version.
func (c *Cache) Stale(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := c.retry(ctx, "get "+key, func() error {
		var err error
		rec, found, err = c.store.Get(ctx, key)
		return err
	})
	return rec, found, err
}

// retry runs op up to Retries times, backing off between failures.
func (c *Cache) retry(ctx context.Context, what string, op func() error) error {
	var err error
	delay := c.cfg.RetryBase
	for i := 0; i < c.cfg.Retries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil || i == c.cfg.Retries-1 {
			break
		}
		glog.Warningf("tilecache: %s failed (attempt %d/%d), retrying in %v: %v", what, i+1, c.cfg.Retries, delay, err)
		if werr := c.sleep(ctx, delay); werr != nil {
			return werr
		}
		delay = min(delay*2, c.cfg.RetryMax)
	}
	return err
}

func (c *Cache) sleep(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	t := c.cfg.Clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// LoadWithFallback loads key and, if fetching fails, falls back to the
// stored record even when it is expired or from another version.
func LoadWithFallback(ctx context.Context, c *Cache, key string, fetch FetchFunc) ([]gameworld.Tile, error) {
	tiles, err := c.Load(ctx, key, fetch)
	if err == nil {
		return tiles, nil
	}
	rec, found, serr := c.Stale(ctx, key)
	if serr != nil || !found {
		return nil, err
	}
	glog.Warningf("tilecache: using stale %s from %v: %v", key, rec.Timestamp, err)
	return rec.Data, nil
}

// LoadDimensions loads the dataset of every dimension concurrently.
// Dimensions that have neither a fetchable nor a stored dataset come back
// empty; the returned error is the first such failure.
func LoadDimensions(ctx context.Context, c *Cache, fetchFor func(gameworld.Dimension) FetchFunc) (map[gameworld.Dimension][]gameworld.Tile, error) {
	var (
		g   errgroup.Group
		mu  sync.Mutex
		out = make(map[gameworld.Dimension][]gameworld.Tile, len(gameworld.Dimensions))
	)
	for _, d := range gameworld.Dimensions {
		g.Go(func() error {
			tiles, err := LoadWithFallback(ctx, c, KeyFor(d), fetchFor(d))
			mu.Lock()
			out[d] = tiles
			mu.Unlock()
			if err != nil {
				glog.Errorf("tilecache: no %s dataset: %v", d.Title(), err)
				return errors.Wrapf(err, "loading %s", d)
			}
			return nil
		})
	}
	return out, g.Wait()
}
