// Package avatar loads player head images in the background and hands
// them to renderers once they are ready.
package avatar

import (
	"context"
	"fmt"
	"image"
	_ "image/png"
	"net/http"
	"net/url"
	"sync"

	"github.com/golang/glog"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"bytefi.sh/pkg/worldmap/compositor"
)

const DefaultBaseURL = "https://mc-heads.net/avatar"

// Fetcher retrieves the avatar of one player.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (image.Image, error)
}

// HTTPFetcher downloads avatars from an mc-heads compatible service,
// requesting {BaseURL}/{name}/{Size}.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
	// Size is the requested edge in pixels; zero means PlayerIconSize.
	Size int
}

func (h *HTTPFetcher) Fetch(ctx context.Context, name string) (image.Image, error) {
	base := h.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	size := h.Size
	if size <= 0 {
		size = compositor.PlayerIconSize
	}
	u := fmt.Sprintf("%s/%s/%d", base, url.PathEscape(name), size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "avatar request for %q", name)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching avatar of %q", name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching avatar of %q: %s", name, resp.Status)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding avatar of %q", name)
	}
	return img, nil
}

type Options struct {
	// Limiter paces requests. Nil means 5 per second with a burst of 10.
	Limiter *rate.Limiter
	// Size is the edge of the square the avatars are scaled to.
	Size int
	// OnReady is called, from a background goroutine, when an avatar
	// finishes loading. Hosts use it to request a redraw.
	OnReady func(name string)
}

// Cache is a compositor.AvatarSource. Get never blocks; a miss starts a
// load and the avatar shows up in a later frame. A failed load is
// forgotten, so the next Get tries again.
type Cache struct {
	fetcher Fetcher
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	group  singleflight.Group

	mu      sync.Mutex
	ready   map[string]image.Image
	loading map[string]bool
	closed  bool
}

var _ compositor.AvatarSource = (*Cache)(nil)

func New(f Fetcher, opts Options) *Cache {
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(5, 10)
	}
	if opts.Size <= 0 {
		opts.Size = compositor.PlayerIconSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		fetcher: f,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		ready:   map[string]image.Image{},
		loading: map[string]bool{},
	}
}

// Get returns the avatar of name if it has been loaded.
func (c *Cache) Get(name string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.ready[name]; ok {
		return img, true
	}
	if c.closed || c.loading[name] {
		return nil, false
	}
	c.loading[name] = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Load(c.ctx, name); err != nil && c.ctx.Err() == nil {
			glog.Warningf("avatar: %v", err)
		}
	}()
	return nil, false
}

// Load fetches the avatar of name, waiting for it. Concurrent loads of
// the same name share one request.
func (c *Cache) Load(ctx context.Context, name string) (image.Image, error) {
	c.mu.Lock()
	if img, ok := c.ready[name]; ok {
		c.mu.Unlock()
		return img, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for avatar rate limit")
		}
		img, err := c.fetcher.Fetch(ctx, name)
		if err != nil {
			return nil, err
		}
		img = resize.Resize(uint(c.opts.Size), uint(c.opts.Size), img, resize.Bilinear)
		c.mu.Lock()
		c.ready[name] = img
		c.mu.Unlock()
		if c.opts.OnReady != nil {
			c.opts.OnReady(name)
		}
		return img, nil
	})

	c.mu.Lock()
	delete(c.loading, name)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

// Len is the number of avatars ready.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ready)
}

// Close cancels outstanding loads and waits for them.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
	return nil
}
