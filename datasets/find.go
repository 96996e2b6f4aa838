// Package datasets locates published tile datasets, either in local
// directories or on an HTTP origin, and turns them into fetchers the tile
// cache can load through.
package datasets

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/tilecache"
)

// Extensions tried, in order, when a name is given without one.
var Extensions = []string{".json.gz", ".json"}

// Locator knows where datasets may live. Local directories win over the
// HTTP origin.
type Locator struct {
	Dirs    []string
	BaseURL string
	Client  HTTPDoer
}

// Default is the locator configured by SetupFlags.
var Default = &Locator{Dirs: defaultDirs()}

func defaultDirs() []string {
	dirs := []string{".", "datasets"}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), "datasets"))
	}
	return dirs
}

func candidates(name string) []string {
	if filepath.Ext(name) != "" {
		return []string{name}
	}
	out := make([]string, 0, len(Extensions))
	for _, ext := range Extensions {
		out = append(out, name+ext)
	}
	return out
}

// Find returns the local path for name, or "" if no search directory holds
// it.
func (l *Locator) Find(name string) string {
	for _, dir := range l.Dirs {
		for _, c := range candidates(name) {
			p := filepath.Join(dir, c)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				glog.V(2).Infof("datasets.Find(%q)=%s", name, p)
				return p
			}
		}
	}
	return ""
}

// Open returns a reader over the raw (possibly compressed) dataset.
func (l *Locator) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, errors.Wrapf(os.ErrInvalid, "datasets.Open(%q): bad name", name)
	}
	if p := l.Find(name); p != "" {
		f, err := os.Open(p)
		if err != nil {
			return nil, errors.Wrapf(err, "datasets.Open(%q)", name)
		}
		return f, nil
	}
	if l.BaseURL == "" {
		return nil, errors.Wrapf(os.ErrNotExist, "datasets.Open(%q): not in %v and no datasets_url", name, l.Dirs)
	}
	return l.openHTTP(ctx, name)
}

// Fetch returns a fetcher that opens and decodes name on every call.
func (l *Locator) Fetch(name string) tilecache.FetchFunc {
	return func(ctx context.Context) ([]gameworld.Tile, error) {
		rc, err := l.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		tiles, err := gameworld.DecodeDataset(rc)
		if err != nil {
			return nil, errors.Wrapf(err, "datasets: decoding %q", name)
		}
		return tiles, nil
	}
}

// ForDimension is Fetch keyed by the dimension's dataset name; it has the
// shape tilecache.LoadDimensions expects.
func (l *Locator) ForDimension(d gameworld.Dimension) tilecache.FetchFunc {
	return l.Fetch(d.DatasetKey())
}

// Open opens name through the Default locator.
func Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return Default.Open(ctx, name)
}

// Fetch builds a fetcher on the Default locator.
func Fetch(name string) tilecache.FetchFunc {
	return Default.Fetch(name)
}
