package datasets

import (
	"context"

	"github.com/golang/glog"

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/tilecache"
)

// Load pulls every dimension's dataset through c and indexes it. A
// dimension that could not be loaded gets an empty index and the first
// such error is returned alongside the complete map.
func (l *Locator) Load(ctx context.Context, c *tilecache.Cache) (map[gameworld.Dimension]*spatial.Index, error) {
	sets, err := tilecache.LoadDimensions(ctx, c, l.ForDimension)
	out := make(map[gameworld.Dimension]*spatial.Index, len(gameworld.Dimensions))
	for _, d := range gameworld.Dimensions {
		idx := &spatial.Index{}
		g := idx.Rebuild(sets[d], spatial.DefaultCellSize)
		glog.Infof("datasets: %s: %d tiles", d.Title(), g.Len())
		out[d] = idx
	}
	return out, err
}
