package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/tilecache"
	"bytefi.sh/pkg/worldmap/ttesting"
)

var tiles = []gameworld.Tile{
	{X: 0, Z: 0, Label: "plains", R: 141, G: 179, B: 96},
	{X: 48, Z: 0, Label: "dark_forest", R: 64, G: 81, B: 26},
}

type fixture struct {
	h    *Handler
	r    *mux.Router
	snap atomic.Pointer[gameworld.Snapshot]
}

func newFixture(t *testing.T, datasets func(gameworld.Dimension) tilecache.FetchFunc) *fixture {
	t.Helper()
	idx := &spatial.Index{}
	idx.Rebuild(tiles, spatial.DefaultCellSize)

	f := &fixture{r: mux.NewRouter()}
	f.snap.Store(&gameworld.Snapshot{
		Players:   []gameworld.Player{{Name: "steve", Dimension: gameworld.Overworld}},
		Locations: []gameworld.Location{{Name: "Spawn", Owner: gameworld.OwnerServer, X: -48, Dimension: gameworld.Overworld}},
	})
	h, err := NewHandler(map[gameworld.Dimension]*spatial.Index{gameworld.Overworld: idx}, SnapshotFunc(f.snap.Load), datasets, DefaultConfig())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	h.RegisterRoutes(f.r)
	f.h = h
	return f
}

func (f *fixture) get(path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.r.ServeHTTP(rec, req)
	return rec
}

func TestMap(t *testing.T) {
	f := newFixture(t, nil)
	const path = "/map.png?dim=ow&w=200&h=100&scale=1"

	rec := f.get(path)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	ttesting.AssertEqualInt(t, "width", img.Bounds().Dx(), 200)
	ttesting.AssertEqualInt(t, "height", img.Bounds().Dy(), 100)

	tag := rec.Header().Get("ETag")
	if !strings.HasPrefix(tag, `W/"map:`) {
		t.Fatalf("ETag = %q, want weak map tag", tag)
	}

	t.Run("not modified", func(t *testing.T) {
		rec := f.get(path, "If-None-Match", tag)
		ttesting.AssertEqualInt(t, "status", rec.Code, http.StatusNotModified)
		ttesting.AssertEqualInt(t, "body length", rec.Body.Len(), 0)
		ttesting.AssertEqualString(t, "ETag", rec.Header().Get("ETag"), tag)
	})

	t.Run("same inputs same tag", func(t *testing.T) {
		ttesting.AssertEqualString(t, "ETag", f.get(path).Header().Get("ETag"), tag)
	})

	t.Run("entities change the tag", func(t *testing.T) {
		f.snap.Store(&gameworld.Snapshot{
			Players: []gameworld.Player{{Name: "steve", X: 30, Dimension: gameworld.Overworld}},
		})
		rec := f.get(path, "If-None-Match", tag)
		ttesting.AssertEqualInt(t, "status", rec.Code, http.StatusOK)
		if rec.Header().Get("ETag") == tag {
			t.Errorf("ETag unchanged after the snapshot changed")
		}
	})

	t.Run("transform changes the tag", func(t *testing.T) {
		if f.get(path+"&x=16").Header().Get("ETag") == tag {
			t.Errorf("ETag unchanged after panning")
		}
	})
}

func TestMapBadRequest(t *testing.T) {
	f := newFixture(t, nil)
	for _, q := range []string{"dim=mars", "scale=big", "w=0", "h=99999", "tilehover=maybe", "px=left&py=1"} {
		t.Run(q, func(t *testing.T) {
			ttesting.AssertEqualInt(t, "status", f.get("/map.png?"+q).Code, http.StatusBadRequest)
		})
	}
}

func TestHover(t *testing.T) {
	f := newFixture(t, nil)
	base := "/hover?w=200&h=100&scale=1"

	decode := func(t *testing.T, rec *httptest.ResponseRecorder) HoverResponse {
		t.Helper()
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		var resp HoverResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		return resp
	}

	t.Run("player", func(t *testing.T) {
		resp := decode(t, f.get(base+"&px=103&py=48"))
		ttesting.AssertEqualString(t, "kind", resp.Kind, "player")
		if resp.Player == nil || resp.Player.Name != "steve" {
			t.Errorf("player = %+v", resp.Player)
		}
		ttesting.AssertNear(t, "world x", resp.WorldX, 3, 1e-9)
		ttesting.AssertNear(t, "world z", resp.WorldZ, -2, 1e-9)
	})
	t.Run("location", func(t *testing.T) {
		resp := decode(t, f.get(base+"&px=60&py=50"))
		ttesting.AssertEqualString(t, "kind", resp.Kind, "location")
		ttesting.AssertEqualString(t, "description", resp.Description, "Server Location")
	})
	t.Run("tile", func(t *testing.T) {
		resp := decode(t, f.get(base+"&px=152&py=54&tilehover=true"))
		ttesting.AssertEqualString(t, "kind", resp.Kind, "tile")
		ttesting.AssertEqualString(t, "description", resp.Description, "Dark Forest")
		if diff := cmp.Diff(&tiles[1], resp.Tile); diff != "" {
			t.Errorf("tile (-want +got):\n%s", diff)
		}
	})
	t.Run("tile hover off", func(t *testing.T) {
		resp := decode(t, f.get(base+"&px=152&py=54"))
		ttesting.AssertEqualString(t, "kind", resp.Kind, "none")
	})
	t.Run("no pointer", func(t *testing.T) {
		ttesting.AssertEqualInt(t, "status", f.get(base).Code, http.StatusBadRequest)
	})
}

func TestDatasets(t *testing.T) {
	var fetches int32
	f := newFixture(t, func(d gameworld.Dimension) tilecache.FetchFunc {
		return func(ctx context.Context) ([]gameworld.Tile, error) {
			atomic.AddInt32(&fetches, 1)
			if d == gameworld.End {
				return nil, errors.New("origin down")
			}
			return tiles, nil
		}
	})

	rec := f.get("/datasets/ow.json.gz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	ttesting.AssertEqualString(t, "Cache-Control", rec.Header().Get("Cache-Control"), DatasetCacheControl)
	got, err := gameworld.DecodeDataset(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if diff := cmp.Diff(tiles, got); diff != "" {
		t.Errorf("tiles (-want +got):\n%s", diff)
	}

	tag := rec.Header().Get("ETag")
	ttesting.AssertEqualInt(t, "revalidated", f.get("/datasets/ow.json.gz", "If-None-Match", tag).Code, http.StatusNotModified)
	ttesting.AssertEqualInt(t, "unknown", f.get("/datasets/moon.json.gz").Code, http.StatusNotFound)
	ttesting.AssertEqualInt(t, "origin failure", f.get("/datasets/end.json.gz").Code, http.StatusBadGateway)

	t.Run("no datasets", func(t *testing.T) {
		ttesting.AssertEqualInt(t, "status", newFixture(t, nil).get("/datasets/ow.json.gz").Code, http.StatusNotFound)
	})
}

func TestView(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get("/view?w=64&h=32&px=35&py=16")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	for _, want := range []string{`src="data:image/png;base64,`, `width="64"`, "Overworld at 0, 0", "1 players, 1 locations", "steve"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}
