// Package gpu implements compositor.Renderer on top of a vertex-batch
// Device. Tiles go out as one batch of colored quads and entities as a
// second batch, with player avatars packed into one texture atlas.
//
// SoftwareDevice is the device shipped here. A hardware device plugs in
// by implementing Device.
package gpu

import (
	"image"
	"image/draw"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/compositor"
	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/hover"
	"bytefi.sh/pkg/worldmap/viewport"
)

type Config struct {
	// TileCapacity and EntityCapacity are buffer sizes in vertices.
	TileCapacity   int
	EntityCapacity int
}

func DefaultConfig() Config {
	return Config{
		TileCapacity:   1000000,
		EntityCapacity: 100000,
	}
}

// atlasColumns is the width of the avatar atlas in slots.
const atlasColumns = 16

type Renderer struct {
	dev     Device
	avatars compositor.AvatarSource

	mu       sync.Mutex
	tiles    *Buffer
	entities *Buffer
	labels   *compositor.Labeler

	atlasImg   *image.RGBA
	atlas      *Texture
	atlasSlots map[string]int
	atlasDirty bool

	monitor *compositor.Monitor
	frames  int
	dropped int
	closed  bool
}

var _ compositor.Renderer = (*Renderer)(nil)

// New wraps dev. Failures to set up the device are reported as
// compositor.ErrInitialization so hosts can fall back to the raster
// renderer.
func New(dev Device, avatars compositor.AvatarSource, cfg Config) (*Renderer, error) {
	if dev == nil {
		return nil, errors.Wrap(compositor.ErrInitialization, "gpu: no device")
	}
	def := DefaultConfig()
	if cfg.TileCapacity <= 0 {
		cfg.TileCapacity = def.TileCapacity
	}
	if cfg.EntityCapacity <= 0 {
		cfg.EntityCapacity = def.EntityCapacity
	}
	tiles, err := dev.NewBuffer(cfg.TileCapacity, TileStride)
	if err != nil {
		return nil, errors.Wrapf(compositor.ErrInitialization, "gpu: tile buffer: %v", err)
	}
	entities, err := dev.NewBuffer(cfg.EntityCapacity, EntityStride)
	if err != nil {
		return nil, errors.Wrapf(compositor.ErrInitialization, "gpu: entity buffer: %v", err)
	}
	return &Renderer{
		dev:        dev,
		avatars:    avatars,
		tiles:      tiles,
		entities:   entities,
		labels:     compositor.NewLabeler(),
		atlasSlots: map[string]int{},
	}, nil
}

// quad appends two triangles covering the square of half-size h around
// (x, z). attrs is called per corner with the corner's unit offsets and
// returns the remaining attributes.
func quad(b *Buffer, x, z, h float32, attrs func(ux, uz float32) []float32) error {
	corners := [6][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, -1}, {1, 1}, {-1, 1}}
	vs := make([]float32, 0, 6*b.Stride())
	for _, c := range corners {
		vs = append(vs, x+c[0]*h, z+c[1]*h)
		vs = append(vs, attrs(c[0], c[1])...)
	}
	return b.Append(vs...)
}

func boolf(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func (r *Renderer) RenderFrame(f *compositor.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return compositor.ErrClosed
	}
	if f.Transform.Scale <= 0 {
		return errors.Errorf("gpu: scale %v", f.Transform.Scale)
	}
	if err := r.dev.Resize(f.Viewport.Width, f.Viewport.Height); err != nil {
		return errors.Wrap(err, "gpu: resizing surface")
	}
	r.dev.Clear(compositor.Background)
	u := Uniforms{
		Resolution:  [2]float32{float32(f.Viewport.Width), float32(f.Viewport.Height)},
		Translation: [2]float32{float32(f.Transform.X), float32(f.Transform.Z)},
		Scale:       float32(f.Transform.Scale),
	}

	sample := r.monitor.StartFrame()
	drawn, dropped := r.fillTiles(f)
	if err := r.dev.Draw(tileProgram{}, r.tiles, u, nil); err != nil {
		return errors.Wrap(err, "gpu: drawing tiles")
	}
	sample.TileLayer(drawn)

	r.updateAtlas(f)
	dropped += r.fillEntities(f)
	if err := r.dev.Draw(entityProgram{}, r.entities, u, r.atlas); err != nil {
		return errors.Wrap(err, "gpu: drawing entities")
	}
	if dropped > 0 {
		glog.Warningf("gpu: vertex buffers full, dropped %d quads from frame", dropped)
		r.dropped += dropped
	}

	r.drawLabels(f)
	sample.EntityLayer()
	r.frames++
	sample.End()
	return nil
}

func (r *Renderer) fillTiles(f *compositor.Frame) (drawn, dropped int) {
	r.tiles.Reset()
	if f.Tiles == nil {
		return 0, 0
	}
	hovered, hasHover := f.HoveredTile()
	for cell := range f.Tiles {
		for _, t := range cell {
			if dropped > 0 {
				dropped++
				continue
			}
			h := boolf(hasHover && t.X == hovered.X && t.Z == hovered.Z)
			rgb := []float32{float32(t.R) / 255, float32(t.G) / 255, float32(t.B) / 255, h}
			err := quad(r.tiles, float32(t.X), float32(t.Z), gameworld.TileSize/2, func(_, _ float32) []float32 { return rgb })
			if err != nil {
				dropped++
				continue
			}
			drawn++
		}
	}
	return drawn, dropped
}

// updateAtlas packs newly available avatars into the atlas texture.
func (r *Renderer) updateAtlas(f *compositor.Frame) {
	if r.avatars == nil {
		return
	}
	const size = compositor.PlayerIconSize
	for _, p := range f.Players {
		if _, ok := r.atlasSlots[p.Name]; ok {
			continue
		}
		img, ok := r.avatars.Get(p.Name)
		if !ok {
			continue
		}
		slot := len(r.atlasSlots)
		rows := slot/atlasColumns + 1
		if r.atlasImg == nil || r.atlasImg.Bounds().Dy() < rows*size {
			grown := image.NewRGBA(image.Rect(0, 0, atlasColumns*size, rows*size))
			if r.atlasImg != nil {
				draw.Draw(grown, r.atlasImg.Bounds(), r.atlasImg, image.Point{}, draw.Src)
			}
			r.atlasImg = grown
		}
		dst := image.Rect(0, 0, size, size).Add(r.slotOrigin(slot))
		draw.Draw(r.atlasImg, dst, img, img.Bounds().Min, draw.Src)
		r.atlasSlots[p.Name] = slot
		r.atlasDirty = true
	}
	if !r.atlasDirty {
		return
	}
	tex, err := r.dev.NewTexture(r.atlasImg)
	if err != nil {
		glog.Warningf("gpu: uploading avatar atlas: %v", err)
		return
	}
	if r.atlas != nil {
		r.atlas.Release()
	}
	r.atlas = tex
	r.atlasDirty = false
}

func (r *Renderer) slotOrigin(slot int) image.Point {
	const size = compositor.PlayerIconSize
	return image.Pt(slot%atlasColumns*size, slot/atlasColumns*size)
}

// atlasUV returns the texture coordinate range of slot.
func (r *Renderer) atlasUV(slot int) (u0, v0, u1, v1 float32) {
	const size = compositor.PlayerIconSize
	b := r.atlasImg.Bounds()
	o := r.slotOrigin(slot)
	w, h := float32(b.Dx()), float32(b.Dy())
	return float32(o.X) / w, float32(o.Y) / h, float32(o.X+size) / w, float32(o.Y+size) / h
}

func (r *Renderer) fillEntities(f *compositor.Frame) (dropped int) {
	r.entities.Reset()
	// Quads keep their pixel size whatever the zoom.
	scale := float32(f.Transform.Scale)
	locHalf := float32(compositor.LocationIconSize) / 2 / scale
	playerHalf := float32(compositor.PlayerIconSize) / 2 / scale

	for _, l := range f.Locations {
		if !f.Visible(l.Dimension) {
			continue
		}
		c := playerLocationRGBA
		if l.ServerOwned() {
			c = serverLocationRGBA
		}
		h := boolf(f.Hover.IsLocation(l))
		err := quad(r.entities, float32(l.X), float32(l.Z), locHalf, func(ux, uz float32) []float32 {
			return []float32{ux, uz, c[0], c[1], c[2], c[3], KindLocation, h}
		})
		if err != nil {
			dropped++
		}
	}

	for _, p := range f.Players {
		if !f.Visible(p.Dimension) {
			continue
		}
		h := boolf(f.Hover.IsPlayer(p))
		c := playerLocationRGBA
		slot, textured := r.atlasSlots[p.Name]
		textured = textured && r.atlas != nil
		var u0, v0, u1, v1 float32
		if textured {
			u0, v0, u1, v1 = r.atlasUV(slot)
		}
		err := quad(r.entities, float32(p.X), float32(p.Z), playerHalf, func(ux, uz float32) []float32 {
			if !textured {
				return []float32{ux, uz, c[0], c[1], c[2], c[3], KindMarker, h}
			}
			tx, ty := u0, v0
			if ux > 0 {
				tx = u1
			}
			if uz > 0 {
				ty = v1
			}
			return []float32{tx, ty, 1, 1, 1, 1, KindAvatar, h}
		})
		if err != nil {
			dropped++
		}
	}
	return dropped
}

func (r *Renderer) drawLabels(f *compositor.Frame) {
	surface := r.dev.Surface()
	for _, l := range f.Locations {
		if !f.Visible(l.Dimension) {
			continue
		}
		px, py := viewport.WorldToViewport(l.X, l.Z, f.Transform, f.Viewport)
		c := compositor.LocationColor(l, f.Hover.IsLocation(l))
		r.labels.Draw(surface, l.Name, int(px), int(py)-compositor.LocationLabelOffset, c, l.ServerOwned())
	}
	for _, p := range f.Players {
		if !f.Visible(p.Dimension) {
			continue
		}
		px, py := viewport.WorldToViewport(p.X, p.Z, f.Transform, f.Viewport)
		c := compositor.LabelColor
		if f.Hover.IsPlayer(p) {
			c = compositor.HoverColor
		}
		r.labels.Draw(surface, p.Name, int(px), int(py)-compositor.PlayerLabelOffset, c, false)
	}
}

// Pick answers from the frame inputs; nothing is read back from the
// device.
func (r *Renderer) Pick(q hover.Query) hover.State {
	return hover.Pick(q)
}

func (r *Renderer) Image() *image.RGBA {
	return r.dev.Surface()
}

// SetMonitor makes the renderer report frame timings to m; nil stops it.
func (r *Renderer) SetMonitor(m *compositor.Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor = m
}

// Dropped is the number of quads left out of frames so far because a
// buffer was full.
func (r *Renderer) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Renderer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Cleanup releases the atlas, the buffers and the device.
func (r *Renderer) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.atlas != nil {
		r.atlas.Release()
		r.atlas = nil
	}
	r.atlasImg = nil
	r.labels.Close()
	return errors.Wrap(r.dev.Release(), "gpu: releasing device")
}
