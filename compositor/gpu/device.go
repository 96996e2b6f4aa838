package gpu

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/compositor"
)

var (
	// ErrOverflow is returned by Buffer.Append when the vertices do not
	// fit.
	ErrOverflow = errors.New("vertex buffer full")
	// ErrReleased is returned when using a released buffer or device.
	ErrReleased = errors.New("released")
)

// Uniforms are the per-draw constants shared by both programs.
type Uniforms struct {
	Resolution  [2]float32
	Translation [2]float32
	Scale       float32
}

// Varyings carry per-vertex values from the vertex stage to the fragment
// stage. The device interpolates them across each triangle.
type Varyings [8]float32

// Program is a vertex and fragment stage over one vertex layout.
type Program interface {
	// Stride is the number of floats per vertex.
	Stride() int
	// Vertex maps one vertex to normalized device coordinates, y up, and
	// fills out.
	Vertex(in []float32, u *Uniforms, out *Varyings) (x, y float32)
	// Fragment shades one covered pixel from interpolated varyings and
	// returns straight (non-premultiplied) RGBA in [0,1]. A false return
	// discards the fragment.
	Fragment(v *Varyings, tex *Texture) ([4]float32, bool)
}

// Buffer is a vertex buffer with a fixed capacity. Vertices are consumed
// three at a time as triangles.
type Buffer struct {
	stride   int
	capacity int
	data     []float32
	released bool
}

func (b *Buffer) Stride() int { return b.stride }

// Capacity is the maximum number of vertices.
func (b *Buffer) Capacity() int { return b.capacity }

// Len is the number of vertices currently held.
func (b *Buffer) Len() int { return len(b.data) / b.stride }

// Reset empties the buffer without giving up its storage.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// Append adds whole vertices. It adds nothing and returns ErrOverflow if
// they would exceed the capacity.
func (b *Buffer) Append(v ...float32) error {
	if b.released {
		return ErrReleased
	}
	if len(v)%b.stride != 0 {
		return errors.Errorf("gpu: %d floats is not a whole number of %d-float vertices", len(v), b.stride)
	}
	if b.Len()+len(v)/b.stride > b.capacity {
		return ErrOverflow
	}
	b.data = append(b.data, v...)
	return nil
}

func (b *Buffer) vertex(i int) []float32 {
	return b.data[i*b.stride : (i+1)*b.stride]
}

// Texture is an RGBA image sampled with nearest-neighbour filtering.
type Texture struct {
	img      *image.RGBA
	released bool
}

func (t *Texture) Bounds() image.Rectangle { return t.img.Bounds() }

// Sample returns the texel at normalized coordinates (u, v), clamped to
// the edge, as straight RGBA in [0,1].
func (t *Texture) Sample(u, v float32) [4]float32 {
	b := t.img.Bounds()
	x := b.Min.X + clampInt(int(u*float32(b.Dx())), 0, b.Dx()-1)
	y := b.Min.Y + clampInt(int(v*float32(b.Dy())), 0, b.Dy()-1)
	c := t.img.RGBAAt(x, y)
	if c.A == 0 {
		return [4]float32{}
	}
	a := float32(c.A)
	// Un-premultiply.
	return [4]float32{float32(c.R) / a, float32(c.G) / a, float32(c.B) / a, a / 255}
}

// Release drops the texture's pixels.
func (t *Texture) Release() {
	t.released = true
	t.img = nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Device owns a drawing surface and executes programs over vertex
// buffers.
type Device interface {
	// NewBuffer allocates a buffer of capacity vertices of stride floats.
	NewBuffer(capacity, stride int) (*Buffer, error)
	NewTexture(img image.Image) (*Texture, error)
	Resize(width, height int) error
	Clear(c color.RGBA)
	// Draw rasterizes every complete triangle in b.
	Draw(p Program, b *Buffer, u Uniforms, tex *Texture) error
	Surface() *image.RGBA
	// Release frees the device and every buffer it allocated.
	Release() error
}

// SoftwareDevice rasterizes on the CPU into an *image.RGBA.
//
// Vertex positions are snapped to 1/256 pixel, and coverage follows the
// top-left rule, so triangles sharing an edge cover each pixel along it
// exactly once. Blending is source-over.
type SoftwareDevice struct {
	mu       sync.Mutex
	surface  *image.RGBA
	buffers  []*Buffer
	released bool
}

var _ Device = (*SoftwareDevice)(nil)

func NewSoftwareDevice(width, height int) (*SoftwareDevice, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(compositor.ErrInitialization, "gpu: software device of %dx%d", width, height)
	}
	return &SoftwareDevice{surface: image.NewRGBA(image.Rect(0, 0, width, height))}, nil
}

func (d *SoftwareDevice) NewBuffer(capacity, stride int) (*Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, ErrReleased
	}
	if capacity <= 0 || stride <= 0 {
		return nil, errors.Errorf("gpu: buffer of %d vertices of %d floats", capacity, stride)
	}
	// Storage grows on demand up to capacity.
	b := &Buffer{stride: stride, capacity: capacity}
	d.buffers = append(d.buffers, b)
	return b, nil
}

func (d *SoftwareDevice) NewTexture(img image.Image) (*Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, ErrReleased
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("gpu: empty texture")
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Texture{img: rgba}, nil
}

func (d *SoftwareDevice) Resize(width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	if width <= 0 || height <= 0 {
		return errors.Errorf("gpu: resize to %dx%d", width, height)
	}
	if b := d.surface.Bounds(); b.Dx() != width || b.Dy() != height {
		d.surface = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	return nil
}

func (d *SoftwareDevice) Clear(c color.RGBA) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	draw.Draw(d.surface, d.surface.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func (d *SoftwareDevice) Surface() *image.RGBA {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.surface
}

func (d *SoftwareDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	for _, b := range d.buffers {
		b.released = true
		b.data = nil
	}
	d.buffers = nil
	return nil
}

// screenVertex is a vertex after the vertex stage, in pixels, y down.
type screenVertex struct {
	x, y float64
	v    Varyings
}

func (d *SoftwareDevice) Draw(p Program, b *Buffer, u Uniforms, tex *Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released || b.released {
		return ErrReleased
	}
	if tex != nil && tex.released {
		return errors.Wrap(ErrReleased, "gpu: texture")
	}
	if b.stride != p.Stride() {
		return errors.Errorf("gpu: buffer stride %d, program wants %d", b.stride, p.Stride())
	}
	w := float64(d.surface.Bounds().Dx())
	h := float64(d.surface.Bounds().Dy())
	n := b.Len() / 3 * 3
	var tri [3]screenVertex
	for i := 0; i < n; i++ {
		sv := &tri[i%3]
		x, y := p.Vertex(b.vertex(i), &u, &sv.v)
		sv.x = snap((float64(x) + 1) / 2 * w)
		sv.y = snap((1 - float64(y)) / 2 * h)
		if i%3 == 2 {
			d.triangle(p, tex, tri[0], tri[1], tri[2])
		}
	}
	return nil
}

func snap(v float64) float64 {
	return math.Round(v*256) / 256
}

// edge is positive when p lies to the right of a->b in y-down space.
func edge(a, b *screenVertex, px, py float64) float64 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

// topLeft reports whether a->b is a top or left edge of a triangle with
// positive area.
func topLeft(a, b *screenVertex) bool {
	dx, dy := b.x-a.x, b.y-a.y
	return (dy == 0 && dx > 0) || dy < 0
}

func covers(w float64, tl bool) bool {
	return w > 0 || (w == 0 && tl)
}

func (d *SoftwareDevice) triangle(p Program, tex *Texture, a, b, c screenVertex) {
	area := edge(&a, &b, c.x, c.y)
	if area == 0 {
		return
	}
	if area < 0 {
		b, c = c, b
		area = -area
	}
	bounds := d.surface.Bounds()
	x0 := max(int(math.Floor(min(a.x, b.x, c.x))), bounds.Min.X)
	x1 := min(int(math.Ceil(max(a.x, b.x, c.x))), bounds.Max.X)
	y0 := max(int(math.Floor(min(a.y, b.y, c.y))), bounds.Min.Y)
	y1 := min(int(math.Ceil(max(a.y, b.y, c.y))), bounds.Max.Y)
	tlA, tlB, tlC := topLeft(&b, &c), topLeft(&c, &a), topLeft(&a, &b)

	var v Varyings
	for y := y0; y < y1; y++ {
		py := float64(y) + 0.5
		for x := x0; x < x1; x++ {
			px := float64(x) + 0.5
			wa := edge(&b, &c, px, py)
			wb := edge(&c, &a, px, py)
			wc := edge(&a, &b, px, py)
			if !covers(wa, tlA) || !covers(wb, tlB) || !covers(wc, tlC) {
				continue
			}
			la, lb, lc := float32(wa/area), float32(wb/area), float32(wc/area)
			for i := range v {
				v[i] = la*a.v[i] + lb*b.v[i] + lc*c.v[i]
			}
			src, ok := p.Fragment(&v, tex)
			if !ok {
				continue
			}
			d.blend(x, y, src)
		}
	}
}

// blend composites straight-alpha src over the pixel at (x, y).
func (d *SoftwareDevice) blend(x, y int, src [4]float32) {
	sa := clamp01(src[3])
	if sa == 0 {
		return
	}
	i := d.surface.PixOffset(x, y)
	pix := d.surface.Pix[i : i+4 : i+4]
	inv := 1 - sa
	for k := 0; k < 3; k++ {
		pix[k] = uint8(clamp01(src[k])*sa*255 + float32(pix[k])*inv + 0.5)
	}
	pix[3] = uint8(sa*255 + float32(pix[3])*inv + 0.5)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
