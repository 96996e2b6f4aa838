package gpu

// Vertex layouts, in floats per vertex.
const (
	// x, z, r, g, b, hovered
	TileStride = 6
	// x, z, tx, ty, r, g, b, a, kind, hovered
	EntityStride = 10
)

// Entity kinds, stored in the kind attribute.
const (
	// KindAvatar samples the avatar atlas at (tx, ty).
	KindAvatar = 0
	// KindLocation is a disc in color; (tx, ty) run from -1 to 1 across
	// the quad.
	KindLocation = 1
	// KindMarker is a disc for a player whose avatar is not loaded.
	KindMarker = 2
)

const tileAlpha = 0.8

var hoverTint = [3]float32{1, 0.7, 0}

// Entity colors in the GPU path.
var (
	serverLocationRGBA = [4]float32{1, 0.7, 0.03, 1}
	playerLocationRGBA = [4]float32{0.23, 0.79, 0.97, 1}
)

func mix(a, b, t float32) float32 { return a*(1-t) + b*t }

func tint(c [4]float32, hovered float32) [4]float32 {
	if hovered < 0.5 {
		return c
	}
	for i := 0; i < 3; i++ {
		c[i] = mix(c[i], hoverTint[i], 0.3)
	}
	return c
}

// toClip maps a world position to normalized device coordinates.
func toClip(x, z float32, u *Uniforms) (float32, float32) {
	cx := (x - u.Translation[0]) * u.Scale / (u.Resolution[0] / 2)
	cy := (z - u.Translation[1]) * u.Scale / (u.Resolution[1] / 2)
	return cx, -cy
}

type tileProgram struct{}

func (tileProgram) Stride() int { return TileStride }

func (tileProgram) Vertex(in []float32, u *Uniforms, out *Varyings) (float32, float32) {
	out[0], out[1], out[2], out[3] = in[2], in[3], in[4], in[5]
	return toClip(in[0], in[1], u)
}

func (tileProgram) Fragment(v *Varyings, _ *Texture) ([4]float32, bool) {
	return tint([4]float32{v[0], v[1], v[2], tileAlpha}, v[3]), true
}

type entityProgram struct{}

func (entityProgram) Stride() int { return EntityStride }

func (entityProgram) Vertex(in []float32, u *Uniforms, out *Varyings) (float32, float32) {
	copy(out[:], in[2:10])
	return toClip(in[0], in[1], u)
}

func (entityProgram) Fragment(v *Varyings, tex *Texture) ([4]float32, bool) {
	tx, ty := v[0], v[1]
	c := [4]float32{v[2], v[3], v[4], v[5]}
	kind, hovered := v[6], v[7]
	if kind < 0.5 && tex != nil {
		return tint(tex.Sample(tx, ty), hovered), true
	}
	if tx*tx+ty*ty > 1 {
		return c, false
	}
	return tint(c, hovered), true
}
