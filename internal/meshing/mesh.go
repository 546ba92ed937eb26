package meshing

import (
	"github.com/go-gl/mathgl/mgl32"
)

// VertexStride is the number of float32 per vertex in the interleaved view
// (pos.xyz + normal.xyz).
const VertexStride = 6

// TriangleBuffer is a triangle soup in world space: three consecutive
// positions form one triangle. An empty buffer is a valid result for a chunk
// the surface does not cross.
type TriangleBuffer struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
}

// Empty reports whether the buffer holds no triangles.
func (b *TriangleBuffer) Empty() bool {
	return b == nil || len(b.Positions) == 0
}

// TriangleCount returns the number of triangles in the buffer.
func (b *TriangleBuffer) TriangleCount() int {
	if b == nil {
		return 0
	}
	return len(b.Positions) / 3
}

// Interleaved packs positions and normals into the stride-6 float layout the
// rendering and physics layers consume.
func (b *TriangleBuffer) Interleaved() []float32 {
	if b == nil {
		return nil
	}
	out := make([]float32, 0, len(b.Positions)*VertexStride)
	for i, p := range b.Positions {
		n := b.Normals[i]
		out = append(out, p.X(), p.Y(), p.Z(), n.X(), n.Y(), n.Z())
	}
	return out
}
