package terrain

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// Horizontal chunk size in voxels (X and Z).
	ChunkSize = 32
	// Vertical chunk size in voxels (Y).
	ChunkHeight = 32
)

// ChunkCoord identifies a chunk in the infinite chunk grid.
type ChunkCoord struct {
	X, Y, Z int
}

// Key returns the canonical string form used as a cache/persistence key.
func (c ChunkCoord) Key() string {
	return fmt.Sprintf("%d:%d:%d", c.X, c.Y, c.Z)
}

func (c ChunkCoord) String() string {
	return "(" + c.Key() + ")"
}

// Offset returns the coordinate shifted by (dx, dy, dz) chunks.
func (c ChunkCoord) Offset(dx, dy, dz int) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// WorldOrigin returns the world-space position of the chunk's minimum corner.
func (c ChunkCoord) WorldOrigin() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(c.X * ChunkSize),
		float32(c.Y * ChunkHeight),
		float32(c.Z * ChunkSize),
	}
}

// ChebyshevXZ returns the horizontal Chebyshev distance to another coordinate.
func (c ChunkCoord) ChebyshevXZ(o ChunkCoord) int {
	dx := absInt(c.X - o.X)
	dz := absInt(c.Z - o.Z)
	return max(dx, dz)
}

// CoordAt returns the chunk coordinate containing the given world position.
func CoordAt(pos mgl32.Vec3) ChunkCoord {
	return ChunkCoord{
		X: floorDiv(floorInt(pos.X()), ChunkSize),
		Y: floorDiv(floorInt(pos.Y()), ChunkHeight),
		Z: floorDiv(floorInt(pos.Z()), ChunkSize),
	}
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// mod returns the positive remainder of a/b.
func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func floorInt(f float32) int {
	i := int(f)
	if f < 0 && float32(i) != f {
		i--
	}
	return i
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
