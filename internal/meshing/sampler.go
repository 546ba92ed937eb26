package meshing

import (
	"math"

	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

// NeighborSet carries up to six read-only neighbor grids, one per face
// direction. A nil field means that neighbor is not available; the sampler
// falls back to extrapolation for samples that would live there.
type NeighborSet struct {
	XNeg, XPos *terrain.DensityGrid
	YNeg, YPos *terrain.DensityGrid
	ZNeg, ZPos *terrain.DensityGrid
}

// fieldSampler resolves density samples around one chunk: local grid first,
// then the mapped plane of a face neighbor. Sample planes overlap by one, so
// local index S maps to a neighbor's index 0 and S+1 to its index 1.
type fieldSampler struct {
	grid      *terrain.DensityGrid
	neighbors NeighborSet
}

// sample returns the density at grid index (ix, iy, iz), which may lie up to
// one sample outside the local grid on any axis. ok is false when the sample
// is unresolvable (no neighbor on that face, or the index overflows more
// than one axis without the matching neighbors).
func (s fieldSampler) sample(ix, iy, iz int) (float32, bool) {
	if s.grid.InRange(ix, iy, iz) {
		return s.grid.At(ix, iy, iz), true
	}

	// Resolve one overflowing axis at a time against the face neighbor.
	switch {
	case ix < 0:
		return sampleNeighbor(s.neighbors.XNeg, ix+terrain.ChunkSize, iy, iz)
	case ix >= terrain.GridSizeXZ:
		return sampleNeighbor(s.neighbors.XPos, ix-terrain.ChunkSize, iy, iz)
	case iy < 0:
		return sampleNeighbor(s.neighbors.YNeg, ix, iy+terrain.ChunkHeight, iz)
	case iy >= terrain.GridSizeY:
		return sampleNeighbor(s.neighbors.YPos, ix, iy-terrain.ChunkHeight, iz)
	case iz < 0:
		return sampleNeighbor(s.neighbors.ZNeg, ix, iy, iz+terrain.ChunkSize)
	default:
		return sampleNeighbor(s.neighbors.ZPos, ix, iy, iz-terrain.ChunkSize)
	}
}

func sampleNeighbor(g *terrain.DensityGrid, ix, iy, iz int) (float32, bool) {
	if g == nil || !g.InRange(ix, iy, iz) {
		return 0, false
	}
	return g.At(ix, iy, iz), true
}

// overshoot measures how far outside the local sample range an index lies,
// summed over axes. Used as the distance term of the decay fallback.
func overshoot(ix, iy, iz int) int {
	d := 0
	d += axisOvershoot(ix, terrain.GridSizeXZ)
	d += axisOvershoot(iy, terrain.GridSizeY)
	d += axisOvershoot(iz, terrain.GridSizeXZ)
	return d
}

func axisOvershoot(i, size int) int {
	if i < 0 {
		return -i
	}
	if i >= size {
		return i - size + 1
	}
	return 0
}

// decayFill extrapolates an unresolvable sample from the mean of the known
// cube corners, decaying smoothly with distance so missing neighbors produce
// a gentle continuation of the surface instead of a hard clamp.
func decayFill(known float32, dist int, decayRate float64) float32 {
	return known * float32(math.Exp(-decayRate*float64(dist)))
}
