package meshing

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

const (
	// Surface iso-threshold: samples >= 0 are solid.
	isoLevel = 0.0

	// Vertices this close to a chunk-boundary plane are forced exactly onto
	// it before rounding.
	snapEpsilon = 1e-3

	// All vertex coordinates are rounded to this many decimals (local space,
	// before the integer world translation) so independently meshed
	// neighbors agree bit-for-bit on shared-face vertices.
	roundFactor = 1000.0

	// Decay rate of the boundary extrapolation fallback. Empirically tuned;
	// the exact curve is not load-bearing.
	extrapolationDecay = 0.35
)

// Triangulator converts density grids into triangle buffers via marching
// cubes. It is stateless and safe for concurrent use from worker goroutines.
type Triangulator struct{}

// NewTriangulator returns a ready Triangulator.
func NewTriangulator() *Triangulator {
	return &Triangulator{}
}

// Triangulate meshes one chunk. The cube loop covers x,z in [0,S] and
// y in [0,H]: the far layer reads the matching neighbor planes when present
// (reproducing the neighbor's first cube row bit-for-bit, which overlaps
// invisibly), and extrapolates a decaying skin when it is not, so unloaded
// borders never show holes. Returns an empty buffer when no surface crosses
// the chunk.
func (t *Triangulator) Triangulate(coord terrain.ChunkCoord, grid *terrain.DensityGrid, neighbors NeighborSet) *TriangleBuffer {
	s := fieldSampler{grid: grid, neighbors: neighbors}

	var local []mgl32.Vec3

	var corners [8]float32
	var resolved [8]bool

	for cy := 0; cy <= terrain.ChunkHeight; cy++ {
		for cz := 0; cz <= terrain.ChunkSize; cz++ {
			for cx := 0; cx <= terrain.ChunkSize; cx++ {
				missing := 0
				knownSum := float32(0)
				for i, off := range cornerOffsets {
					v, ok := s.sample(cx+off[0], cy+off[1], cz+off[2])
					corners[i] = v
					resolved[i] = ok
					if ok {
						knownSum += v
					} else {
						missing++
					}
				}
				if missing == 8 {
					continue
				}
				if missing > 0 {
					knownAvg := knownSum / float32(8-missing)
					for i, off := range cornerOffsets {
						if resolved[i] {
							continue
						}
						if missing < 3 {
							// Few gaps: the plain average keeps the surface
							// continuous at the cost of minor local error.
							corners[i] = knownAvg
						} else {
							d := overshoot(cx+off[0], cy+off[1], cz+off[2])
							corners[i] = decayFill(knownAvg, d, extrapolationDecay)
						}
					}
				}

				caseIndex := 0
				for i := range corners {
					if corners[i] >= isoLevel {
						caseIndex |= 1 << i
					}
				}
				edges := caseEdges[caseIndex]
				if edges == 0 {
					continue
				}

				// Interpolate a vertex on every crossed edge.
				var edgeVerts [12]mgl32.Vec3
				for e := 0; e < 12; e++ {
					if edges&(1<<uint(e)) == 0 {
						continue
					}
					a := cornerOffsets[edgeCornerA[e]]
					b := cornerOffsets[edgeCornerB[e]]
					va := corners[edgeCornerA[e]]
					vb := corners[edgeCornerB[e]]
					frac := isoFraction(va, vb)
					edgeVerts[e] = mgl32.Vec3{
						float32(cx) + float32(a[0]) + frac*float32(b[0]-a[0]),
						float32(cy) + float32(a[1]) + frac*float32(b[1]-a[1]),
						float32(cz) + float32(a[2]) + frac*float32(b[2]-a[2]),
					}
				}

				for _, e := range triTable[caseIndex] {
					local = append(local, edgeVerts[e])
				}
			}
		}
	}

	if len(local) == 0 {
		return &TriangleBuffer{}
	}

	// Snap to boundary planes and round, still in local space, then
	// translate by the exact integer chunk offset.
	origin := coord.WorldOrigin()
	positions := make([]mgl32.Vec3, len(local))
	for i, v := range local {
		positions[i] = mgl32.Vec3{
			snapRound(v.X(), terrain.ChunkSize) + origin.X(),
			snapRound(v.Y(), terrain.ChunkHeight) + origin.Y(),
			snapRound(v.Z(), terrain.ChunkSize) + origin.Z(),
		}
	}

	return &TriangleBuffer{
		Positions: positions,
		Normals:   vertexNormals(positions),
	}
}

// isoFraction returns where the surface crosses the edge from va to vb.
func isoFraction(va, vb float32) float32 {
	diff := vb - va
	if diff == 0 {
		return 0.5
	}
	f := (isoLevel - va) / diff
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// snapRound forces near-boundary coordinates exactly onto the boundary
// plane, then rounds to fixed decimal precision.
func snapRound(v float32, boundary int) float32 {
	if v > -snapEpsilon && v < snapEpsilon {
		v = 0
	} else if b := float32(boundary); v > b-snapEpsilon && v < b+snapEpsilon {
		v = b
	}
	return float32(math.Round(float64(v)*roundFactor) / roundFactor)
}

// vertexNormals computes smooth per-vertex normals from the merged geometry:
// face normals are accumulated per unique (already rounded) position, then
// normalized.
func vertexNormals(positions []mgl32.Vec3) []mgl32.Vec3 {
	acc := make(map[mgl32.Vec3]mgl32.Vec3, len(positions))
	for i := 0; i+2 < len(positions); i += 3 {
		a, b, c := positions[i], positions[i+1], positions[i+2]
		// Cross product length is twice the triangle area, so larger faces
		// weigh more, which is what we want.
		fn := b.Sub(a).Cross(c.Sub(a))
		acc[a] = acc[a].Add(fn)
		acc[b] = acc[b].Add(fn)
		acc[c] = acc[c].Add(fn)
	}

	normals := make([]mgl32.Vec3, len(positions))
	for i, p := range positions {
		n := acc[p]
		if n.Len() == 0 {
			normals[i] = mgl32.Vec3{0, 1, 0}
			continue
		}
		normals[i] = n.Normalize()
	}
	return normals
}
