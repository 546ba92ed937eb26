package terrain

const (
	// Samples per horizontal axis: one extra beyond the voxel count so the
	// far boundary of a chunk can be extracted without a neighbor.
	GridSizeXZ = ChunkSize + 1
	// Samples along the vertical axis.
	GridSizeY = ChunkHeight + 1

	gridVolume = GridSizeY * GridSizeXZ * GridSizeXZ
)

// DensityGrid is a dense scalar field for one chunk, indexed [y][z][x].
// Positive values are solid, negative values are empty; the surface lies at
// zero. A grid is written once at generation time and afterwards only
// replaced wholesale via Clone by the edit propagator, so holders of a
// reference may read it without locking.
type DensityGrid struct {
	vals []float32
}

// NewDensityGrid returns a zero-valued grid.
func NewDensityGrid() *DensityGrid {
	return &DensityGrid{vals: make([]float32, gridVolume)}
}

func gridIndex(ix, iy, iz int) int {
	return (iy*GridSizeXZ+iz)*GridSizeXZ + ix
}

// InRange reports whether (ix, iy, iz) addresses a valid sample.
func (g *DensityGrid) InRange(ix, iy, iz int) bool {
	return ix >= 0 && ix < GridSizeXZ &&
		iy >= 0 && iy < GridSizeY &&
		iz >= 0 && iz < GridSizeXZ
}

// At returns the sample at (ix, iy, iz). Callers must stay in range.
func (g *DensityGrid) At(ix, iy, iz int) float32 {
	return g.vals[gridIndex(ix, iy, iz)]
}

// Set overwrites the sample at (ix, iy, iz).
func (g *DensityGrid) Set(ix, iy, iz int, v float32) {
	g.vals[gridIndex(ix, iy, iz)] = v
}

// Add offsets the sample at (ix, iy, iz) by delta.
func (g *DensityGrid) Add(ix, iy, iz int, delta float32) {
	g.vals[gridIndex(ix, iy, iz)] += delta
}

// Clone returns an independent copy of the grid.
func (g *DensityGrid) Clone() *DensityGrid {
	c := &DensityGrid{vals: make([]float32, gridVolume)}
	copy(c.vals, g.vals)
	return c
}

// Raw exposes the backing slice for hashing and serialization.
func (g *DensityGrid) Raw() []float32 {
	return g.vals
}

// EditMask marks samples whose density was written by a player edit rather
// than the generator. Indexing matches DensityGrid.
type EditMask struct {
	set []bool
}

// NewEditMask returns an all-false mask.
func NewEditMask() *EditMask {
	return &EditMask{set: make([]bool, gridVolume)}
}

// At reports whether the sample at (ix, iy, iz) was edited.
func (m *EditMask) At(ix, iy, iz int) bool {
	return m.set[gridIndex(ix, iy, iz)]
}

// Mark flags the sample at (ix, iy, iz) as edited.
func (m *EditMask) Mark(ix, iy, iz int) {
	m.set[gridIndex(ix, iy, iz)] = true
}

// Any reports whether at least one sample is marked.
func (m *EditMask) Any() bool {
	for _, b := range m.set {
		if b {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the mask.
func (m *EditMask) Clone() *EditMask {
	c := &EditMask{set: make([]bool, gridVolume)}
	copy(c.set, m.set)
	return c
}

// Raw exposes the backing slice for serialization.
func (m *EditMask) Raw() []bool {
	return m.set
}
