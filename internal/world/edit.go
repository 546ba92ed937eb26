package world

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

// BrushShape selects the volume affected by an edit.
type BrushShape int

const (
	ShapeSphere BrushShape = iota
	ShapeCube
	ShapeCylinder
)

func (s BrushShape) String() string {
	switch s {
	case ShapeSphere:
		return "sphere"
	case ShapeCube:
		return "cube"
	case ShapeCylinder:
		return "cylinder"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// ParseShape maps a config/CLI name to a brush shape.
func ParseShape(name string) (BrushShape, error) {
	switch name {
	case "sphere", "":
		return ShapeSphere, nil
	case "cube":
		return ShapeCube, nil
	case "cylinder":
		return ShapeCylinder, nil
	default:
		return ShapeSphere, fmt.Errorf("unknown brush shape %q", name)
	}
}

// Brush describes one edit volume. Verticality scales the vertical extent
// relative to Radius; 1 keeps the brush symmetric, values below 1 flatten it.
type Brush struct {
	Radius      float64
	Strength    float64
	Shape       BrushShape
	Verticality float64
}

func (b Brush) validate() error {
	if b.Radius <= 0 {
		return fmt.Errorf("brush radius must be positive, got %g", b.Radius)
	}
	if b.Strength <= 0 {
		return fmt.Errorf("brush strength must be positive, got %g", b.Strength)
	}
	return nil
}

// Propagator applies density edits across chunk boundaries. Edits operate on
// cloned grids so concurrent readers of the previous grid are never disturbed,
// and shared boundary sample planes are written into every adjoining chunk so
// neighboring meshes stay seam-consistent.
type Propagator struct {
	log   *slog.Logger
	cache *Cache
	gen   *terrain.Generator
}

// NewPropagator builds a propagator editing through cache. gen backs
// synchronous generation of chunks an edit touches before streaming loaded
// them.
func NewPropagator(log *slog.Logger, cache *Cache, gen *terrain.Generator) *Propagator {
	if log == nil {
		log = slog.Default()
	}
	return &Propagator{log: log, cache: cache, gen: gen}
}

type workingChunk struct {
	grid *terrain.DensityGrid
	mask *terrain.EditMask
}

// ApplyEdit adds material at worldPoint (remove=false) or carves it out
// (remove=true) and returns the coordinates of every chunk whose grid
// changed, sorted. Equal add and remove edits at the same point cancel
// exactly. Chunks that fail to generate are skipped; the edit still applies
// everywhere else and the error reports what was skipped.
func (p *Propagator) ApplyEdit(worldPoint mgl32.Vec3, remove bool, brush Brush) ([]terrain.ChunkCoord, error) {
	if err := brush.validate(); err != nil {
		return nil, err
	}
	vert := brush.Verticality
	if vert <= 0 {
		vert = 1
	}
	rx := brush.Radius
	ry := brush.Radius * vert

	px := float64(worldPoint.X())
	py := float64(worldPoint.Y())
	pz := float64(worldPoint.Z())

	sign := 1.0
	if remove {
		sign = -1.0
	}

	touched := make(map[terrain.ChunkCoord]*workingChunk)
	var errs []error

	for wy := int(math.Floor(py - ry)); wy <= int(math.Ceil(py+ry)); wy++ {
		for wz := int(math.Floor(pz - rx)); wz <= int(math.Ceil(pz+rx)); wz++ {
			for wx := int(math.Floor(px - rx)); wx <= int(math.Ceil(px+rx)); wx++ {
				falloff, inside := brushFalloff(brush.Shape, float64(wx)-px, float64(wy)-py, float64(wz)-pz, rx, ry)
				if !inside {
					continue
				}
				delta := float32(sign * brush.Strength * falloff)
				if delta == 0 {
					continue
				}
				p.writeSample(touched, wx, wy, wz, delta, &errs)
			}
		}
	}

	coords := make([]terrain.ChunkCoord, 0, len(touched))
	for coord, wc := range touched {
		p.cache.StoreEdited(coord, wc.grid, wc.mask)
		coords = append(coords, coord)
	}
	sort.Slice(coords, func(i, j int) bool {
		a, b := coords[i], coords[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return coords, errors.Join(errs...)
}

// brushFalloff returns the [0, 1] weight of a sample at offset (dx, dy, dz)
// from the brush center. The weight is 1 at the center and reaches 0 at the
// brush surface, so repeated edits compose smoothly.
func brushFalloff(shape BrushShape, dx, dy, dz, rx, ry float64) (float64, bool) {
	var d float64
	switch shape {
	case ShapeCube:
		d = math.Max(math.Abs(dx)/rx, math.Max(math.Abs(dy)/ry, math.Abs(dz)/rx))
	case ShapeCylinder:
		d = math.Max(math.Hypot(dx, dz)/rx, math.Abs(dy)/ry)
	default:
		nx, ny, nz := dx/rx, dy/ry, dz/rx
		d = math.Sqrt(nx*nx + ny*ny + nz*nz)
	}
	if d > 1 {
		return 0, false
	}
	return 1 - d, true
}

// writeSample applies delta to the world-space sample (wx, wy, wz) in every
// chunk whose grid holds that sample. Samples on a boundary plane belong to
// two chunks per axis, so a corner sample lands in up to eight grids.
func (p *Propagator) writeSample(touched map[terrain.ChunkCoord]*workingChunk, wx, wy, wz int, delta float32, errs *[]error) {
	oxs := axisOwners(wx, terrain.ChunkSize)
	oys := axisOwners(wy, terrain.ChunkHeight)
	ozs := axisOwners(wz, terrain.ChunkSize)
	for _, ox := range oxs {
		for _, oy := range oys {
			for _, oz := range ozs {
				coord := terrain.ChunkCoord{X: ox.chunk, Y: oy.chunk, Z: oz.chunk}
				wc, err := p.workingFor(touched, coord)
				if err != nil {
					*errs = append(*errs, err)
					continue
				}
				if wc == nil {
					continue
				}
				if !wc.grid.InRange(ox.local, oy.local, oz.local) {
					p.log.Debug("edit sample out of grid range",
						"coord", coord, "x", ox.local, "y", oy.local, "z", oz.local)
					continue
				}
				wc.grid.Add(ox.local, oy.local, oz.local, delta)
				wc.mask.Mark(ox.local, oy.local, oz.local)
			}
		}
	}
}

type axisOwner struct {
	chunk, local int
}

// axisOwners lists the chunks along one axis whose grids contain the given
// world sample. Interior samples have one owner; a sample on the shared
// boundary plane (local index 0) is also the previous chunk's last plane.
func axisOwners(w, size int) []axisOwner {
	chunk := floorDiv(w, size)
	local := w - chunk*size
	owners := []axisOwner{{chunk: chunk, local: local}}
	if local == 0 {
		owners = append(owners, axisOwner{chunk: chunk - 1, local: size})
	}
	return owners
}

// workingFor returns the mutable copy of the chunk's grid for this edit,
// cloning the cached grid on first touch or generating the chunk when it is
// not loaded. A nil chunk with nil error means the sample must be skipped.
func (p *Propagator) workingFor(touched map[terrain.ChunkCoord]*workingChunk, coord terrain.ChunkCoord) (*workingChunk, error) {
	if wc, ok := touched[coord]; ok {
		return wc, nil
	}
	var wc *workingChunk
	if grid, mask, ok := p.cache.GridFor(coord); ok {
		if mask == nil {
			mask = terrain.NewEditMask()
		} else {
			mask = mask.Clone()
		}
		wc = &workingChunk{grid: grid.Clone(), mask: mask}
	} else {
		if p.gen == nil {
			return nil, fmt.Errorf("edit touches unloaded chunk %v and no generator is configured", coord)
		}
		grid, err := p.gen.Generate(coord)
		if err != nil {
			return nil, fmt.Errorf("generate %v for edit: %w", coord, err)
		}
		wc = &workingChunk{grid: grid, mask: terrain.NewEditMask()}
	}
	touched[coord] = wc
	return wc, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
