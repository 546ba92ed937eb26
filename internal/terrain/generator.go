package terrain

import (
	"fmt"

	"github.com/aquilax/go-perlin"
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Noise backend names accepted by NewGenerator.
const (
	BackendOpenSimplex = "opensimplex"
	BackendPerlin      = "perlin"
)

// NoiseParams describes the layered noise that shapes the scalar field.
// Wavelengths are in world units, longest first; each successive layer
// contributes half the amplitude of the previous one.
type NoiseParams struct {
	Wavelengths      []float64
	BaseHeight       float64
	GradientStrength float64
	Backend          string
}

// DefaultNoiseParams returns the stock three-octave setup.
func DefaultNoiseParams() NoiseParams {
	return NoiseParams{
		Wavelengths:      []float64{96, 48, 24},
		BaseHeight:       24,
		GradientStrength: 20,
		Backend:          BackendOpenSimplex,
	}
}

// noiseField is the sampling surface shared by both backends.
type noiseField interface {
	Eval3(x, y, z float64) float64
}

type perlinField struct {
	p *perlin.Perlin
}

func (f perlinField) Eval3(x, y, z float64) float64 {
	return f.p.Noise3D(x, y, z)
}

// Generator produces density grids as a pure function of (coord, seed,
// params). It holds no mutable state and is safe for concurrent use.
type Generator struct {
	seed    int64
	params  NoiseParams
	field   noiseField
	weights []float64
}

// NewGenerator creates a generator for the given seed and noise parameters.
func NewGenerator(seed int64, params NoiseParams) (*Generator, error) {
	if len(params.Wavelengths) == 0 {
		return nil, fmt.Errorf("terrain: no noise wavelengths configured")
	}
	if params.GradientStrength == 0 {
		return nil, fmt.Errorf("terrain: gradient strength must be non-zero")
	}

	var field noiseField
	switch params.Backend {
	case BackendPerlin:
		field = perlinField{p: perlin.NewPerlin(2, 2, 3, seed)}
	case BackendOpenSimplex, "":
		field = opensimplex.New(seed)
	default:
		return nil, fmt.Errorf("terrain: unknown noise backend %q", params.Backend)
	}

	// Fixed falling weights: 1.0, 0.5, 0.25, ...
	weights := make([]float64, len(params.Wavelengths))
	w := 1.0
	for i := range weights {
		weights[i] = w
		w *= 0.5
	}

	return &Generator{
		seed:    seed,
		params:  params,
		field:   field,
		weights: weights,
	}, nil
}

// Seed returns the world seed the generator was built with.
func (g *Generator) Seed() int64 {
	return g.seed
}

// Params returns the noise parameters the generator was built with.
func (g *Generator) Params() NoiseParams {
	return g.params
}

// DensityAt evaluates the scalar field at a world-space sample position.
func (g *Generator) DensityAt(wx, wy, wz float64) float32 {
	sum := 0.0
	norm := 0.0
	for i, wl := range g.params.Wavelengths {
		inv := 1.0 / wl
		sum += g.weights[i] * g.field.Eval3(wx*inv, wy*inv, wz*inv)
		norm += g.weights[i]
	}
	noise := sum / norm

	// Vertical bias: solid at depth, empty at height, independent of the
	// horizontal noise layers.
	bias := (g.params.BaseHeight - wy) / g.params.GradientStrength

	return float32(noise + bias)
}

// Generate produces the density grid for one chunk. Same inputs always yield
// a bit-identical grid, which is what keeps independently generated
// neighbors boundary-consistent.
func (g *Generator) Generate(coord ChunkCoord) (*DensityGrid, error) {
	grid := NewDensityGrid()

	baseX := float64(coord.X * ChunkSize)
	baseY := float64(coord.Y * ChunkHeight)
	baseZ := float64(coord.Z * ChunkSize)

	for iy := 0; iy < GridSizeY; iy++ {
		wy := baseY + float64(iy)
		for iz := 0; iz < GridSizeXZ; iz++ {
			wz := baseZ + float64(iz)
			for ix := 0; ix < GridSizeXZ; ix++ {
				grid.Set(ix, iy, iz, g.DensityAt(baseX+float64(ix), wy, wz))
			}
		}
	}

	return grid, nil
}
