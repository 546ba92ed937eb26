package terrain

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"testing"
)

func gridHash(g *DensityGrid) [32]byte {
	h := sha256.New()
	var buf [4]byte
	for _, v := range g.Raw() {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TestGenerateDeterministic verifies two generators with the same seed
// produce bit-identical grids, and a different seed does not.
func TestGenerateDeterministic(t *testing.T) {
	coord := ChunkCoord{X: 3, Y: 0, Z: -2}

	g1, err := NewGenerator(42, DefaultNoiseParams())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	g2, err := NewGenerator(42, DefaultNoiseParams())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	a, err := g1.Generate(coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := g2.Generate(coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gridHash(a) != gridHash(b) {
		t.Errorf("same seed produced different grids for %v", coord)
	}

	g3, err := NewGenerator(43, DefaultNoiseParams())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	c, err := g3.Generate(coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gridHash(a) == gridHash(c) {
		t.Errorf("seeds 42 and 43 produced identical grids for %v", coord)
	}
}

// TestGenerateSharedBoundaryPlane verifies the overlapping sample plane of
// horizontally adjacent chunks holds identical values, since density is a
// pure function of the world position.
func TestGenerateSharedBoundaryPlane(t *testing.T) {
	gen, err := NewGenerator(7, DefaultNoiseParams())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	a, err := gen.Generate(ChunkCoord{X: 0, Y: 0, Z: 0})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := gen.Generate(ChunkCoord{X: 1, Y: 0, Z: 0})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for iy := 0; iy < GridSizeY; iy++ {
		for iz := 0; iz < GridSizeXZ; iz++ {
			va := a.At(ChunkSize, iy, iz)
			vb := b.At(0, iy, iz)
			if va != vb {
				t.Fatalf("boundary plane mismatch at y=%d z=%d: %v vs %v", iy, iz, va, vb)
			}
		}
	}
}

// TestVerticalBias verifies deep terrain trends solid and high terrain
// trends empty: the gradient dominates the noise far from the base height.
func TestVerticalBias(t *testing.T) {
	gen, err := NewGenerator(42, DefaultNoiseParams())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	deep := gen.DensityAt(5, -100, 5)
	if deep <= 0 {
		t.Errorf("density at y=-100 should be solid, got %v", deep)
	}
	high := gen.DensityAt(5, 200, 5)
	if high >= 0 {
		t.Errorf("density at y=200 should be empty, got %v", high)
	}
}

// TestNewGeneratorValidation verifies bad parameters are rejected.
func TestNewGeneratorValidation(t *testing.T) {
	p := DefaultNoiseParams()
	p.Wavelengths = nil
	if _, err := NewGenerator(1, p); err == nil {
		t.Errorf("expected error for empty wavelengths")
	}

	p = DefaultNoiseParams()
	p.GradientStrength = 0
	if _, err := NewGenerator(1, p); err == nil {
		t.Errorf("expected error for zero gradient strength")
	}

	p = DefaultNoiseParams()
	p.Backend = "simplex2000"
	if _, err := NewGenerator(1, p); err == nil {
		t.Errorf("expected error for unknown backend")
	}
}

// TestPerlinBackend verifies the alternate backend works, stays
// deterministic, and actually differs from opensimplex.
func TestPerlinBackend(t *testing.T) {
	p := DefaultNoiseParams()
	p.Backend = BackendPerlin

	g1, err := NewGenerator(42, p)
	if err != nil {
		t.Fatalf("NewGenerator(perlin): %v", err)
	}
	g2, err := NewGenerator(42, p)
	if err != nil {
		t.Fatalf("NewGenerator(perlin): %v", err)
	}
	coord := ChunkCoord{X: 1, Y: 0, Z: 1}
	a, err := g1.Generate(coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := g2.Generate(coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gridHash(a) != gridHash(b) {
		t.Errorf("perlin backend not deterministic")
	}

	simplex, err := NewGenerator(42, DefaultNoiseParams())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	c, err := simplex.Generate(coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gridHash(a) == gridHash(c) {
		t.Errorf("perlin and opensimplex produced identical grids")
	}
}

func BenchmarkGenerate(b *testing.B) {
	gen, err := NewGenerator(42, DefaultNoiseParams())
	if err != nil {
		b.Fatalf("NewGenerator: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := gen.Generate(ChunkCoord{X: i % 8, Y: 0, Z: i / 8 % 8}); err != nil {
			b.Fatalf("Generate: %v", err)
		}
	}
}
