package terrain

import "testing"

// TestGridSetAtRoundTrip verifies the flat indexing keeps axes straight.
func TestGridSetAtRoundTrip(t *testing.T) {
	g := NewDensityGrid()
	g.Set(1, 2, 3, 1.5)
	if v := g.At(1, 2, 3); v != 1.5 {
		t.Errorf("At(1,2,3) = %v, want 1.5", v)
	}
	// Transposed indices must not alias.
	if v := g.At(3, 2, 1); v != 0 {
		t.Errorf("At(3,2,1) = %v, want 0", v)
	}
	g.Add(1, 2, 3, -0.5)
	if v := g.At(1, 2, 3); v != 1.0 {
		t.Errorf("after Add, At(1,2,3) = %v, want 1.0", v)
	}
}

// TestGridCloneIsIndependent verifies mutating a clone leaves the original
// untouched, which the edit propagator relies on.
func TestGridCloneIsIndependent(t *testing.T) {
	g := NewDensityGrid()
	g.Set(0, 0, 0, 2)
	c := g.Clone()
	c.Set(0, 0, 0, -7)
	if v := g.At(0, 0, 0); v != 2 {
		t.Errorf("clone mutation leaked into original: %v", v)
	}
}

// TestInRangeBounds verifies the inclusive sample bounds.
func TestInRangeBounds(t *testing.T) {
	g := NewDensityGrid()
	if !g.InRange(0, 0, 0) || !g.InRange(ChunkSize, ChunkHeight, ChunkSize) {
		t.Errorf("corner samples should be in range")
	}
	if g.InRange(-1, 0, 0) || g.InRange(0, GridSizeY, 0) || g.InRange(0, 0, GridSizeXZ) {
		t.Errorf("out-of-bounds samples reported in range")
	}
}

// TestEditMask verifies marking and cloning.
func TestEditMask(t *testing.T) {
	m := NewEditMask()
	if m.Any() {
		t.Errorf("fresh mask should be empty")
	}
	m.Mark(5, 6, 7)
	if !m.At(5, 6, 7) || !m.Any() {
		t.Errorf("marked sample not reported")
	}
	c := m.Clone()
	c.Mark(0, 0, 0)
	if m.At(0, 0, 0) {
		t.Errorf("clone mutation leaked into original mask")
	}
}
