package world

import (
	"time"

	"github.com/micaelzudo/infinia3-sub005/internal/meshing"
	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

// ChunkEntry is the cached state of one chunk. An entry is created as a
// placeholder (nil grid and mesh) the moment the chunk is requested, filled
// in as generation and triangulation complete, and removed on eviction.
type ChunkEntry struct {
	Coord      terrain.ChunkCoord
	Grid       *terrain.DensityGrid
	Mesh       *meshing.TriangleBuffer
	EditMask   *terrain.EditMask
	LastAccess time.Time

	// evictPending marks an entry that fell out of the keep radius while
	// its generation was in flight; it is removed as soon as the result
	// arrives.
	evictPending bool
}

// Edited reports whether any sample of the chunk was written by an edit.
func (e *ChunkEntry) Edited() bool {
	return e.EditMask != nil && e.EditMask.Any()
}

// Ready reports whether the chunk has both a grid and a mesh.
func (e *ChunkEntry) Ready() bool {
	return e.Grid != nil && e.Mesh != nil
}
