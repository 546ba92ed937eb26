package scheduler

import (
	"github.com/micaelzudo/infinia3-sub005/internal/meshing"
	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

// Priority orders pending tasks; lower values are more urgent.
type Priority int

const (
	// PriorityEdit is used for remeshing after terrain edits.
	PriorityEdit Priority = iota
	// PriorityNear is used for chunks adjacent to the viewer.
	PriorityNear
	// PriorityStream is the default streaming priority.
	PriorityStream
	// PriorityPrefetch is used for speculative far chunks.
	PriorityPrefetch
)

// TaskKind distinguishes full generation from remesh-only work.
type TaskKind int

const (
	// KindGenerate produces a density grid from scratch, then meshes it.
	KindGenerate TaskKind = iota
	// KindRemesh meshes an existing (typically edited) grid without
	// regenerating it.
	KindRemesh
)

func (k TaskKind) String() string {
	if k == KindRemesh {
		return "remesh"
	}
	return "generate"
}

// Task is one unit of chunk work. It never outlives a single dispatch;
// repeated requests for the same coordinate are coalesced.
type Task struct {
	Coord    terrain.ChunkCoord
	Kind     TaskKind
	Grid     *terrain.DensityGrid // set for KindRemesh, nil otherwise
	Priority Priority
}

// Result is delivered to the owner's callback when a task finishes. Grid and
// Mesh are nil when the task failed; the scheduler never retries on its own.
type Result struct {
	Coord terrain.ChunkCoord
	Kind  TaskKind
	Grid  *terrain.DensityGrid
	Mesh  *meshing.TriangleBuffer
	Err   error
}

// WorkFunc executes a task inside a worker: generation (unless remeshing)
// followed by triangulation. It must be safe for concurrent use.
type WorkFunc func(task Task, neighbors meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error)

// NeighborFunc supplies read-only neighbor grids for a coordinate. It runs
// on the coordinating goroutine at dispatch time, never inside a worker.
type NeighborFunc func(terrain.ChunkCoord) meshing.NeighborSet

// ResultFunc receives completed (or failed) tasks.
type ResultFunc func(Result)
