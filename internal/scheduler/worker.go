package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/micaelzudo/infinia3-sub005/internal/meshing"
	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

// workerSlot is one concurrent execution unit. The slot table is owned by
// the scheduler; the worker goroutine only ever sees its payload channel and
// the shared results channel. A slot is idle iff busyCoord is nil.
type workerSlot struct {
	index        int
	identity     uuid.UUID
	payloads     chan payload
	busyCoord    *terrain.ChunkCoord
	lastDispatch time.Time
	failures     int
}

// payload is everything a worker receives: the task plus neighbor grids
// snapshotted at dispatch time. Workers never touch scheduler or cache
// state.
type payload struct {
	task      Task
	neighbors meshing.NeighborSet
}

// slotResult travels back from a worker goroutine. The identity lets the
// scheduler discard results from workers that were restarted away.
type slotResult struct {
	slot     int
	identity uuid.UUID
	task     Task
	grid     *terrain.DensityGrid
	mesh     *meshing.TriangleBuffer
	err      error
}

func newWorkerSlot(index int, work WorkFunc, results chan<- slotResult) *workerSlot {
	s := &workerSlot{
		index:    index,
		identity: uuid.New(),
		payloads: make(chan payload, 1),
	}
	go runWorker(index, s.identity, s.payloads, work, results)
	return s
}

// restart abandons the current worker goroutine (its eventual result, if
// any, is dropped by identity mismatch) and starts a fresh one. Closing the
// old payload channel lets the abandoned goroutine exit once its task
// returns; nothing sends on that channel again because dispatch captures it
// only while the slot is idle.
func (s *workerSlot) restart(work WorkFunc, results chan<- slotResult) {
	close(s.payloads)
	s.identity = uuid.New()
	s.payloads = make(chan payload, 1)
	s.busyCoord = nil
	s.failures = 0
	go runWorker(s.index, s.identity, s.payloads, work, results)
}

func runWorker(index int, identity uuid.UUID, payloads <-chan payload, work WorkFunc, results chan<- slotResult) {
	for p := range payloads {
		grid, mesh, err := runTask(work, p)
		results <- slotResult{
			slot:     index,
			identity: identity,
			task:     p.task,
			grid:     grid,
			mesh:     mesh,
			err:      err,
		}
	}
}

// runTask converts worker panics into ordinary task errors so a bad chunk
// cannot take the pool down.
func runTask(work WorkFunc, p payload) (grid *terrain.DensityGrid, mesh *meshing.TriangleBuffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			grid, mesh = nil, nil
			err = fmt.Errorf("worker panic on %s: %v", p.task.Coord, r)
		}
	}()
	return work(p.task, p.neighbors)
}
