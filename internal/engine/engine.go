// Package engine assembles the generator, triangulator, scheduler, chunk
// cache, edit propagator and snapshot store into one streaming terrain
// engine driven by a viewer position.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/micaelzudo/infinia3-sub005/internal/config"
	"github.com/micaelzudo/infinia3-sub005/internal/meshing"
	"github.com/micaelzudo/infinia3-sub005/internal/persist"
	"github.com/micaelzudo/infinia3-sub005/internal/scheduler"
	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
	"github.com/micaelzudo/infinia3-sub005/internal/world"
)

// Engine owns one terrain world. Concurrency lives in the scheduler and the
// cache; the engine itself only wires them and forwards calls.
type Engine struct {
	log   *slog.Logger
	cfg   config.Config
	gen   *terrain.Generator
	tri   *meshing.Triangulator
	sched *scheduler.Scheduler
	cache *world.Cache
	prop  *world.Propagator
	store *persist.Store
}

// New builds an engine from cfg. onMesh receives every completed chunk mesh
// and may be nil. reg may be nil to skip metrics registration.
func New(log *slog.Logger, cfg config.Config, onMesh world.MeshHandler, reg prometheus.Registerer) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg.Clamp()

	gen, err := terrain.NewGenerator(cfg.Seed, terrain.NoiseParams{
		Wavelengths:      cfg.Noise.Wavelengths,
		BaseHeight:       cfg.Noise.BaseHeight,
		GradientStrength: cfg.Noise.GradientStrength,
		Backend:          cfg.Noise.Backend,
	})
	if err != nil {
		return nil, fmt.Errorf("configure generator: %w", err)
	}

	e := &Engine{
		log: log,
		cfg: cfg,
		gen: gen,
		tri: meshing.NewTriangulator(),
	}

	if cfg.Persistence.Path != "" {
		store, err := persist.Open(cfg.Persistence.Path)
		if err != nil {
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		e.store = store
	}

	sched, err := scheduler.New(log, scheduler.Options{
		Workers:          cfg.Scheduler.Workers,
		DispatchInterval: cfg.Scheduler.DispatchInterval(),
		HealthInterval:   cfg.Scheduler.HealthInterval(),
		StuckTimeout:     cfg.Scheduler.StuckTimeout(),
		FailureThreshold: cfg.Scheduler.FailureThreshold,
		BatchMultiplier:  cfg.Scheduler.BatchMultiplier,
	}, e.runTask, e.neighborGrids, e.handleResult, reg)
	if err != nil {
		return nil, fmt.Errorf("configure scheduler: %w", err)
	}
	e.sched = sched

	e.cache = world.NewCache(log, world.Options{
		LoadRadius:          cfg.Streaming.LoadRadius,
		UnloadRadius:        cfg.Streaming.UnloadRadius,
		RadiusBelow:         cfg.Streaming.RadiusBelow,
		RadiusAbove:         cfg.Streaming.RadiusAbove,
		MaxRequestsPerCycle: cfg.Streaming.MaxRequestsPerCycle,
		UpdateInterval:      cfg.Streaming.UpdateInterval(),
		EvictInterval:       cfg.Streaming.EvictInterval(),
	}, sched, onMesh, nil, e.lookupSnapshot)

	e.prop = world.NewPropagator(log, e.cache, gen)
	return e, nil
}

// runTask executes inside scheduler workers.
func (e *Engine) runTask(task scheduler.Task, neighbors meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error) {
	grid := task.Grid
	if task.Kind == scheduler.KindGenerate {
		var err error
		grid, err = e.gen.Generate(task.Coord)
		if err != nil {
			return nil, nil, err
		}
	}
	mesh := e.tri.Triangulate(task.Coord, grid, neighbors)
	return grid, mesh, nil
}

func (e *Engine) neighborGrids(coord terrain.ChunkCoord) meshing.NeighborSet {
	return e.cache.NeighborGrids(coord)
}

func (e *Engine) handleResult(res scheduler.Result) {
	e.cache.HandleResult(res)
}

// lookupSnapshot restores an edited chunk from the store instead of
// regenerating it.
func (e *Engine) lookupSnapshot(coord terrain.ChunkCoord) (*terrain.DensityGrid, *terrain.EditMask, bool) {
	if e.store == nil {
		return nil, nil, false
	}
	grid, mask, ok, err := e.store.LoadChunk(coord)
	if err != nil {
		e.log.Warn("snapshot load failed", "coord", coord, "err", err)
		return nil, nil, false
	}
	return grid, mask, ok
}

// Run drives the scheduler until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.sched.Run(ctx)
}

// Update streams chunks around the viewer. It reports how many chunks were
// requested and evicted this call; both are zero inside the update cadence.
func (e *Engine) Update(viewerPos mgl32.Vec3) (requested, evicted int) {
	return e.cache.UpdateAroundViewer(viewerPos, time.Now())
}

// ApplyEdit modifies the terrain around worldPoint, persists the edited
// chunks when a store is configured, and queues every affected chunk for an
// edit-priority remesh. It returns the affected chunk coordinates.
func (e *Engine) ApplyEdit(worldPoint mgl32.Vec3, remove bool, brush world.Brush) ([]terrain.ChunkCoord, error) {
	coords, err := e.prop.ApplyEdit(worldPoint, remove, brush)
	for _, coord := range coords {
		grid, mask, ok := e.cache.GridFor(coord)
		if !ok {
			continue
		}
		if e.store != nil {
			if serr := e.store.SaveChunk(coord, grid, mask); serr != nil {
				e.log.Warn("snapshot save failed", "coord", coord, "err", serr)
			}
		}
		e.sched.RequestRemesh(coord, grid, scheduler.PriorityEdit)
	}
	return coords, err
}

// Chunk returns a copy of the cached entry for coord.
func (e *Engine) Chunk(coord terrain.ChunkCoord) (world.ChunkEntry, bool) {
	return e.cache.Entry(coord)
}

// LoadedChunks reports the number of cached chunks.
func (e *Engine) LoadedChunks() int {
	return e.cache.Len()
}

// SchedulerStats snapshots the scheduler counters.
func (e *Engine) SchedulerStats() scheduler.Stats {
	return e.sched.Stats()
}

// Close releases the snapshot store, if any.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}
