package world

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/micaelzudo/infinia3-sub005/internal/meshing"
	"github.com/micaelzudo/infinia3-sub005/internal/profiling"
	"github.com/micaelzudo/infinia3-sub005/internal/scheduler"
	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

// Options tunes chunk streaming around the viewer. UnloadRadius must exceed
// LoadRadius so chunks on the boundary do not thrash between load and evict.
type Options struct {
	// LoadRadius is the horizontal Chebyshev radius, in chunks, inside
	// which chunks are requested.
	LoadRadius int
	// UnloadRadius is the horizontal radius beyond which loaded chunks are
	// evicted. Clamped to at least LoadRadius+2.
	UnloadRadius int
	// RadiusBelow and RadiusAbove bound the vertical span of requested
	// chunks. More chunks are kept below the viewer than above because
	// terrain is denser downward.
	RadiusBelow int
	RadiusAbove int
	// MaxRequestsPerCycle caps how many new chunks one update may enqueue.
	MaxRequestsPerCycle int
	// UpdateInterval gates how often UpdateAroundViewer does real work.
	UpdateInterval time.Duration
	// EvictInterval gates eviction sweeps; slower than UpdateInterval.
	EvictInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.LoadRadius <= 0 {
		o.LoadRadius = 4
	}
	if o.UnloadRadius < o.LoadRadius+2 {
		o.UnloadRadius = o.LoadRadius + 2
	}
	if o.RadiusBelow <= 0 {
		o.RadiusBelow = 3
	}
	if o.RadiusAbove <= 0 {
		o.RadiusAbove = 1
	}
	if o.MaxRequestsPerCycle <= 0 {
		o.MaxRequestsPerCycle = 24
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = 100 * time.Millisecond
	}
	if o.EvictInterval <= 0 {
		o.EvictInterval = 750 * time.Millisecond
	}
	return o
}

// MeshHandler receives completed chunk meshes, e.g. to upload them to a
// renderer. It is called outside the cache lock.
type MeshHandler func(coord terrain.ChunkCoord, mesh *meshing.TriangleBuffer)

// EvictHandler is notified when a chunk leaves the cache so external
// resources tied to it can be released.
type EvictHandler func(coord terrain.ChunkCoord)

// SnapshotLookup lets the cache restore a previously edited chunk instead of
// regenerating it. Returning ok=false means no snapshot exists.
type SnapshotLookup func(coord terrain.ChunkCoord) (grid *terrain.DensityGrid, mask *terrain.EditMask, ok bool)

// Cache owns the set of loaded chunks and drives streaming around the
// viewer. All exported methods are safe for concurrent use.
type Cache struct {
	log   *slog.Logger
	opt   Options
	sched *scheduler.Scheduler

	onMesh  MeshHandler
	onEvict EvictHandler
	lookup  SnapshotLookup

	mu      sync.RWMutex
	entries map[terrain.ChunkCoord]*ChunkEntry

	lastUpdate time.Time
	lastEvict  time.Time
}

// NewCache builds a cache streaming through sched. onMesh, onEvict and
// lookup may be nil.
func NewCache(log *slog.Logger, opt Options, sched *scheduler.Scheduler, onMesh MeshHandler, onEvict EvictHandler, lookup SnapshotLookup) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		log:     log,
		opt:     opt.withDefaults(),
		sched:   sched,
		onMesh:  onMesh,
		onEvict: onEvict,
		lookup:  lookup,
		entries: make(map[terrain.ChunkCoord]*ChunkEntry),
	}
}

type candidate struct {
	coord terrain.ChunkCoord
	dist  int
}

// UpdateAroundViewer requests missing chunks near pos and evicts chunks far
// from it. Work is gated by UpdateInterval and EvictInterval; calls inside
// the gate return (0, 0). It reports how many chunks were requested and how
// many were evicted.
func (c *Cache) UpdateAroundViewer(pos mgl32.Vec3, now time.Time) (requested, evicted int) {
	c.mu.Lock()
	if now.Sub(c.lastUpdate) < c.opt.UpdateInterval {
		c.mu.Unlock()
		return 0, 0
	}
	c.lastUpdate = now
	center := terrain.CoordAt(pos)
	runEvict := now.Sub(c.lastEvict) >= c.opt.EvictInterval
	if runEvict {
		c.lastEvict = now
	}

	defer profiling.Track("world.UpdateAroundViewer")()

	// First pass collects candidates from cache state alone. Scheduler
	// queries happen after the lock is released: holding c.mu across a
	// scheduler call while dispatch holds the scheduler lock across a
	// NeighborGrids call would order the two locks both ways.
	var cands []candidate
	for dy := -c.opt.RadiusBelow; dy <= c.opt.RadiusAbove; dy++ {
		for dz := -c.opt.LoadRadius; dz <= c.opt.LoadRadius; dz++ {
			for dx := -c.opt.LoadRadius; dx <= c.opt.LoadRadius; dx++ {
				coord := terrain.ChunkCoord{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				if e, ok := c.entries[coord]; ok && e.Grid != nil && e.Mesh != nil {
					continue
				}
				// Absent, a grid-less placeholder orphaned by a worker
				// restart, or a grid with no mesh after a failed remesh.
				cands = append(cands, candidate{coord: coord, dist: chebyshev3(dx, dy, dz)})
			}
		}
	}
	var far []terrain.ChunkCoord
	if runEvict {
		far = c.farCoordsLocked(center)
	}
	c.mu.Unlock()

	kept := cands[:0]
	for _, cand := range cands {
		if c.sched.IsQueuedOrInFlight(cand.coord) {
			continue
		}
		kept = append(kept, cand)
	}
	cands = kept
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > c.opt.MaxRequestsPerCycle {
		cands = cands[:c.opt.MaxRequestsPerCycle]
	}
	busy := make(map[terrain.ChunkCoord]bool, len(far))
	for _, coord := range far {
		if c.sched.IsQueuedOrInFlight(coord) {
			busy[coord] = true
		}
	}

	type request struct {
		coord terrain.ChunkCoord
		grid  *terrain.DensityGrid
		prio  scheduler.Priority
	}
	var reqs []request
	var gone []terrain.ChunkCoord

	c.mu.Lock()
	for _, cand := range cands {
		prio := priorityForDistance(cand.dist, c.opt.LoadRadius)
		if existing, ok := c.entries[cand.coord]; ok {
			if existing.Grid != nil && existing.Mesh != nil {
				// A result landed between the passes.
				continue
			}
			existing.LastAccess = now
			reqs = append(reqs, request{coord: cand.coord, grid: existing.Grid, prio: prio})
			requested++
			continue
		}
		entry := &ChunkEntry{Coord: cand.coord, LastAccess: now}
		if c.lookup != nil {
			if grid, mask, ok := c.lookup(cand.coord); ok {
				entry.Grid = grid
				entry.EditMask = mask
				c.entries[cand.coord] = entry
				reqs = append(reqs, request{coord: cand.coord, grid: grid, prio: prio})
				requested++
				continue
			}
		}
		c.entries[cand.coord] = entry
		reqs = append(reqs, request{coord: cand.coord, prio: prio})
		requested++
	}
	for _, coord := range far {
		entry, ok := c.entries[coord]
		if !ok {
			continue
		}
		if busy[coord] {
			// Only marked; HandleResult finishes the removal so a late
			// result cannot resurrect an evicted chunk.
			entry.evictPending = true
			continue
		}
		delete(c.entries, coord)
		gone = append(gone, coord)
	}
	evicted = len(gone)
	c.mu.Unlock()

	for _, r := range reqs {
		if r.grid != nil {
			c.sched.RequestRemesh(r.coord, r.grid, r.prio)
		} else {
			c.sched.RequestGeneration(r.coord, r.prio)
		}
	}
	if c.onEvict != nil {
		for _, coord := range gone {
			c.onEvict(coord)
		}
	}
	return requested, evicted
}

func priorityForDistance(dist, loadRadius int) scheduler.Priority {
	switch {
	case dist <= 1:
		return scheduler.PriorityNear
	case dist >= loadRadius:
		return scheduler.PriorityPrefetch
	default:
		return scheduler.PriorityStream
	}
}

// farCoordsLocked lists entries outside the unload radius. The caller
// decides between removal and evict-pending marking once it knows, without
// holding c.mu, which of them the scheduler still tracks.
func (c *Cache) farCoordsLocked(center terrain.ChunkCoord) []terrain.ChunkCoord {
	keepBelow := c.opt.RadiusBelow + (c.opt.UnloadRadius - c.opt.LoadRadius)
	keepAbove := c.opt.RadiusAbove + (c.opt.UnloadRadius - c.opt.LoadRadius)
	var far []terrain.ChunkCoord
	for coord := range c.entries {
		dy := coord.Y - center.Y
		if coord.ChebyshevXZ(center) > c.opt.UnloadRadius ||
			dy > keepAbove || dy < -keepBelow {
			far = append(far, coord)
		}
	}
	return far
}

// HandleResult folds one finished task back into the cache. Results for
// chunks that were evicted or edited while the task ran are discarded.
func (c *Cache) HandleResult(res scheduler.Result) {
	c.mu.Lock()
	entry, ok := c.entries[res.Coord]
	if !ok {
		c.mu.Unlock()
		return
	}
	if entry.evictPending {
		delete(c.entries, res.Coord)
		c.mu.Unlock()
		if c.onEvict != nil {
			c.onEvict(res.Coord)
		}
		return
	}
	if res.Err != nil {
		if res.Kind == scheduler.KindGenerate && entry.Grid == nil {
			// Placeholder only; drop it so a later update retries.
			delete(c.entries, res.Coord)
		}
		c.mu.Unlock()
		c.log.Warn("chunk task failed", "coord", res.Coord, "kind", res.Kind, "err", res.Err)
		return
	}
	if res.Kind == scheduler.KindGenerate && entry.Edited() {
		// An edit landed while generation ran; the edited grid wins.
		c.mu.Unlock()
		return
	}
	if res.Kind == scheduler.KindGenerate {
		entry.Grid = res.Grid
	}
	entry.Mesh = res.Mesh
	entry.LastAccess = time.Now()
	c.mu.Unlock()

	if c.onMesh != nil && res.Mesh != nil {
		c.onMesh(res.Coord, res.Mesh)
	}
}

// NeighborGrids snapshots the density grids of the six face neighbors for
// seam-aware triangulation. Missing neighbors stay nil.
func (c *Cache) NeighborGrids(coord terrain.ChunkCoord) meshing.NeighborSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	grid := func(dx, dy, dz int) *terrain.DensityGrid {
		e, ok := c.entries[terrain.ChunkCoord{X: coord.X + dx, Y: coord.Y + dy, Z: coord.Z + dz}]
		if !ok {
			return nil
		}
		return e.Grid
	}
	return meshing.NeighborSet{
		XNeg: grid(-1, 0, 0), XPos: grid(1, 0, 0),
		YNeg: grid(0, -1, 0), YPos: grid(0, 1, 0),
		ZNeg: grid(0, 0, -1), ZPos: grid(0, 0, 1),
	}
}

// GridFor returns the chunk's current grid and edit mask, if loaded.
func (c *Cache) GridFor(coord terrain.ChunkCoord) (*terrain.DensityGrid, *terrain.EditMask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[coord]
	if !ok || entry.Grid == nil {
		return nil, nil, false
	}
	return entry.Grid, entry.EditMask, true
}

// StoreEdited installs an edited grid and mask, creating the entry when the
// chunk was not loaded. The previous grid is replaced, never mutated, so
// concurrent readers keep a consistent snapshot.
func (c *Cache) StoreEdited(coord terrain.ChunkCoord, grid *terrain.DensityGrid, mask *terrain.EditMask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[coord]
	if !ok {
		entry = &ChunkEntry{Coord: coord}
		c.entries[coord] = entry
	}
	entry.Grid = grid
	entry.EditMask = mask
	entry.LastAccess = time.Now()
}

// Entry returns a shallow copy of the chunk's entry, if present.
func (c *Cache) Entry(coord terrain.ChunkCoord) (ChunkEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[coord]
	if !ok {
		return ChunkEntry{}, false
	}
	return *entry, true
}

// Len reports the number of cached chunks, placeholders included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Coords returns the coordinates of every cached chunk.
func (c *Cache) Coords() []terrain.ChunkCoord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]terrain.ChunkCoord, 0, len(c.entries))
	for coord := range c.entries {
		out = append(out, coord)
	}
	return out
}

func chebyshev3(dx, dy, dz int) int {
	d := dx
	if d < 0 {
		d = -d
	}
	if dy < 0 {
		dy = -dy
	}
	if dy > d {
		d = dy
	}
	if dz < 0 {
		dz = -dz
	}
	if dz > d {
		d = dz
	}
	return d
}
