package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/micaelzudo/infinia3-sub005/internal/meshing"
	"github.com/micaelzudo/infinia3-sub005/internal/profiling"
	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

// Options tunes the worker pool. Zero values fall back to defaults, and all
// fields are clamped to sane ranges.
type Options struct {
	// Workers in the pool; 0 derives from GOMAXPROCS, always clamped to
	// [MinWorkers, MaxWorkers].
	Workers int

	DispatchInterval time.Duration
	HealthInterval   time.Duration
	StuckTimeout     time.Duration

	// FailureThreshold is the consecutive-failure count that forces a slot
	// restart.
	FailureThreshold int

	// BatchMultiplier caps a single dispatch cycle at Workers*BatchMultiplier
	// assignments regardless of queue depth.
	BatchMultiplier int
}

const (
	// MinWorkers and MaxWorkers bound the pool size.
	MinWorkers = 2
	MaxWorkers = 12
)

func (o *Options) applyDefaults() {
	if o.Workers == 0 {
		o.Workers = runtime.GOMAXPROCS(0) - 1
	}
	if o.Workers < MinWorkers {
		o.Workers = MinWorkers
	}
	if o.Workers > MaxWorkers {
		o.Workers = MaxWorkers
	}
	if o.DispatchInterval <= 0 {
		o.DispatchInterval = 50 * time.Millisecond
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = time.Second
	}
	if o.StuckTimeout <= 0 {
		o.StuckTimeout = 10 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.BatchMultiplier <= 0 {
		o.BatchMultiplier = 3
	}
}

// pendingTask is a queued request for one coordinate.
type pendingTask struct {
	task     Task
	enqueued time.Time
}

// Scheduler owns a fixed set of worker slots and a coalescing priority
// queue. All slot and queue state is guarded by mu; worker goroutines only
// receive payloads and push results.
type Scheduler struct {
	log       *slog.Logger
	opt       Options
	work      WorkFunc
	neighbors NeighborFunc
	onResult  ResultFunc

	mu       sync.Mutex
	pending  map[terrain.ChunkCoord]*pendingTask
	inflight map[terrain.ChunkCoord]int // coord -> slot index
	slots    []*workerSlot

	results chan slotResult

	completed uint64
	failures  uint64
	restarts  uint64
	stale     uint64

	met *metrics
}

// New builds a scheduler. The worker goroutines start immediately but stay
// idle until Run dispatches work to them.
func New(log *slog.Logger, opt Options, work WorkFunc, neighbors NeighborFunc, onResult ResultFunc, reg prometheus.Registerer) (*Scheduler, error) {
	if work == nil {
		return nil, fmt.Errorf("scheduler: work function is required")
	}
	if log == nil {
		log = slog.Default()
	}
	opt.applyDefaults()
	if neighbors == nil {
		neighbors = func(terrain.ChunkCoord) meshing.NeighborSet { return meshing.NeighborSet{} }
	}

	s := &Scheduler{
		log:       log,
		opt:       opt,
		work:      work,
		neighbors: neighbors,
		onResult:  onResult,
		pending:   make(map[terrain.ChunkCoord]*pendingTask),
		inflight:  make(map[terrain.ChunkCoord]int),
		results:   make(chan slotResult, opt.Workers*2),
		met:       newMetrics(reg),
	}

	for i := 0; i < opt.Workers; i++ {
		s.slots = append(s.slots, newWorkerSlot(i, work, s.results))
	}
	if len(s.slots) == 0 {
		return nil, fmt.Errorf("scheduler: no workers could be started")
	}

	return s, nil
}

// RequestGeneration queues generation for a coordinate. Requests are
// coalesced: while one is queued or in flight, a repeat only raises the
// queued task's priority (lower number = more urgent). Returns whether a new
// task was enqueued.
func (s *Scheduler) RequestGeneration(coord terrain.ChunkCoord, priority Priority) bool {
	return s.enqueue(Task{Coord: coord, Kind: KindGenerate, Priority: priority})
}

// RequestRemesh queues remesh-only work for a coordinate using the supplied
// (already edited) grid. A queued generation for the same coordinate is
// upgraded in place: the edited grid is authoritative. If a task for the
// coordinate is already executing, the remesh stays queued and dispatches
// once that task resolves.
func (s *Scheduler) RequestRemesh(coord terrain.ChunkCoord, grid *terrain.DensityGrid, priority Priority) bool {
	return s.enqueue(Task{Coord: coord, Kind: KindRemesh, Grid: grid, Priority: priority})
}

func (s *Scheduler) enqueue(t Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Generation for an in-flight coordinate is redundant; a remesh is kept
	// pending and dispatched after the in-flight task resolves.
	if _, busy := s.inflight[t.Coord]; busy && t.Kind == KindGenerate {
		return false
	}
	if p, ok := s.pending[t.Coord]; ok {
		if t.Priority < p.task.Priority {
			p.task.Priority = t.Priority
		}
		if t.Kind == KindRemesh {
			p.task.Kind = KindRemesh
			p.task.Grid = t.Grid
		}
		return false
	}

	s.pending[t.Coord] = &pendingTask{task: t, enqueued: time.Now()}
	s.met.queueDepth.Set(float64(len(s.pending)))
	return true
}

// Run drives dispatch, health checks and result delivery until ctx is done.
// It is the only goroutine that invokes the result callback.
func (s *Scheduler) Run(ctx context.Context) {
	dispatch := time.NewTicker(s.opt.DispatchInterval)
	defer dispatch.Stop()
	health := time.NewTicker(s.opt.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-s.results:
			s.handleResult(r)
		case <-dispatch.C:
			s.DispatchCycle()
		case <-health.C:
			s.CheckHealth(time.Now())
		}
	}
}

// DispatchCycle assigns the highest-priority pending tasks to the
// longest-idle workers. The per-cycle batch size scales with queue depth but
// never exceeds a small multiple of the worker count, so a deep queue cannot
// flood a single cycle.
func (s *Scheduler) DispatchCycle() {
	defer profiling.Track("scheduler.DispatchCycle")()

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}

	idle := make([]*workerSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		if slot.busyCoord == nil {
			idle = append(idle, slot)
		}
	}
	if len(idle) == 0 {
		s.mu.Unlock()
		return
	}
	// Most-idle first.
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].lastDispatch.Before(idle[j].lastDispatch)
	})

	// Adaptive batch: grows with queue depth, hard-capped at a small
	// multiple of the pool size, and naturally bounded by idle slots.
	batch := len(s.pending)/4 + 1
	if limit := s.opt.BatchMultiplier * len(s.slots); batch > limit {
		batch = limit
	}
	if batch > len(idle) {
		batch = len(idle)
	}

	// The payload channel is captured here, under the lock, so a later slot
	// restart cannot redirect the send.
	type assignment struct {
		task Task
		ch   chan<- payload
	}
	var assigned []assignment
	for _, pt := range s.orderedPending() {
		if len(assigned) >= batch {
			break
		}
		coord := pt.task.Coord
		if _, busy := s.inflight[coord]; busy {
			// A remesh queued behind an in-flight task for the same
			// coordinate waits until that task resolves; at most one task
			// per coordinate executes at a time.
			continue
		}
		slot := idle[len(assigned)]
		slot.busyCoord = &coord
		slot.lastDispatch = time.Now()
		s.inflight[coord] = slot.index
		delete(s.pending, coord)
		assigned = append(assigned, assignment{task: pt.task, ch: slot.payloads})
	}
	s.met.queueDepth.Set(float64(len(s.pending)))
	s.met.busyWorkers.Set(float64(len(s.inflight)))
	s.mu.Unlock()

	// Neighbor snapshots and channel sends happen outside the lock: the
	// neighbor callback takes the owning cache's lock, and holding ours
	// across that call would order the two locks both ways.
	for _, a := range assigned {
		a.ch <- payload{task: a.task, neighbors: s.neighbors(a.task.Coord)}
	}
}

// orderedPending sorts the queue by boosted priority, then age. Boundary
// chunks — those with a pending neighbor in exactly one of the two opposite
// directions along some axis — get a one-tier boost to reduce visible
// popping at streaming and edit frontiers. Callers hold mu.
func (s *Scheduler) orderedPending() []*pendingTask {
	ordered := make([]*pendingTask, 0, len(s.pending))
	boost := make(map[terrain.ChunkCoord]bool, len(s.pending))
	for coord, pt := range s.pending {
		ordered = append(ordered, pt)
		for _, axis := range [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
			_, pos := s.pending[coord.Offset(axis[0], axis[1], axis[2])]
			_, neg := s.pending[coord.Offset(-axis[0], -axis[1], -axis[2])]
			if pos != neg {
				boost[coord] = true
				break
			}
		}
	}

	effective := func(pt *pendingTask) Priority {
		p := pt.task.Priority
		if boost[pt.task.Coord] && p > 0 {
			p--
		}
		return p
	}
	sort.Slice(ordered, func(i, j int) bool {
		pi, pj := effective(ordered[i]), effective(ordered[j])
		if pi != pj {
			return pi < pj
		}
		return ordered[i].enqueued.Before(ordered[j].enqueued)
	})
	return ordered
}

// CheckHealth restarts any slot whose current task has been outstanding
// longer than the stuck timeout. The abandoned task's coordinate becomes
// requeueable immediately; a late result from the stale worker identity is
// discarded on arrival.
func (s *Scheduler) CheckHealth(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range s.slots {
		if slot.busyCoord == nil {
			continue
		}
		if now.Sub(slot.lastDispatch) <= s.opt.StuckTimeout {
			continue
		}
		coord := *slot.busyCoord
		s.log.Warn("worker stuck, restarting slot",
			"slot", slot.index, "coord", coord.Key(),
			"outstanding", now.Sub(slot.lastDispatch))
		delete(s.inflight, coord)
		s.restartSlotLocked(slot)
	}
	s.met.busyWorkers.Set(float64(len(s.inflight)))
}

func (s *Scheduler) restartSlotLocked(slot *workerSlot) {
	slot.restart(s.work, s.results)
	s.restarts++
	s.met.restarts.Inc()
}

func (s *Scheduler) handleResult(r slotResult) {
	s.mu.Lock()
	slot := s.slots[r.slot]
	if slot.identity != r.identity {
		// A result from a worker that was restarted away.
		s.stale++
		s.met.stale.Inc()
		s.mu.Unlock()
		return
	}

	slot.busyCoord = nil
	delete(s.inflight, r.task.Coord)
	if r.err != nil {
		slot.failures++
		s.failures++
		s.met.failures.Inc()
		s.log.Error("chunk task failed",
			"coord", r.task.Coord.Key(), "kind", r.task.Kind.String(),
			"slot", slot.index, "failures", slot.failures, "err", r.err)
		if slot.failures >= s.opt.FailureThreshold {
			s.log.Warn("worker failure threshold reached, restarting slot", "slot", slot.index)
			s.restartSlotLocked(slot)
		}
	} else {
		slot.failures = 0
		s.completed++
		s.met.completed.Inc()
	}
	s.met.busyWorkers.Set(float64(len(s.inflight)))
	cb := s.onResult
	s.mu.Unlock()

	if cb == nil {
		return
	}
	res := Result{Coord: r.task.Coord, Kind: r.task.Kind, Err: r.err}
	if r.err == nil {
		res.Grid = r.grid
		res.Mesh = r.mesh
	}
	cb(res)
}

// DrainResults processes any results that have already arrived without
// waiting. Useful for owners that drive the scheduler manually instead of
// through Run.
func (s *Scheduler) DrainResults() {
	for {
		select {
		case r := <-s.results:
			s.handleResult(r)
		default:
			return
		}
	}
}

// IsQueuedOrInFlight reports whether work for the coordinate is pending or
// currently executing.
func (s *Scheduler) IsQueuedOrInFlight(coord terrain.ChunkCoord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[coord]; ok {
		return true
	}
	_, ok := s.inflight[coord]
	return ok
}

// Stats returns a health snapshot for observability overlays.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	busy := len(s.inflight)
	return Stats{
		QueueDepth:  len(s.pending),
		InFlight:    busy,
		BusyWorkers: busy,
		IdleWorkers: len(s.slots) - busy,
		Completed:   s.completed,
		Failures:    s.failures,
		Restarts:    s.restarts,
		Stale:       s.stale,
	}
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int {
	return len(s.slots)
}
