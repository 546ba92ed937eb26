package scheduler

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/micaelzudo/infinia3-sub005/internal/meshing"
	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

func okWork(task Task, _ meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error) {
	grid := task.Grid
	if grid == nil {
		grid = terrain.NewDensityGrid()
	}
	return grid, &meshing.TriangleBuffer{}, nil
}

// pump drives dispatch and result delivery until cond holds or the deadline
// passes.
func pump(t *testing.T, s *Scheduler, timeout time.Duration, cond func(Stats) bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.DispatchCycle()
		s.DrainResults()
		if cond(s.Stats()) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v; stats=%+v", timeout, s.Stats())
}

// TestNewRequiresWorkFunc verifies construction fails without a work
// function.
func TestNewRequiresWorkFunc(t *testing.T) {
	if _, err := New(nil, Options{}, nil, nil, nil, nil); err == nil {
		t.Errorf("expected error for nil work function")
	}
}

// TestEnqueueCoalescesPerCoordinate verifies repeated requests for one
// coordinate collapse into a single pending task.
func TestEnqueueCoalescesPerCoordinate(t *testing.T) {
	s, err := New(nil, Options{Workers: 2}, okWork, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	coord := terrain.ChunkCoord{X: 1, Y: 0, Z: 2}

	if !s.RequestGeneration(coord, PriorityStream) {
		t.Errorf("first request should enqueue")
	}
	if s.RequestGeneration(coord, PriorityStream) {
		t.Errorf("duplicate request should coalesce")
	}
	if st := s.Stats(); st.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d, want 1", st.QueueDepth)
	}
	if !s.IsQueuedOrInFlight(coord) {
		t.Errorf("coordinate should report queued")
	}
}

// TestCoalesceUpgradesPriorityAndKind verifies a repeat request can only
// raise urgency, and a remesh request upgrades a queued generation in place.
func TestCoalesceUpgradesPriorityAndKind(t *testing.T) {
	s, err := New(nil, Options{Workers: 2}, okWork, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	coord := terrain.ChunkCoord{X: 0, Y: 0, Z: 0}
	s.RequestGeneration(coord, PriorityPrefetch)

	edited := terrain.NewDensityGrid()
	s.RequestRemesh(coord, edited, PriorityEdit)

	s.mu.Lock()
	pt := s.pending[coord]
	s.mu.Unlock()
	if pt == nil {
		t.Fatalf("pending task vanished")
	}
	if pt.task.Priority != PriorityEdit {
		t.Errorf("priority = %v, want %v", pt.task.Priority, PriorityEdit)
	}
	if pt.task.Kind != KindRemesh || pt.task.Grid != edited {
		t.Errorf("queued generation was not upgraded to remesh with the edited grid")
	}

	// A later, lazier request must not downgrade it.
	s.RequestGeneration(coord, PriorityPrefetch)
	s.mu.Lock()
	pt = s.pending[coord]
	s.mu.Unlock()
	if pt.task.Priority != PriorityEdit || pt.task.Kind != KindRemesh {
		t.Errorf("repeat request downgraded the task: %+v", pt.task)
	}
}

// TestOrderedPendingBoostsBoundaryChunks verifies a chunk with a pending
// neighbor in exactly one direction along an axis sorts ahead of an isolated
// chunk of the same priority.
func TestOrderedPendingBoostsBoundaryChunks(t *testing.T) {
	s, err := New(nil, Options{Workers: 2}, okWork, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	isolated := terrain.ChunkCoord{X: 50, Y: 0, Z: 50}
	boundary := terrain.ChunkCoord{X: 0, Y: 0, Z: 0}

	s.RequestGeneration(isolated, PriorityStream)
	s.RequestGeneration(boundary, PriorityStream)
	s.RequestGeneration(boundary.Offset(1, 0, 0), PriorityStream)

	s.mu.Lock()
	ordered := s.orderedPending()
	s.mu.Unlock()

	pos := func(c terrain.ChunkCoord) int {
		for i, pt := range ordered {
			if pt.task.Coord == c {
				return i
			}
		}
		return -1
	}
	if pos(boundary) > pos(isolated) {
		t.Errorf("boundary chunk ordered after isolated chunk: %d vs %d", pos(boundary), pos(isolated))
	}
}

// TestDispatchExecutesEachCoordinateOnce verifies no coordinate is handed to
// the pool twice, and the queue fully drains.
func TestDispatchExecutesEachCoordinateOnce(t *testing.T) {
	var mu sync.Mutex
	runs := make(map[terrain.ChunkCoord]int)
	work := func(task Task, _ meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error) {
		mu.Lock()
		runs[task.Coord]++
		mu.Unlock()
		return terrain.NewDensityGrid(), &meshing.TriangleBuffer{}, nil
	}

	s, err := New(nil, Options{Workers: 4}, work, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 30
	for i := 0; i < n; i++ {
		s.RequestGeneration(terrain.ChunkCoord{X: i, Y: 0, Z: -i}, PriorityStream)
	}
	pump(t, s, 5*time.Second, func(st Stats) bool { return st.Completed == n })

	mu.Lock()
	defer mu.Unlock()
	if len(runs) != n {
		t.Fatalf("executed %d distinct coords, want %d", len(runs), n)
	}
	for coord, count := range runs {
		if count != 1 {
			t.Errorf("coord %v executed %d times, want 1", coord, count)
		}
	}
	if st := s.Stats(); st.QueueDepth != 0 || st.InFlight != 0 {
		t.Errorf("queue not drained: %+v", st)
	}
}

// TestResultCallbackReceivesMesh verifies the owner callback gets the grid
// and mesh of a successful task.
func TestResultCallbackReceivesMesh(t *testing.T) {
	var mu sync.Mutex
	var got []Result
	onResult := func(r Result) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}

	s, err := New(nil, Options{Workers: 2}, okWork, nil, onResult, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	coord := terrain.ChunkCoord{X: 2, Y: 1, Z: 0}
	s.RequestGeneration(coord, PriorityNear)
	pump(t, s, 5*time.Second, func(st Stats) bool { return st.Completed == 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("callback invoked %d times, want 1", len(got))
	}
	r := got[0]
	if r.Coord != coord || r.Err != nil || r.Grid == nil || r.Mesh == nil {
		t.Errorf("unexpected result: %+v", r)
	}
}

// TestWorkerPanicBecomesTaskError verifies a panicking worker surfaces as a
// failed result instead of crashing the pool, and the pool keeps serving.
func TestWorkerPanicBecomesTaskError(t *testing.T) {
	bad := terrain.ChunkCoord{X: 13, Y: 0, Z: 13}
	work := func(task Task, ns meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error) {
		if task.Coord == bad {
			panic("corrupt chunk")
		}
		return okWork(task, ns)
	}

	var mu sync.Mutex
	results := make(map[terrain.ChunkCoord]Result)
	onResult := func(r Result) {
		mu.Lock()
		results[r.Coord] = r
		mu.Unlock()
	}

	s, err := New(nil, Options{Workers: 2}, work, nil, onResult, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	good := terrain.ChunkCoord{X: 14, Y: 0, Z: 14}
	s.RequestGeneration(bad, PriorityStream)
	s.RequestGeneration(good, PriorityStream)
	pump(t, s, 5*time.Second, func(st Stats) bool { return st.Completed == 1 && st.Failures == 1 })

	mu.Lock()
	defer mu.Unlock()
	if r := results[bad]; r.Err == nil || r.Grid != nil || r.Mesh != nil {
		t.Errorf("panicked task result = %+v, want error with nil grid/mesh", r)
	}
	if r := results[good]; r.Err != nil {
		t.Errorf("good task failed: %v", r.Err)
	}
}

// TestFailureThresholdRestartsSlot verifies repeated failures retire the
// worker identity.
func TestFailureThresholdRestartsSlot(t *testing.T) {
	work := func(task Task, _ meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error) {
		return nil, nil, errors.New("boom")
	}
	s, err := New(nil, Options{Workers: 2, FailureThreshold: 1}, work, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RequestGeneration(terrain.ChunkCoord{X: 1, Y: 0, Z: 0}, PriorityStream)
	pump(t, s, 5*time.Second, func(st Stats) bool { return st.Failures == 1 && st.Restarts == 1 })
}

// TestRemeshWaitsForInFlightGeneration verifies a remesh requested while a
// generation for the same coordinate is executing stays queued until that
// generation resolves, so a coordinate never runs on two workers at once and
// stays tracked throughout.
func TestRemeshWaitsForInFlightGeneration(t *testing.T) {
	release := make(chan struct{})
	coord := terrain.ChunkCoord{X: 3, Y: 0, Z: 3}
	work := func(task Task, ns meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error) {
		if task.Kind == KindGenerate {
			<-release
		}
		return okWork(task, ns)
	}

	var mu sync.Mutex
	var kinds []TaskKind
	onResult := func(r Result) {
		mu.Lock()
		kinds = append(kinds, r.Kind)
		mu.Unlock()
	}

	s, err := New(nil, Options{Workers: 2}, work, nil, onResult, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RequestGeneration(coord, PriorityStream)
	s.DispatchCycle()
	if st := s.Stats(); st.InFlight != 1 {
		t.Fatalf("InFlight = %d, want 1", st.InFlight)
	}

	edited := terrain.NewDensityGrid()
	if !s.RequestRemesh(coord, edited, PriorityEdit) {
		t.Fatalf("remesh should queue behind the executing generation")
	}
	s.DispatchCycle()
	if st := s.Stats(); st.InFlight != 1 || st.QueueDepth != 1 {
		t.Errorf("remesh dispatched alongside its own generation: %+v", st)
	}
	if !s.IsQueuedOrInFlight(coord) {
		t.Errorf("coordinate untracked while work remains")
	}

	close(release)
	pump(t, s, 5*time.Second, func(st Stats) bool { return st.Completed == 2 })
	if st := s.Stats(); st.QueueDepth != 0 || st.InFlight != 0 {
		t.Errorf("queue not drained: %+v", st)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != KindGenerate || kinds[1] != KindRemesh {
		t.Errorf("result kinds = %v, want [generate remesh]", kinds)
	}
}

// TestRestartReleasesAbandonedWorker verifies the goroutine behind a
// restarted slot exits once its task returns instead of lingering on the
// retired payload channel.
func TestRestartReleasesAbandonedWorker(t *testing.T) {
	release := make(chan struct{})
	stuck := terrain.ChunkCoord{X: 7, Y: 0, Z: 7}
	work := func(task Task, ns meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error) {
		if task.Coord == stuck {
			<-release
		}
		return okWork(task, ns)
	}

	s, err := New(nil, Options{Workers: 2, StuckTimeout: 50 * time.Millisecond}, work, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	baseline := runtime.NumGoroutine()

	s.RequestGeneration(stuck, PriorityNear)
	s.DispatchCycle()
	s.CheckHealth(time.Now().Add(time.Second))
	if st := s.Stats(); st.Restarts != 1 {
		t.Fatalf("Restarts = %d, want 1", st.Restarts)
	}

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.DrainResults()
		if s.Stats().Stale == 1 && runtime.NumGoroutine() <= baseline {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Errorf("goroutines = %d after restart, want <= %d; stats=%+v",
		runtime.NumGoroutine(), baseline, s.Stats())
}

// TestStuckWorkerRestart verifies a worker holding a task past the stuck
// timeout is replaced, the coordinate becomes requeueable, and the stale
// result from the abandoned goroutine is discarded on arrival.
func TestStuckWorkerRestart(t *testing.T) {
	release := make(chan struct{})
	stuck := terrain.ChunkCoord{X: 9, Y: 0, Z: 9}
	work := func(task Task, ns meshing.NeighborSet) (*terrain.DensityGrid, *meshing.TriangleBuffer, error) {
		if task.Coord == stuck {
			<-release
		}
		return okWork(task, ns)
	}

	s, err := New(nil, Options{Workers: 2, StuckTimeout: 50 * time.Millisecond}, work, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RequestGeneration(stuck, PriorityNear)
	s.DispatchCycle()
	if st := s.Stats(); st.InFlight != 1 {
		t.Fatalf("InFlight = %d, want 1", st.InFlight)
	}

	s.CheckHealth(time.Now().Add(time.Second))
	st := s.Stats()
	if st.Restarts != 1 {
		t.Fatalf("Restarts = %d, want 1", st.Restarts)
	}
	if st.InFlight != 0 || s.IsQueuedOrInFlight(stuck) {
		t.Errorf("abandoned coordinate still tracked: %+v", st)
	}

	// Let the abandoned goroutine finish; its result carries a retired
	// identity and must be dropped.
	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.DrainResults()
		if s.Stats().Stale == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if st := s.Stats(); st.Stale != 1 || st.Completed != 0 {
		t.Errorf("stale result not discarded: %+v", st)
	}

	// The replacement worker must still serve new tasks.
	fresh := terrain.ChunkCoord{X: 10, Y: 0, Z: 10}
	s.RequestGeneration(fresh, PriorityNear)
	pump(t, s, 5*time.Second, func(st Stats) bool { return st.Completed == 1 })
}

// TestOptionsClampWorkers verifies the pool size bounds.
func TestOptionsClampWorkers(t *testing.T) {
	for _, c := range []struct{ in, wantMin, wantMax int }{
		{1, MinWorkers, MinWorkers},
		{100, MaxWorkers, MaxWorkers},
	} {
		s, err := New(nil, Options{Workers: c.in}, okWork, nil, nil, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if w := s.Workers(); w < c.wantMin || w > c.wantMax {
			t.Errorf("Workers(%d) = %d, want within [%d,%d]", c.in, w, c.wantMin, c.wantMax)
		}
	}
}

// TestTaskKindString keeps log output stable.
func TestTaskKindString(t *testing.T) {
	if fmt.Sprint(KindGenerate) != "generate" || fmt.Sprint(KindRemesh) != "remesh" {
		t.Errorf("unexpected kind strings: %v %v", KindGenerate, KindRemesh)
	}
}
