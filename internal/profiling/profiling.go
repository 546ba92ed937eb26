package profiling

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Lightweight per-cycle CPU profiler for update-loop insights.

var (
	mu          sync.Mutex
	cycleTotals = make(map[string]time.Duration)
)

// Track returns a stop function that records the elapsed time under the
// given name. Usage: defer profiling.Track("world.UpdateAroundViewer")()
func Track(name string) func() {
	start := time.Now()
	return func() {
		d := time.Since(start)
		mu.Lock()
		cycleTotals[name] += d
		mu.Unlock()
	}
}

// ResetCycle clears the running totals. Call at the start of each update
// cycle.
func ResetCycle() {
	mu.Lock()
	clear(cycleTotals)
	mu.Unlock()
}

// Snapshot returns a copy of the current totals.
func Snapshot() map[string]time.Duration {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]time.Duration, len(cycleTotals))
	for k, v := range cycleTotals {
		out[k] = v
	}
	return out
}

// TopN formats the N largest totals of the current cycle, e.g.
// "meshing.Triangulate:4.2ms, terrain.Generate:2.1ms".
func TopN(n int) string {
	ss := Snapshot()
	type pair struct {
		name string
		dur  time.Duration
	}
	list := make([]pair, 0, len(ss))
	for k, v := range ss {
		list = append(list, pair{name: k, dur: v})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].dur > list[j].dur })
	if n > len(list) {
		n = len(list)
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ms := float64(list[i].dur.Microseconds()) / 1000.0
		parts = append(parts, fmt.Sprintf("%s:%.1fms", list[i].name, ms))
	}
	return strings.Join(parts, ", ")
}
