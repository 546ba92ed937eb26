// terrainsim runs the terrain engine headless: a scripted viewer flies a
// circle while sculpt edits fire on a rate limit, and streaming statistics
// are logged so the chunk pipeline can be observed without a renderer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xlab/closer"
	"golang.org/x/time/rate"

	"github.com/micaelzudo/infinia3-sub005/internal/config"
	"github.com/micaelzudo/infinia3-sub005/internal/engine"
	"github.com/micaelzudo/infinia3-sub005/internal/meshing"
	"github.com/micaelzudo/infinia3-sub005/internal/profiling"
	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
	"github.com/micaelzudo/infinia3-sub005/internal/world"
)

func main() {
	var (
		configPath  = flag.String("config", "terrainsim.yaml", "path to the YAML config")
		duration    = flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address, e.g. :9090")
		editEvery   = flag.Duration("edit-every", 2*time.Second, "minimum interval between scripted edits")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	log.Info("config loaded", "seed", cfg.Seed, "backend", cfg.Noise.Backend,
		"load_radius", cfg.Streaming.LoadRadius, "unload_radius", cfg.Streaming.UnloadRadius)

	reg := prometheus.NewRegistry()

	onMesh := func(coord terrain.ChunkCoord, mesh *meshing.TriangleBuffer) {
		log.Debug("mesh ready", "coord", coord, "triangles", mesh.TriangleCount())
	}

	eng, err := engine.New(log, cfg, onMesh, reg)
	if err != nil {
		log.Error("build engine", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	closer.Bind(cancel)
	closer.Bind(func() {
		if err := eng.Close(); err != nil {
			log.Warn("close engine", "err", err)
		}
	})
	if *duration > 0 {
		time.AfterFunc(*duration, closer.Close)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Info("metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", "err", err)
			}
		}()
	}

	go eng.Run(ctx)
	go flyAndSculpt(ctx, log, eng, cfg, *editEvery)

	closer.Hold()
}

// flyAndSculpt moves the viewer along a slow circle above the terrain and
// applies an alternating dig/fill edit ahead of it, throttled by limiter.
func flyAndSculpt(ctx context.Context, log *slog.Logger, eng *engine.Engine, cfg config.Config, editEvery time.Duration) {
	shape, err := world.ParseShape(cfg.Brush.Shape)
	if err != nil {
		log.Warn("bad brush shape, using sphere", "err", err)
	}
	brush := world.Brush{
		Radius:      cfg.Brush.Radius,
		Strength:    cfg.Brush.Strength,
		Shape:       shape,
		Verticality: cfg.Brush.Verticality,
	}
	limiter := rate.NewLimiter(rate.Every(editEvery), 1)

	const (
		orbitRadius  = 96.0
		angularSpeed = 0.05 // radians per second
	)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	start := time.Now()
	remove := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			st := eng.SchedulerStats()
			log.Info("streaming stats",
				"loaded", eng.LoadedChunks(),
				"queue", st.QueueDepth, "in_flight", st.InFlight,
				"busy", st.BusyWorkers, "completed", st.Completed,
				"failures", st.Failures, "restarts", st.Restarts, "stale", st.Stale,
				"hotspots", profiling.TopN(3))
			profiling.ResetCycle()
		case <-ticker.C:
			angle := angularSpeed * time.Since(start).Seconds()
			pos := mgl32.Vec3{
				float32(orbitRadius * math.Cos(angle)),
				float32(cfg.Noise.BaseHeight + 12),
				float32(orbitRadius * math.Sin(angle)),
			}
			eng.Update(pos)

			if limiter.Allow() {
				target := mgl32.Vec3{pos.X(), float32(cfg.Noise.BaseHeight), pos.Z()}
				coords, err := eng.ApplyEdit(target, remove, brush)
				if err != nil {
					log.Warn("edit incomplete", "at", target, "err", err)
				}
				log.Info("edit applied", "at", target, "remove", remove, "chunks", len(coords))
				remove = !remove
			}
		}
	}
}
