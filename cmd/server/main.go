package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tileworld.dev/internal/config"
	"tileworld.dev/internal/persistence/chunkcodec"
	"tileworld.dev/internal/persistence/chunkstore"
	persistlog "tileworld.dev/internal/persistence/log"
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/gen"
	"tileworld.dev/internal/sim/tuning"
	"tileworld.dev/internal/sim/world"
	"tileworld.dev/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.toml", "path to server.toml")
		addr       = flag.String("addr", "", "http listen address (overrides [server].listen)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides [paths].data_dir)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (overrides [paths].tuning)")
		tilesPath  = flag.String("tiles", "", "path to tiles.json (overrides [paths].tiles)")
		backend    = flag.String("storage", "", "chunk store backend (overrides [storage].backend)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	override(&cfg.Server.Listen, *addr)
	override(&cfg.Paths.DataDir, *dataDir)
	override(&cfg.Paths.Tuning, *tuningPath)
	override(&cfg.Paths.Tiles, *tilesPath)
	override(&cfg.Storage.Backend, *backend)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	tune, err := tuning.Load(cfg.Paths.Tuning)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	reg, err := catalogs.Load(cfg.Paths.Tiles)
	if err != nil {
		return fmt.Errorf("load tiles: %w", err)
	}
	logger.Info("catalogs loaded",
		zap.Int("tiles", len(reg.Defs())),
		zap.String("digest", reg.Digest),
	)

	ctx, cancel := signalContext()
	defer cancel()

	store, err := chunkstore.Open(ctx, cfg.Storage.Backend, cfg.Paths.DataDir, cfg.Storage.DSN, cfg.Storage.MaxConn, logger)
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}
	defer store.Close()

	producer, err := newProducer(tune, reg, logger)
	if err != nil {
		return err
	}
	if c, ok := producer.(interface{ Close() }); ok {
		defer c.Close()
	}

	worldDir := filepath.Join(cfg.Paths.DataDir, tune.World.Name, tune.World.Dimension)
	metaPath := chunkcodec.MetaPath(cfg.Paths.DataDir, tune.World.Name, tune.World.Dimension)
	w, err := world.New(world.WorldConfig{
		Tuning:           tune,
		StrictInvariants: cfg.Server.StrictInvariants,
		MetaPath:         metaPath,
	}, reg, store, producer, logger)
	if err != nil {
		return fmt.Errorf("world: %w", err)
	}

	if meta, err := chunkcodec.ReadMeta(metaPath); err == nil {
		if err := w.ApplyMeta(meta); err != nil {
			return fmt.Errorf("apply %s: %w", metaPath, err)
		}
		logger.Info("resumed world", zap.String("clock", w.Clock().String()), zap.Time("saved_at", meta.SavedAt))
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", metaPath, err)
	}

	if cfg.Audit.Enabled {
		audit := persistlog.NewAuditLogger(worldDir)
		defer audit.Close()
		w.SetAuditSink(audit)
	}

	spawnCtx, spawnCancel := context.WithTimeout(ctx, cfg.Server.SpawnTimeout)
	spawnY, err := w.Spawn(spawnCtx, tune.World.SpawnX)
	spawnCancel()
	if err != nil {
		w.Streamer().Close()
		return fmt.Errorf("spawn: %w", err)
	}
	logger.Info("spawn ready", zap.Int("x", tune.World.SpawnX), zap.Int("y", spawnY))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("world stopped", zap.Error(err))
		}
	}()

	wsOpts := ws.DefaultOptions()
	wsOpts.IdleTimeout = cfg.Server.ViewerIdleTimeout

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(w))
	if envBool("TW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", stateHandler(w))
	} else {
		logger.Info("admin endpoints disabled (TW_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("TW_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger, wsOpts).Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", zap.String("addr", cfg.Server.Listen))
	serveErr := srv.ListenAndServe()
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	cancel()
	<-runDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := w.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("save world: %w", err))
	}
	logger.Info("world saved", zap.Uint64("tick", w.CurrentTick()))
	return serveErr
}

func newProducer(tune tuning.Tuning, reg *catalogs.Registry, logger *zap.Logger) (gen.Producer, error) {
	switch tune.World.Generator {
	case "", "flat":
		return gen.NewFlat(reg, tune.World.Seed, tune.World.Height)
	case "lua":
		return gen.NewLua(reg, tune.World.Seed, tune.World.Height, tune.World.Script, logger)
	default:
		return nil, fmt.Errorf("unknown generator %q", tune.World.Generator)
	}
}

func metricsHandler(w *world.World) http.HandlerFunc {
	name := w.Tuning().World.Name
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP tileworld_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE tileworld_world_tick gauge\n")
		fmt.Fprintf(rw, "tileworld_world_tick{world=%q} %d\n", name, w.CurrentTick())

		fmt.Fprintf(rw, "# HELP tileworld_resident_chunks Chunks held in memory.\n")
		fmt.Fprintf(rw, "# TYPE tileworld_resident_chunks gauge\n")
		fmt.Fprintf(rw, "tileworld_resident_chunks{world=%q} %d\n", name, len(w.Streamer().Resident()))

		fmt.Fprintf(rw, "# HELP tileworld_outstanding_chunks Chunks loading or saving.\n")
		fmt.Fprintf(rw, "# TYPE tileworld_outstanding_chunks gauge\n")
		fmt.Fprintf(rw, "tileworld_outstanding_chunks{world=%q} %d\n", name, w.Streamer().Outstanding())

		fmt.Fprintf(rw, "# HELP tileworld_sky_level Global sky light level (0..1).\n")
		fmt.Fprintf(rw, "# TYPE tileworld_sky_level gauge\n")
		fmt.Fprintf(rw, "tileworld_sky_level{world=%q} %.3f\n", name, w.Lighting().Level())
	}
}

func stateHandler(w *world.World) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		t := w.Tuning()
		resp := struct {
			World     string  `json:"world"`
			Dimension string  `json:"dimension"`
			Tick      uint64  `json:"tick"`
			Clock     string  `json:"clock"`
			SkyLevel  float32 `json:"sky_level"`
			Resident  []int   `json:"resident"`
		}{
			World:     t.World.Name,
			Dimension: t.World.Dimension,
			Tick:      w.CurrentTick(),
			Clock:     w.Clock().String(),
			SkyLevel:  w.Lighting().Level(),
			Resident:  w.Streamer().Resident(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
