package world

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tileworld.dev/internal/persistence/chunkcodec"
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/gen"
	"tileworld.dev/internal/sim/lighting"
)

// ReconcileResidency requests the chunks the viewers need and evicts the
// rest. It never blocks.
func (w *World) ReconcileResidency(viewerX ...int) {
	w.chunks.Reconcile(w.chunks.Wanted(viewerX...))
}

// TickLighting feeds the clock into the ambient level and relights chunks
// that became resident since the last call.
func (w *World) TickLighting() {
	w.light.SetLevel(lighting.GlobalLevel(w.clock.Hour(), w.cfg.Tuning.Lighting))
	w.light.ApplyPendingUpdates()
}

// Tick advances the world one step for the given viewer columns.
func (w *World) Tick(viewerX ...int) {
	w.clock.Advance()
	w.ReconcileResidency(viewerX...)
	w.chunks.Drain()
	w.TickLighting()
	w.tick.Add(1)
}

// Spawn loads the window around column x, blocking until it is resident and
// lit, and returns the first open row above the ground at x.
func (w *World) Spawn(ctx context.Context, x int) (int, error) {
	wanted := w.chunks.Wanted(x)
	if len(wanted) == 0 {
		return 0, fmt.Errorf("world: spawn column %d outside the world", x)
	}
	start := time.Now()
	if err := w.chunks.LoadAndWait(ctx, wanted); err != nil {
		return 0, fmt.Errorf("world: spawn at %d: %w", x, err)
	}
	w.TickLighting()

	y := w.Height() - 1
	if c, lx, ok := w.chunkAt(x); ok {
		y = max(c.SurfaceY(lx)-1, 0)
	}
	w.log.Info("spawned",
		zap.Int("x", x), zap.Int("y", y),
		zap.Ints("chunks", wanted),
		zap.Duration("took", time.Since(start)))
	return y, nil
}

// Shutdown saves every changed resident chunk, writes the world metadata
// and stops the I/O workers. It blocks.
func (w *World) Shutdown(ctx context.Context) error {
	err := w.chunks.SaveAll(ctx)
	if err != nil {
		w.log.Error("save all failed", zap.Error(err))
	}
	if w.cfg.MetaPath != "" {
		if merr := chunkcodec.WriteMeta(w.cfg.MetaPath, w.Meta()); merr != nil {
			w.log.Error("write world meta failed", zap.Error(merr))
			if err == nil {
				err = merr
			}
		}
	}
	w.chunks.Close()
	w.log.Info("world shut down", zap.Uint64("tick", w.tick.Load()))
	return err
}

// Meta describes the world for the metadata file.
func (w *World) Meta() chunkcodec.WorldMetaV1 {
	t := w.cfg.Tuning
	regions := 0
	if n := t.ChunkCount(); n > 0 {
		regions = (n + gen.RegionChunks - 1) / gen.RegionChunks
	}
	return chunkcodec.WorldMetaV1{
		Version:          chunkcodec.MetaVersion,
		Name:             t.World.Name,
		Dimension:        t.World.Dimension,
		Seed:             t.World.Seed,
		Width:            t.World.Width,
		Height:           t.World.Height,
		ChunkWidth:       t.World.ChunkWidth,
		ChunkCount:       t.ChunkCount(),
		ClockTicks:       w.clock.Ticks(),
		Difficulty:       t.World.Difficulty,
		BiomeRegions:     regions,
		AverageSkyHeight: w.AverageSkyHeight(),
		TilesDigest:      w.reg.Digest,
		SavedAt:          time.Now().UTC(),
	}
}

// ApplyMeta restores state carried by a metadata file. Geometry and tile
// catalog must match the running configuration.
func (w *World) ApplyMeta(m chunkcodec.WorldMetaV1) error {
	t := w.cfg.Tuning
	if m.ChunkWidth != t.World.ChunkWidth || m.Height != t.World.Height || m.Width != t.World.Width {
		return fmt.Errorf("world meta geometry %dx%d/%d does not match tuning %dx%d/%d",
			m.Width, m.Height, m.ChunkWidth, t.World.Width, t.World.Height, t.World.ChunkWidth)
	}
	if m.TilesDigest != "" && m.TilesDigest != w.reg.Digest {
		w.log.Warn("tile catalog changed since the world was saved",
			zap.String("saved", m.TilesDigest), zap.String("current", w.reg.Digest))
	}
	w.clock.SetTicks(m.ClockTicks)
	return nil
}

// HeightMap returns the surface row of every column of the resident chunks,
// keyed by world x.
func (w *World) HeightMap() map[int]int {
	out := map[int]int{}
	for _, idx := range w.chunks.Resident() {
		c, ok := w.chunks.Get(idx)
		if !ok {
			continue
		}
		for lx := 0; lx < c.Width(); lx++ {
			out[c.MinX()+lx] = c.SurfaceY(lx)
		}
	}
	return out
}

// AverageSkyHeight is the mean surface row over resident columns, 0 when
// nothing is resident.
func (w *World) AverageSkyHeight() int {
	hm := w.HeightMap()
	if len(hm) == 0 {
		return 0
	}
	sum := 0
	for _, y := range hm {
		sum += y
	}
	return sum / len(hm)
}

// onResident runs on the simulation goroutine when a chunk enters the map.
// Chunks are produced with in-chunk adjacency only, so each border column is
// redone together with the facing column of its neighbour, but only when
// that neighbour is in memory. Against an absent neighbour the stored
// bitmaps are kept as they are, which keeps a clean reload unchanged.
func (w *World) onResident(c *chunk.Chunk) {
	minX, maxX := c.MinX(), c.MinX()+c.Width()-1
	var cols []int
	if _, ok := w.chunks.Get(c.Index() - 1); ok {
		cols = append(cols, minX-1, minX)
	}
	if _, ok := w.chunks.Get(c.Index() + 1); ok {
		cols = append(cols, maxX, maxX+1)
	}
	for _, x := range cols {
		for y := 0; y < c.Height(); y++ {
			w.refreshBitMap(catalogs.LayerFront, x, y)
			w.refreshBitMap(catalogs.LayerBack, x, y)
		}
	}
	c.SetLightDirty(true)
	for _, l := range w.snapshotListeners() {
		l.ChunkResident(c.Index())
	}
}

func (w *World) onEvicted(idx int) {
	for _, l := range w.snapshotListeners() {
		l.ChunkEvicted(idx)
	}
}
