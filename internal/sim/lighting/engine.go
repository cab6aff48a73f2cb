package lighting

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/mathx"
	"tileworld.dev/internal/sim/tuning"
)

// ChunkSet is the view of resident chunks the engine works on.
type ChunkSet interface {
	Get(idx int) (*chunk.Chunk, bool)
	Resident() []int
}

// Engine computes ambient and diffuse light. It is driven from the
// simulation goroutine; chunks that are not resident are skipped.
type Engine struct {
	reg    *catalogs.Registry
	cfg    tuning.Lighting
	width  int
	height int
	chunks ChunkSet
	log    *zap.Logger

	mu       sync.Mutex
	level    float32
	observed bool
}

func New(reg *catalogs.Registry, cfg tuning.Lighting, chunkWidth, height int, chunks ChunkSet, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		reg:    reg,
		cfg:    cfg,
		width:  chunkWidth,
		height: height,
		chunks: chunks,
		log:    log.Named("lighting"),
		level:  cfg.NightLevel,
	}
}

func (e *Engine) Level() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// SetLevel records the global sky level. Ambient planes of every resident
// chunk are recomputed only when the level differs from the last one seen.
func (e *Engine) SetLevel(level float32) bool {
	e.mu.Lock()
	if e.observed && e.level == level {
		e.mu.Unlock()
		return false
	}
	e.level = level
	e.observed = true
	e.mu.Unlock()

	resident := e.chunks.Resident()
	for _, idx := range resident {
		if c, ok := e.chunks.Get(idx); ok {
			e.RecomputeAmbient(c)
		}
	}
	e.log.Debug("ambient level changed", zap.Float32("level", level), zap.Int("chunks", len(resident)))
	return true
}

func (e *Engine) RecomputeAmbient(c *chunk.Chunk) {
	level := e.Level()
	col := make([]float32, c.Height())
	for x := 0; x < c.Width(); x++ {
		AmbientColumn(level, e.cfg.AmbientFalloff, c.SurfaceY(x), col)
		_ = c.SetAmbientColumn(x, col)
	}
}

// UpdateColumn recomputes ambient light for world column wx after a
// solidity change.
func (e *Engine) UpdateColumn(wx int) {
	c, ok := e.chunks.Get(mathx.FloorDiv(wx, e.width))
	if !ok {
		return
	}
	lx := mathx.Mod(wx, e.width)
	col := make([]float32, c.Height())
	AmbientColumn(e.Level(), e.cfg.AmbientFalloff, c.SurfaceY(lx), col)
	_ = c.SetAmbientColumn(lx, col)
}

// AddSource registers an emissive tile at world (wx,wy) and relights its
// neighbourhood.
func (e *Engine) AddSource(wx, wy int) {
	c, ok := e.chunks.Get(mathx.FloorDiv(wx, e.width))
	if !ok {
		return
	}
	c.AddLightSource(chunk.Pos{X: mathx.Mod(wx, e.width), Y: wy})
	r := e.reg.MaxLightRadius
	e.recomputeRegion(wx-r, wx+r, wy-r, wy+r)
}

// RemoveSource drops the source at (wx,wy) and relights its neighbourhood
// from the remaining sources.
func (e *Engine) RemoveSource(wx, wy int) {
	c, ok := e.chunks.Get(mathx.FloorDiv(wx, e.width))
	if !ok {
		return
	}
	p := chunk.Pos{X: mathx.Mod(wx, e.width), Y: wy}
	if !c.HasLightSource(p) {
		return
	}
	c.RemoveLightSource(p)
	r := e.reg.MaxLightRadius
	e.recomputeRegion(wx-r, wx+r, wy-r, wy+r)
}

// RecomputeChunk relights chunk idx completely, including the strips of its
// neighbours that its border sources reach, and clears lightDirty.
func (e *Engine) RecomputeChunk(idx int) {
	c, ok := e.chunks.Get(idx)
	if !ok {
		return
	}
	e.RecomputeAmbient(c)
	r := e.reg.MaxLightRadius
	minX := c.MinX()
	e.recomputeRegion(minX-r, minX+c.Width()-1+r, 0, c.Height()-1)
	c.SetLightDirty(false)
}

// ApplyPendingUpdates relights every resident chunk flagged lightDirty and
// returns how many were processed.
func (e *Engine) ApplyPendingUpdates() int {
	n := 0
	for _, idx := range e.chunks.Resident() {
		c, ok := e.chunks.Get(idx)
		if !ok || !c.LightDirty() {
			continue
		}
		e.RecomputeChunk(idx)
		n++
	}
	if n > 0 {
		e.log.Debug("relit chunks", zap.Int("count", n))
	}
	return n
}

// recomputeRegion rebuilds diffuse light inside the world rectangle
// [x0,x1]x[y0,y1] from every source close enough to reach it.
func (e *Engine) recomputeRegion(x0, x1, y0, y1 int) {
	y0 = mathx.ClampInt(y0, 0, e.height-1)
	y1 = mathx.ClampInt(y1, 0, e.height-1)

	for ci := mathx.FloorDiv(x0, e.width); ci <= mathx.FloorDiv(x1, e.width); ci++ {
		c, ok := e.chunks.Get(ci)
		if !ok {
			continue
		}
		minX := c.MinX()
		c.ClearDiffuse(x0-minX, x1-minX, y0, y1)
	}

	r := e.reg.MaxLightRadius
	for ci := mathx.FloorDiv(x0-r, e.width); ci <= mathx.FloorDiv(x1+r, e.width); ci++ {
		c, ok := e.chunks.Get(ci)
		if !ok {
			continue
		}
		minX := c.MinX()
		for _, p := range c.LightSources() {
			sx, sy := minX+p.X, p.Y
			if sx < x0-r || sx > x1+r || sy < y0-r || sy > y1+r {
				continue
			}
			id, err := c.FrontID(p.X, p.Y)
			if err != nil {
				continue
			}
			radius, strength, emits := e.reg.Light(id)
			if !emits {
				continue
			}
			e.splat(sx, sy, radius, strength, x0, x1, y0, y1)
		}
	}
}

// splat raises diffuse light around (sx,sy) within the clip rectangle.
func (e *Engine) splat(sx, sy, radius int, strength float32, x0, x1, y0, y1 int) {
	ax0, ax1 := max(sx-radius, x0), min(sx+radius, x1)
	ay0, ay1 := max(sy-radius, y0), min(sy+radius, y1)
	var cur *chunk.Chunk
	curIdx := 0
	for x := ax0; x <= ax1; x++ {
		ci := mathx.FloorDiv(x, e.width)
		if cur == nil || ci != curIdx {
			c, ok := e.chunks.Get(ci)
			if !ok {
				cur = nil
				curIdx = ci
				continue
			}
			cur, curIdx = c, ci
		}
		lx := x - cur.MinX()
		for y := ay0; y <= ay1; y++ {
			v := Attenuate(x-sx, y-sy, radius, strength)
			if v > 0 {
				_ = cur.RaiseDiffuse(lx, y, v)
			}
		}
	}
}

// Attenuate is the contribution of a source with the given radius and
// strength at offset (dx,dy): strength*(1 - d/(radius+1)) for Euclidean
// distance d <= radius, 0 beyond.
func Attenuate(dx, dy, radius int, strength float32) float32 {
	d := math.Sqrt(float64(dx*dx + dy*dy))
	if d > float64(radius) {
		return 0
	}
	return strength * float32(1-d/float64(radius+1))
}
