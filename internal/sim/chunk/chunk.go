package chunk

import (
	"errors"
	"sort"
	"sync"

	"tileworld.dev/internal/sim/mathx"
)

var ErrOutOfBounds = errors.New("chunk: coordinate out of bounds")

// Chunk is a Width x Height vertical strip of the world. Arrays are column-major
// (x*Height + y), y = 0 is the top row.
//
// The four array groups (front, back, light, flags) are guarded independently
// so a light update never blocks a tile write.
type Chunk struct {
	index  int
	width  int
	height int
	biome  Biome

	frontMu sync.RWMutex
	front   []Tile

	backMu sync.RWMutex
	back   []Tile

	lightMu    sync.RWMutex
	ambient    []float32
	diffuse    []float32
	combined   []float32
	lightStale bool
	sources    map[Pos]struct{}

	flagsMu    sync.RWMutex
	changed    bool
	lightDirty bool
	version    uint64
	weather    string
}

// New returns a chunk filled with air / back-air, light zeroed and lightDirty set.
func New(index, width, height int, biome Biome, air, backAir uint16) *Chunk {
	n := width * height
	c := &Chunk{
		index:      index,
		width:      width,
		height:     height,
		biome:      biome,
		front:      make([]Tile, n),
		back:       make([]Tile, n),
		ambient:    make([]float32, n),
		diffuse:    make([]float32, n),
		combined:   make([]float32, n),
		lightStale: true,
		sources:    map[Pos]struct{}{},
		lightDirty: true,
	}
	for i := 0; i < n; i++ {
		c.front[i] = Tile{ID: air, MetaData: 1}
		c.back[i] = Tile{ID: backAir, MetaData: 1}
	}
	return c
}

func (c *Chunk) Index() int   { return c.index }
func (c *Chunk) Width() int   { return c.width }
func (c *Chunk) Height() int  { return c.height }
func (c *Chunk) Biome() Biome { return c.biome }

// MinX is the world x of local column 0.
func (c *Chunk) MinX() int { return c.index * c.width }

func (c *Chunk) InBounds(x, y int) bool {
	return x >= 0 && x < c.width && y >= 0 && y < c.height
}

func (c *Chunk) idx(x, y int) int { return x*c.height + y }

func (c *Chunk) Front(x, y int) (Tile, error) {
	if !c.InBounds(x, y) {
		return Tile{}, ErrOutOfBounds
	}
	c.frontMu.RLock()
	t := c.front[c.idx(x, y)].Clone()
	c.frontMu.RUnlock()
	return t, nil
}

// FrontID avoids the inventory copy of Front.
func (c *Chunk) FrontID(x, y int) (uint16, error) {
	if !c.InBounds(x, y) {
		return 0, ErrOutOfBounds
	}
	c.frontMu.RLock()
	id := c.front[c.idx(x, y)].ID
	c.frontMu.RUnlock()
	return id, nil
}

func (c *Chunk) SetFront(x, y int, t Tile) error {
	if !c.InBounds(x, y) {
		return ErrOutOfBounds
	}
	t = t.Clone()
	c.frontMu.Lock()
	c.front[c.idx(x, y)] = t
	c.frontMu.Unlock()
	c.touch()
	return nil
}

func (c *Chunk) SetFrontBitMap(x, y int, bm uint8) error {
	if !c.InBounds(x, y) {
		return ErrOutOfBounds
	}
	c.frontMu.Lock()
	i := c.idx(x, y)
	same := c.front[i].BitMap == bm
	c.front[i].BitMap = bm
	c.frontMu.Unlock()
	if !same {
		c.touch()
	}
	return nil
}

func (c *Chunk) Back(x, y int) (Tile, error) {
	if !c.InBounds(x, y) {
		return Tile{}, ErrOutOfBounds
	}
	c.backMu.RLock()
	t := c.back[c.idx(x, y)].Clone()
	c.backMu.RUnlock()
	return t, nil
}

func (c *Chunk) SetBack(x, y int, t Tile) error {
	if !c.InBounds(x, y) {
		return ErrOutOfBounds
	}
	t = t.Clone()
	c.backMu.Lock()
	c.back[c.idx(x, y)] = t
	c.backMu.Unlock()
	c.touch()
	return nil
}

func (c *Chunk) SetBackBitMap(x, y int, bm uint8) error {
	if !c.InBounds(x, y) {
		return ErrOutOfBounds
	}
	c.backMu.Lock()
	i := c.idx(x, y)
	same := c.back[i].BitMap == bm
	c.back[i].BitMap = bm
	c.backMu.Unlock()
	if !same {
		c.touch()
	}
	return nil
}

// SurfaceY returns the row of the first solid front tile in column x, or
// Height() when the column is open to the sky.
func (c *Chunk) SurfaceY(x int) int {
	if x < 0 || x >= c.width {
		return c.height
	}
	c.frontMu.RLock()
	defer c.frontMu.RUnlock()
	base := x * c.height
	for y := 0; y < c.height; y++ {
		if c.front[base+y].Solid {
			return y
		}
	}
	return c.height
}

// Light returns the combined light value (0 = fully lit, 1 = dark),
// refreshing the combined plane first if it is stale.
func (c *Chunk) Light(x, y int) (float32, error) {
	if !c.InBounds(x, y) {
		return 1, ErrOutOfBounds
	}
	i := c.idx(x, y)
	c.lightMu.RLock()
	if !c.lightStale {
		v := c.combined[i]
		c.lightMu.RUnlock()
		return v, nil
	}
	c.lightMu.RUnlock()

	c.lightMu.Lock()
	c.refreshCombinedLocked()
	v := c.combined[i]
	c.lightMu.Unlock()
	return v, nil
}

func (c *Chunk) Ambient(x, y int) (float32, error) {
	if !c.InBounds(x, y) {
		return 0, ErrOutOfBounds
	}
	c.lightMu.RLock()
	defer c.lightMu.RUnlock()
	return c.ambient[c.idx(x, y)], nil
}

func (c *Chunk) Diffuse(x, y int) (float32, error) {
	if !c.InBounds(x, y) {
		return 0, ErrOutOfBounds
	}
	c.lightMu.RLock()
	defer c.lightMu.RUnlock()
	return c.diffuse[c.idx(x, y)], nil
}

func (c *Chunk) SetAmbient(x, y int, v float32) error {
	if !c.InBounds(x, y) {
		return ErrOutOfBounds
	}
	c.lightMu.Lock()
	c.ambient[c.idx(x, y)] = v
	c.lightStale = true
	c.lightMu.Unlock()
	return nil
}

func (c *Chunk) SetDiffuse(x, y int, v float32) error {
	if !c.InBounds(x, y) {
		return ErrOutOfBounds
	}
	c.lightMu.Lock()
	c.diffuse[c.idx(x, y)] = v
	c.lightStale = true
	c.lightMu.Unlock()
	return nil
}

// SetAmbientColumn writes vals[y] into column x.
func (c *Chunk) SetAmbientColumn(x int, vals []float32) error {
	if x < 0 || x >= c.width || len(vals) != c.height {
		return ErrOutOfBounds
	}
	c.lightMu.Lock()
	copy(c.ambient[x*c.height:(x+1)*c.height], vals)
	c.lightStale = true
	c.lightMu.Unlock()
	return nil
}

// ClearDiffuse zeroes diffuse light in the local rectangle [x0,x1]x[y0,y1],
// clipped to the chunk.
func (c *Chunk) ClearDiffuse(x0, x1, y0, y1 int) {
	x0, x1 = mathx.ClampInt(x0, 0, c.width-1), mathx.ClampInt(x1, 0, c.width-1)
	y0, y1 = mathx.ClampInt(y0, 0, c.height-1), mathx.ClampInt(y1, 0, c.height-1)
	c.lightMu.Lock()
	for x := x0; x <= x1; x++ {
		base := x * c.height
		for y := y0; y <= y1; y++ {
			c.diffuse[base+y] = 0
		}
	}
	c.lightStale = true
	c.lightMu.Unlock()
}

// RaiseDiffuse sets diffuse at (x,y) to max(current, v).
func (c *Chunk) RaiseDiffuse(x, y int, v float32) error {
	if !c.InBounds(x, y) {
		return ErrOutOfBounds
	}
	c.lightMu.Lock()
	i := c.idx(x, y)
	if v > c.diffuse[i] {
		c.diffuse[i] = v
		c.lightStale = true
	}
	c.lightMu.Unlock()
	return nil
}

// ResetLight zeroes all three planes.
func (c *Chunk) ResetLight() {
	c.lightMu.Lock()
	for i := range c.ambient {
		c.ambient[i] = 0
		c.diffuse[i] = 0
	}
	c.lightStale = true
	c.lightMu.Unlock()
}

func (c *Chunk) LightStale() bool {
	c.lightMu.RLock()
	defer c.lightMu.RUnlock()
	return c.lightStale
}

func (c *Chunk) RefreshCombined() {
	c.lightMu.Lock()
	c.refreshCombinedLocked()
	c.lightMu.Unlock()
}

func (c *Chunk) refreshCombinedLocked() {
	if !c.lightStale {
		return
	}
	for i := range c.combined {
		c.combined[i] = mathx.Saturate(1 - c.ambient[i] - c.diffuse[i])
	}
	c.lightStale = false
}

func (c *Chunk) AddLightSource(p Pos) {
	c.lightMu.Lock()
	c.sources[p] = struct{}{}
	c.lightMu.Unlock()
}

func (c *Chunk) RemoveLightSource(p Pos) {
	c.lightMu.Lock()
	delete(c.sources, p)
	c.lightMu.Unlock()
}

func (c *Chunk) HasLightSource(p Pos) bool {
	c.lightMu.RLock()
	defer c.lightMu.RUnlock()
	_, ok := c.sources[p]
	return ok
}

// LightSources returns the registered sources ordered by x, then y.
func (c *Chunk) LightSources() []Pos {
	c.lightMu.RLock()
	out := make([]Pos, 0, len(c.sources))
	for p := range c.sources {
		out = append(out, p)
	}
	c.lightMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// touch marks a persisted mutation.
func (c *Chunk) touch() {
	c.flagsMu.Lock()
	c.changed = true
	c.version++
	c.flagsMu.Unlock()
}

func (c *Chunk) Changed() bool {
	c.flagsMu.RLock()
	defer c.flagsMu.RUnlock()
	return c.changed
}

func (c *Chunk) SetChanged(v bool) {
	c.flagsMu.Lock()
	c.changed = v
	c.flagsMu.Unlock()
}

// ClearChangedAt clears changed only if no mutation happened since version v.
func (c *Chunk) ClearChangedAt(v uint64) bool {
	c.flagsMu.Lock()
	defer c.flagsMu.Unlock()
	if c.version != v {
		return false
	}
	c.changed = false
	return true
}

func (c *Chunk) LightDirty() bool {
	c.flagsMu.RLock()
	defer c.flagsMu.RUnlock()
	return c.lightDirty
}

func (c *Chunk) SetLightDirty(v bool) {
	c.flagsMu.Lock()
	c.lightDirty = v
	c.flagsMu.Unlock()
}

func (c *Chunk) Version() uint64 {
	c.flagsMu.RLock()
	defer c.flagsMu.RUnlock()
	return c.version
}

func (c *Chunk) Weather() string {
	c.flagsMu.RLock()
	defer c.flagsMu.RUnlock()
	return c.weather
}

func (c *Chunk) SetWeather(w string) {
	c.flagsMu.Lock()
	if c.weather != w {
		c.weather = w
		c.changed = true
		c.version++
	}
	c.flagsMu.Unlock()
}

// Tiles returns deep copies of both layers in column-major order.
func (c *Chunk) Tiles() (front, back []Tile) {
	c.frontMu.RLock()
	front = make([]Tile, len(c.front))
	for i, t := range c.front {
		front[i] = t.Clone()
	}
	c.frontMu.RUnlock()

	c.backMu.RLock()
	back = make([]Tile, len(c.back))
	for i, t := range c.back {
		back[i] = t.Clone()
	}
	c.backMu.RUnlock()
	return front, back
}
