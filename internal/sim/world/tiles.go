package world

import (
	"errors"
	"fmt"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/tilemap"
)

var (
	ErrUnknownTile = errors.New("world: unknown tile")
	ErrWrongLayer  = errors.New("world: tile belongs to the other layer")
	ErrOccupied    = errors.New("world: footprint not clear")
	ErrNoInventory = errors.New("world: tile has no inventory")
)

func (w *World) defaultTile(id uint16) chunk.Tile { return chunk.Tile{ID: id, MetaData: 1} }

// Tile returns the foreground tile at (x,y). Out-of-range or non-resident
// cells read as air.
func (w *World) Tile(x, y int) chunk.Tile {
	if !w.inHeight(y) {
		return w.defaultTile(w.reg.Air)
	}
	c, lx, ok := w.chunkAt(x)
	if !ok {
		return w.defaultTile(w.reg.Air)
	}
	t, err := c.Front(lx, y)
	if err != nil {
		return w.defaultTile(w.reg.Air)
	}
	return t
}

// BackWall returns the back wall tile at (x,y), back-air when unavailable.
func (w *World) BackWall(x, y int) chunk.Tile {
	if !w.inHeight(y) {
		return w.defaultTile(w.reg.BackAir)
	}
	c, lx, ok := w.chunkAt(x)
	if !ok {
		return w.defaultTile(w.reg.BackAir)
	}
	t, err := c.Back(lx, y)
	if err != nil {
		return w.defaultTile(w.reg.BackAir)
	}
	return t
}

// writable resolves (x,y) for a mutation.
func (w *World) writable(x, y int) (*chunk.Chunk, int, error) {
	width := w.cfg.Tuning.World.Width
	if !w.inHeight(y) || (width > 0 && (x < 0 || x >= width)) {
		return nil, 0, fmt.Errorf("%w: (%d,%d)", chunk.ErrOutOfBounds, x, y)
	}
	c, lx, ok := w.chunkAt(x)
	if !ok {
		return nil, 0, fmt.Errorf("%w: chunk %d", ErrChunkUnavailable, w.ChunkIndex(x))
	}
	return c, lx, nil
}

func (w *World) layerDef(id uint16, layer string) (catalogs.TileDef, error) {
	def, ok := w.reg.Def(id)
	if !ok {
		return def, fmt.Errorf("%w: %d", ErrUnknownTile, id)
	}
	if def.Layer != layer {
		return def, fmt.Errorf("%w: %s is %s", ErrWrongLayer, def.Name, def.Layer)
	}
	return def, nil
}

// newTile builds the tile placed for def. Only the origin cell (meta 1) of
// a container carries the inventory.
func (w *World) newTile(def catalogs.TileDef, meta uint8) chunk.Tile {
	t := chunk.Tile{ID: def.ID, MetaData: meta, Solid: def.Solid}
	if def.HasInventory() && meta == 1 {
		t.Inventory = make([]chunk.ItemStack, def.Inventory.Slots)
	}
	return t
}

func (w *World) emissive(id uint16) bool {
	_, _, ok := w.reg.Light(id)
	return ok
}

// SetTile places id in the foreground at (x,y). Multi-cell ids are routed to
// PlaceStructure; replacing any cell of a structure removes the whole
// structure first.
func (w *World) SetTile(x, y int, id uint16, cause string) error {
	def, err := w.layerDef(id, catalogs.LayerFront)
	if err != nil {
		return err
	}
	if def.MultiCell() {
		return w.PlaceStructure(x, y, id, cause)
	}
	c, lx, err := w.writable(x, y)
	if err != nil {
		return err
	}
	old, _ := c.Front(lx, y)
	if oldDef, ok := w.reg.Def(old.ID); ok && oldDef.MultiCell() {
		if err := w.clearStructure(x, y, old, oldDef, cause); err != nil {
			return err
		}
		if id == w.reg.Air {
			return nil
		}
		old, _ = c.Front(lx, y)
	}
	w.replaceFront(c, lx, x, y, old, w.newTile(def, 1), cause)
	return nil
}

// replaceFront applies a foreground change in order: drop the old light
// source, store the tile, refresh bitMaps around it, add the new source.
// The ambient column is redone when solidity flips.
func (w *World) replaceFront(c *chunk.Chunk, lx, x, y int, old, nt chunk.Tile, cause string) {
	if w.emissive(old.ID) {
		w.light.RemoveSource(x, y)
	}
	_ = c.SetFront(lx, y, nt)
	w.refreshBitMaps(catalogs.LayerFront, x, y)
	if w.emissive(nt.ID) {
		w.light.AddSource(x, y)
	}
	if old.Solid != nt.Solid {
		w.light.UpdateColumn(x)
	}
	w.auditTile(catalogs.LayerFront, x, y, old.ID, nt.ID, cause)
}

// PlaceStructure places a w x h tile with its top-left cell at (x,y). Cell
// (i,j) gets MetaData i*h + j + 1. Every cell must be resident and hold air.
func (w *World) PlaceStructure(x, y int, id uint16, cause string) error {
	def, err := w.layerDef(id, catalogs.LayerFront)
	if err != nil {
		return err
	}
	wd, ht := def.Size()
	if wd*ht > 255 {
		return fmt.Errorf("world: %s footprint %dx%d too large", def.Name, wd, ht)
	}

	type cell struct {
		c      *chunk.Chunk
		lx     int
		x, y   int
		meta   uint8
		before chunk.Tile
	}
	cells := make([]cell, 0, wd*ht)
	for i := 0; i < wd; i++ {
		for j := 0; j < ht; j++ {
			cx, cy := x+i, y+j
			c, lx, err := w.writable(cx, cy)
			if err != nil {
				return err
			}
			before, _ := c.Front(lx, cy)
			if before.ID != w.reg.Air {
				return fmt.Errorf("%w: (%d,%d) holds tile %d", ErrOccupied, cx, cy, before.ID)
			}
			cells = append(cells, cell{c: c, lx: lx, x: cx, y: cy, meta: uint8(i*ht + j + 1), before: before})
		}
	}
	for _, cl := range cells {
		w.replaceFront(cl.c, cl.lx, cl.x, cl.y, cl.before, w.newTile(def, cl.meta), cause)
	}
	return nil
}

// StructureOrigin returns the top-left cell of the structure covering
// (x,y). Single-cell tiles are their own origin.
func (w *World) StructureOrigin(x, y int) (ox, oy int) {
	t := w.Tile(x, y)
	def, ok := w.reg.Def(t.ID)
	if !ok || !def.MultiCell() || t.MetaData == 0 {
		return x, y
	}
	_, ht := def.Size()
	k := int(t.MetaData) - 1
	return x - k/ht, y - k%ht
}

// clearStructure replaces every cell of the structure covering (x,y) with
// air. It fails without touching anything if a cell is not resident.
func (w *World) clearStructure(x, y int, at chunk.Tile, def catalogs.TileDef, cause string) error {
	wd, ht := def.Size()
	ox, oy := w.StructureOrigin(x, y)
	air, _ := w.reg.Def(w.reg.Air)

	type cell struct {
		c      *chunk.Chunk
		lx     int
		x, y   int
		before chunk.Tile
	}
	var cells []cell
	for i := 0; i < wd; i++ {
		for j := 0; j < ht; j++ {
			cx, cy := ox+i, oy+j
			c, lx, err := w.writable(cx, cy)
			if err != nil {
				return err
			}
			before, _ := c.Front(lx, cy)
			if before.ID != at.ID || int(before.MetaData) != i*ht+j+1 {
				continue
			}
			cells = append(cells, cell{c: c, lx: lx, x: cx, y: cy, before: before})
		}
	}
	for _, cl := range cells {
		w.replaceFront(cl.c, cl.lx, cl.x, cl.y, cl.before, w.newTile(air, 1), cause)
	}
	return nil
}

// SetBackWall places a back-layer tile. Back walls do not affect light.
func (w *World) SetBackWall(x, y int, id uint16, cause string) error {
	def, err := w.layerDef(id, catalogs.LayerBack)
	if err != nil {
		return err
	}
	c, lx, err := w.writable(x, y)
	if err != nil {
		return err
	}
	old, _ := c.Back(lx, y)
	_ = c.SetBack(lx, y, w.newTile(def, 1))
	w.refreshBitMaps(catalogs.LayerBack, x, y)
	w.auditTile(catalogs.LayerBack, x, y, old.ID, id, cause)
	return nil
}

// Inventory returns a copy of the container slots of the structure covering
// (x,y), nil when it is not a container.
func (w *World) Inventory(x, y int) []chunk.ItemStack {
	ox, oy := w.StructureOrigin(x, y)
	return w.Tile(ox, oy).Clone().Inventory
}

// SetInventory replaces the slots of the container covering (x,y). inv may
// be shorter than the slot count; the rest are emptied.
func (w *World) SetInventory(x, y int, inv []chunk.ItemStack, cause string) error {
	ox, oy := w.StructureOrigin(x, y)
	c, lx, err := w.writable(ox, oy)
	if err != nil {
		return err
	}
	t, _ := c.Front(lx, oy)
	def, ok := w.reg.Def(t.ID)
	if !ok || !def.HasInventory() {
		return fmt.Errorf("%w: (%d,%d)", ErrNoInventory, ox, oy)
	}
	if len(inv) > def.Inventory.Slots {
		return fmt.Errorf("world: %d stacks exceed %s capacity %d", len(inv), def.Name, def.Inventory.Slots)
	}
	slots := make([]chunk.ItemStack, def.Inventory.Slots)
	copy(slots, inv)
	t.Inventory = slots
	_ = c.SetFront(lx, oy, t)
	w.auditTile(catalogs.LayerFront, ox, oy, t.ID, t.ID, cause)
	return nil
}

// refreshBitMaps recomputes the adjacency code of (x,y) and its four
// neighbours. Cells in chunks that are not resident are skipped.
func (w *World) refreshBitMaps(layer string, x, y int) {
	w.refreshBitMap(layer, x, y)
	w.refreshBitMap(layer, x, y-1)
	w.refreshBitMap(layer, x+1, y)
	w.refreshBitMap(layer, x, y+1)
	w.refreshBitMap(layer, x-1, y)
}

func (w *World) refreshBitMap(layer string, x, y int) {
	if !w.inHeight(y) {
		return
	}
	c, lx, ok := w.chunkAt(x)
	if !ok {
		return
	}
	t := w.layerTile(layer, x, y)
	def, ok := w.reg.Def(t.ID)
	if !ok || def.TileMap == catalogs.TileMapNone {
		return
	}
	code := tilemap.Code(def.TileMap,
		w.neighbor(layer, x, y-1),
		w.neighbor(layer, x+1, y),
		w.neighbor(layer, x, y+1),
		w.neighbor(layer, x-1, y))
	if code == t.BitMap {
		return
	}
	if layer == catalogs.LayerBack {
		_ = c.SetBackBitMap(lx, y, code)
	} else {
		_ = c.SetFrontBitMap(lx, y, code)
	}
}

func (w *World) layerTile(layer string, x, y int) chunk.Tile {
	if layer == catalogs.LayerBack {
		return w.BackWall(x, y)
	}
	return w.Tile(x, y)
}

func (w *World) neighbor(layer string, x, y int) tilemap.Neighbor {
	if !w.inHeight(y) {
		return tilemap.Neighbor{Empty: true}
	}
	if _, _, ok := w.chunkAt(x); !ok {
		return tilemap.Neighbor{Empty: true}
	}
	return tilemap.Describe(w.reg, w.layerTile(layer, x, y).ID)
}

// Light returns the combined light value at (x,y): 0 fully lit, 1 dark.
// Cells that are not resident read as dark.
func (w *World) Light(x, y int) float32 {
	if !w.inHeight(y) {
		return 1
	}
	c, lx, ok := w.chunkAt(x)
	if !ok {
		return 1
	}
	v, err := c.Light(lx, y)
	if err != nil {
		return 1
	}
	return v
}

// SetWeather stores the opaque weather state of the chunk holding column x.
func (w *World) SetWeather(x int, weather string) error {
	c, _, ok := w.chunkAt(x)
	if !ok {
		return fmt.Errorf("%w: chunk %d", ErrChunkUnavailable, w.ChunkIndex(x))
	}
	c.SetWeather(weather)
	return nil
}
