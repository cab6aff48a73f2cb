// Package gen produces default chunks for indices that have no saved blob.
package gen

import (
	"fmt"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/mathx"
	"tileworld.dev/internal/sim/tilemap"
)

// Producer fills freshly allocated chunks. Implementations are called from
// streamer workers and must be safe for concurrent use.
type Producer interface {
	Biome(idx int) chunk.Biome
	Fill(c *chunk.Chunk) error
}

// RegionChunks is the width of one biome region, in chunks.
const RegionChunks = 4

var Biomes = []chunk.Biome{
	{ID: 0, Name: "plains"},
	{ID: 1, Name: "forest"},
	{ID: 2, Name: "desert"},
}

// BiomeAt assigns biomes per region of RegionChunks chunk indices.
func BiomeAt(seed int64, idx int) chunk.Biome {
	region := mathx.FloorDiv(idx, RegionChunks)
	return Biomes[mathx.Hash2(seed+7, region, 0)%uint64(len(Biomes))]
}

// Column is the vertical profile of one generated column.
type Column struct {
	Surface     int
	Top         uint16
	Filler      uint16
	FillerDepth int
	Base        uint16
	Wall        uint16
}

// Palette holds the tile ids producers place. Missing optional names fall
// back to Dirt / back-air.
type Palette struct {
	Dirt, Grass, Sand, Stone, Bedrock uint16
	DirtWall, StoneWall               uint16
	HasBedrock                        bool
}

func NewPalette(reg *catalogs.Registry) (Palette, error) {
	dirt, ok := reg.ID("DIRT")
	if !ok {
		return Palette{}, fmt.Errorf("gen: registry has no DIRT tile")
	}
	or := func(name string, def uint16) uint16 {
		if id, ok := reg.ID(name); ok {
			return id
		}
		return def
	}
	p := Palette{
		Dirt:      dirt,
		Grass:     or("GRASS", dirt),
		Sand:      or("SAND", dirt),
		Stone:     or("STONE", dirt),
		DirtWall:  or("DIRT_WALL", reg.BackAir),
		StoneWall: or("STONE_WALL", reg.BackAir),
	}
	p.Bedrock, p.HasBedrock = reg.ID("BEDROCK")
	return p, nil
}

// fillColumn writes col into local column lx of c.
func fillColumn(reg *catalogs.Registry, p Palette, c *chunk.Chunk, lx int, col Column) {
	h := c.Height()
	surface := mathx.ClampInt(col.Surface, 1, h-1)
	for y := surface; y < h; y++ {
		id := col.Base
		switch {
		case y == surface:
			id = col.Top
		case y <= surface+col.FillerDepth:
			id = col.Filler
		}
		if y == h-1 && p.HasBedrock {
			id = p.Bedrock
		}
		_ = c.SetFront(lx, y, tileFor(reg, id))
		if y > surface && col.Wall != reg.BackAir {
			_ = c.SetBack(lx, y, tileFor(reg, col.Wall))
		}
	}
}

func tileFor(reg *catalogs.Registry, id uint16) chunk.Tile {
	return chunk.Tile{ID: id, MetaData: 1, Solid: reg.Solid(id)}
}

func finish(reg *catalogs.Registry, c *chunk.Chunk) {
	tilemap.FillChunk(reg, c)
	// A produced chunk has never been persisted.
	c.SetChanged(true)
}
