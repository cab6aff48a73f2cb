package tilemap

import (
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
)

// FillChunk computes bitMaps for both layers of c using only in-chunk
// neighbours; cells beyond the chunk edge count as empty.
func FillChunk(reg *catalogs.Registry, c *chunk.Chunk) {
	front, back := c.Tiles()
	w, h := c.Width(), c.Height()
	fill := func(tiles []chunk.Tile, set func(x, y int, bm uint8) error) {
		at := func(x, y int) Neighbor {
			if x < 0 || x >= w || y < 0 || y >= h {
				return Neighbor{Empty: true}
			}
			return Describe(reg, tiles[x*h+y].ID)
		}
		for x := 0; x < w; x++ {
			for y := 0; y < h; y++ {
				d, ok := reg.Def(tiles[x*h+y].ID)
				if !ok || d.TileMap == catalogs.TileMapNone {
					continue
				}
				code := Code(d.TileMap, at(x, y-1), at(x+1, y), at(x, y+1), at(x-1, y))
				if code != tiles[x*h+y].BitMap {
					_ = set(x, y, code)
				}
			}
		}
	}
	fill(front, c.SetFrontBitMap)
	fill(back, c.SetBackBitMap)
}
