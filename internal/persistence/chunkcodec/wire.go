package chunkcodec

import (
	"fmt"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
)

type WireCell struct {
	ID        uint16            `json:"id"`
	MetaData  uint8             `json:"meta_data"`
	BitMap    uint8             `json:"bit_map"`
	Inventory []chunk.ItemStack `json:"inventory,omitempty"`
}

type WirePos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// WireChunk is the network form of a chunk. Front and Back are indexed
// [x][y]; default cells are null.
type WireChunk struct {
	Biome        chunk.Biome   `json:"biome"`
	Front        [][]*WireCell `json:"front"`
	Back         [][]*WireCell `json:"back"`
	ChunkIndex   int           `json:"chunk_index"`
	Changed      bool          `json:"changed"`
	Height       int           `json:"height"`
	LightSources []WirePos     `json:"light_sources"`
	Weather      string        `json:"weather"`
}

func (c *Codec) Wire(ch *chunk.Chunk) WireChunk {
	front, back := ch.Tiles()
	srcs := ch.LightSources()
	w := WireChunk{
		Biome:        ch.Biome(),
		Front:        wireLayer(front, ch.Width(), ch.Height(), c.reg.Air),
		Back:         wireLayer(back, ch.Width(), ch.Height(), c.reg.BackAir),
		ChunkIndex:   ch.Index(),
		Changed:      ch.Changed(),
		Height:       ch.Height(),
		LightSources: make([]WirePos, 0, len(srcs)),
		Weather:      ch.Weather(),
	}
	for _, p := range srcs {
		w.LightSources = append(w.LightSources, WirePos{X: p.X, Y: p.Y})
	}
	return w
}

func wireLayer(tiles []chunk.Tile, width, height int, def uint16) [][]*WireCell {
	out := make([][]*WireCell, width)
	for x := 0; x < width; x++ {
		col := make([]*WireCell, height)
		for y := 0; y < height; y++ {
			t := tiles[x*height+y]
			if t.ID == def {
				continue
			}
			col[y] = &WireCell{ID: t.ID, MetaData: t.MetaData, BitMap: t.BitMap, Inventory: t.Inventory}
		}
		out[x] = col
	}
	return out
}

// FromWire rebuilds a chunk from its wire form, as a viewer would.
func (c *Codec) FromWire(w WireChunk) (*chunk.Chunk, error) {
	if len(w.Front) != c.width || len(w.Back) != c.width || w.Height != c.height {
		return nil, fmt.Errorf("%w: wire geometry", ErrCorrupt)
	}
	ch := chunk.New(w.ChunkIndex, c.width, c.height, w.Biome, c.reg.Air, c.reg.BackAir)
	for x := 0; x < c.width; x++ {
		if len(w.Front[x]) != c.height || len(w.Back[x]) != c.height {
			return nil, fmt.Errorf("%w: wire column %d", ErrCorrupt, x)
		}
		for y := 0; y < c.height; y++ {
			if cell := w.Front[x][y]; cell != nil {
				def, ok := c.reg.Def(cell.ID)
				if !ok || def.Layer != catalogs.LayerFront {
					return nil, fmt.Errorf("%w: front tile id %d", ErrCorrupt, cell.ID)
				}
				_ = ch.SetFront(x, y, chunk.Tile{ID: cell.ID, MetaData: cell.MetaData, BitMap: cell.BitMap, Solid: def.Solid, Inventory: cell.Inventory})
			}
			if cell := w.Back[x][y]; cell != nil {
				def, ok := c.reg.Def(cell.ID)
				if !ok || def.Layer != catalogs.LayerBack {
					return nil, fmt.Errorf("%w: back tile id %d", ErrCorrupt, cell.ID)
				}
				_ = ch.SetBack(x, y, chunk.Tile{ID: cell.ID, MetaData: cell.MetaData, BitMap: cell.BitMap, Solid: def.Solid, Inventory: cell.Inventory})
			}
		}
	}
	for _, p := range w.LightSources {
		ch.AddLightSource(chunk.Pos{X: p.X, Y: p.Y})
	}
	ch.SetWeather(w.Weather)
	ch.SetChanged(w.Changed)
	return ch, nil
}
