// Package tilemap derives the adjacency code (bitMap) renderers use to pick
// a tile variant.
package tilemap

import "tileworld.dev/internal/sim/catalogs"

// Neighbor describes one adjacent cell. Callers describe absent cells
// (unloaded chunk, outside the world) as Empty.
type Neighbor struct {
	Empty  bool
	Solid  bool
	Pillar bool
}

// Describe builds a Neighbor for tile id. Every back wall other than
// back-air joins its neighbours.
func Describe(reg *catalogs.Registry, id uint16) Neighbor {
	if id == reg.Air || id == reg.BackAir {
		return Neighbor{Empty: true}
	}
	d, ok := reg.Def(id)
	if !ok {
		return Neighbor{Empty: true}
	}
	solid := d.Solid || d.Layer == catalogs.LayerBack
	return Neighbor{Solid: solid, Pillar: d.TileMap == catalogs.TileMapPillar}
}

// Code returns the bitMap for a tile with the given tile_map kind.
// Tiles without a kind keep code 0.
func Code(kind string, up, right, down, left Neighbor) uint8 {
	switch kind {
	case catalogs.TileMapGeneral:
		return General(up, right, down, left)
	case catalogs.TileMapPillar:
		return Pillar(up, down)
	default:
		return 0
	}
}

// General: up +1, right +2, down +4, left +8 for each solid neighbour.
func General(up, right, down, left Neighbor) uint8 {
	var bit uint8
	if up.Solid {
		bit += 1
	}
	if right.Solid {
		bit += 2
	}
	if down.Solid {
		bit += 4
	}
	if left.Solid {
		bit += 8
	}
	return bit
}

// Pillar codes: 0 capped above, 1 continues below, 2 bottom segment,
// 3 wedged between two non-pillar tiles.
func Pillar(up, down Neighbor) uint8 {
	bit := uint8(2)
	if down.Pillar {
		bit = 1
	}
	upBlocked := !up.Empty && !up.Pillar
	downBlocked := !down.Empty && !down.Pillar
	if upBlocked {
		bit = 0
	}
	if upBlocked && downBlocked {
		bit = 3
	}
	return bit
}
