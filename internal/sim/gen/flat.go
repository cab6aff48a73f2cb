package gen

import (
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/mathx"
)

// Flat produces gently rolling, always-walkable terrain.
type Flat struct {
	reg     *catalogs.Registry
	pal     Palette
	seed    int64
	height  int
	lattice int
}

func NewFlat(reg *catalogs.Registry, seed int64, height int) (*Flat, error) {
	pal, err := NewPalette(reg)
	if err != nil {
		return nil, err
	}
	return &Flat{reg: reg, pal: pal, seed: seed, height: height, lattice: 8}, nil
}

func (f *Flat) Biome(idx int) chunk.Biome { return BiomeAt(f.seed, idx) }

// SkyHeight is the mean surface row.
func (f *Flat) SkyHeight() int { return f.height * 3 / 8 }

// SurfaceAt interpolates a hashed lattice so neighbouring columns differ by
// at most one row.
func (f *Flat) SurfaceAt(wx int) int {
	cell := mathx.FloorDiv(wx, f.lattice)
	t := mathx.Mod(wx, f.lattice)
	a := f.offset(cell)
	b := f.offset(cell + 1)
	return f.SkyHeight() + a + (b-a)*t/f.lattice
}

func (f *Flat) offset(cell int) int {
	return int(mathx.Hash2(f.seed, cell, 1)%7) - 3
}

func (f *Flat) Column(wx int, biome chunk.Biome) Column {
	col := Column{
		Surface:     f.SurfaceAt(wx),
		Top:         f.pal.Grass,
		Filler:      f.pal.Dirt,
		FillerDepth: 4,
		Base:        f.pal.Stone,
		Wall:        f.pal.DirtWall,
	}
	if biome.Name == "desert" {
		col.Top, col.Filler = f.pal.Sand, f.pal.Sand
	}
	return col
}

func (f *Flat) Fill(c *chunk.Chunk) error {
	biome := c.Biome()
	for lx := 0; lx < c.Width(); lx++ {
		fillColumn(f.reg, f.pal, c, lx, f.Column(c.MinX()+lx, biome))
	}
	finish(f.reg, c)
	return nil
}
