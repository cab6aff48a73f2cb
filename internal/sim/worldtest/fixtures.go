// Package worldtest holds fixtures shared by the streamer, world and
// transport tests: the repository tile catalog, a small tuning profile and
// deterministic chunk producers.
package worldtest

import (
	"path/filepath"
	"runtime"
	"testing"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/gen"
	"tileworld.dev/internal/sim/tilemap"
	"tileworld.dev/internal/sim/tuning"
)

// ConfigDir is the absolute path of the repository configs/ directory.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "configs")
}

// Registry loads configs/tiles.json.
func Registry(t testing.TB) *catalogs.Registry {
	t.Helper()
	reg, err := catalogs.Load(filepath.Join(ConfigDir(), "tiles.json"))
	if err != nil {
		t.Fatalf("load tiles: %v", err)
	}
	return reg
}

// Tuning is a small unbounded world: 16-wide chunks, 64 rows, one chunk of
// margin, unthrottled dispatch.
func Tuning() tuning.Tuning {
	t := tuning.Defaults()
	t.World.Name = "test"
	t.World.ChunkWidth = 16
	t.World.Height = 64
	t.World.Width = 0
	t.Streaming.MarginTiles = 16
	t.Streaming.Workers = 2
	t.Streaming.QueueSize = 16
	t.Streaming.DispatchPerSec = 0
	t.Streaming.DispatchBurst = 16
	return t
}

// Ground fills every chunk with GRASS on row Row, DIRT below it and a dirt
// back wall behind the dirt. Row < 0 leaves chunks empty.
type Ground struct {
	Reg *catalogs.Registry
	Row int
}

func (g Ground) Biome(idx int) chunk.Biome { return gen.BiomeAt(0, idx) }

func (g Ground) Fill(c *chunk.Chunk) error {
	if g.Row >= 0 {
		grass, dirt := g.Reg.MustID("GRASS"), g.Reg.MustID("DIRT")
		wall := g.Reg.MustID("DIRT_WALL")
		for x := 0; x < c.Width(); x++ {
			for y := g.Row; y < c.Height(); y++ {
				id := dirt
				if y == g.Row {
					id = grass
				}
				_ = c.SetFront(x, y, chunk.Tile{ID: id, MetaData: 1, Solid: true})
				if y > g.Row {
					_ = c.SetBack(x, y, chunk.Tile{ID: wall, MetaData: 1})
				}
			}
		}
	}
	tilemap.FillChunk(g.Reg, c)
	c.SetChanged(true)
	return nil
}

// Sky is a producer that leaves every chunk empty.
func Sky(reg *catalogs.Registry) Ground { return Ground{Reg: reg, Row: -1} }
