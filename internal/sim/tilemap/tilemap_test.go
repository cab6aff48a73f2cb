package tilemap

import (
	"testing"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
)

func testRegistry(t *testing.T) *catalogs.Registry {
	t.Helper()
	reg, err := catalogs.NewRegistry([]catalogs.TileDef{
		{ID: 0, Name: "AIR", Layer: catalogs.LayerFront},
		{ID: 1, Name: "BACK_AIR", Layer: catalogs.LayerBack},
		{ID: 2, Name: "DIRT", Layer: catalogs.LayerFront, Solid: true, TileMap: catalogs.TileMapGeneral},
		{ID: 3, Name: "PILLAR", Layer: catalogs.LayerFront, TileMap: catalogs.TileMapPillar},
		{ID: 4, Name: "DIRT_WALL", Layer: catalogs.LayerBack, TileMap: catalogs.TileMapGeneral},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestGeneral(t *testing.T) {
	solid := Neighbor{Solid: true}
	air := Neighbor{Empty: true}
	cases := []struct {
		up, right, down, left Neighbor
		want                  uint8
	}{
		{air, air, air, air, 0},
		{solid, air, air, air, 1},
		{air, solid, air, air, 2},
		{air, air, solid, air, 4},
		{air, air, air, solid, 8},
		{solid, solid, solid, solid, 15},
		{Neighbor{}, solid, Neighbor{}, solid, 10},
	}
	for i, tc := range cases {
		if got := General(tc.up, tc.right, tc.down, tc.left); got != tc.want {
			t.Fatalf("case %d: got %d want %d", i, got, tc.want)
		}
	}
}

func TestPillar(t *testing.T) {
	air := Neighbor{Empty: true}
	pillar := Neighbor{Pillar: true}
	stone := Neighbor{Solid: true}
	cases := []struct {
		name     string
		up, down Neighbor
		want     uint8
	}{
		{"free standing", air, air, 2},
		{"continues below", air, pillar, 1},
		{"middle", pillar, pillar, 1},
		{"capped", stone, pillar, 0},
		{"wedged", stone, stone, 3},
	}
	for _, tc := range cases {
		if got := Pillar(tc.up, tc.down); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestCode_KindDispatch(t *testing.T) {
	solid := Neighbor{Solid: true}
	if got := Code(catalogs.TileMapNone, solid, solid, solid, solid); got != 0 {
		t.Fatalf("untiled code=%d", got)
	}
	if got := Code(catalogs.TileMapGeneral, solid, Neighbor{}, solid, Neighbor{}); got != 5 {
		t.Fatalf("general code=%d", got)
	}
}

func TestDescribe(t *testing.T) {
	reg := testRegistry(t)
	cases := []struct {
		id   uint16
		want Neighbor
	}{
		{0, Neighbor{Empty: true}},
		{1, Neighbor{Empty: true}},
		{2, Neighbor{Solid: true}},
		{3, Neighbor{Pillar: true}},
		{4, Neighbor{Solid: true}},
		{99, Neighbor{Empty: true}},
	}
	for _, tc := range cases {
		if got := Describe(reg, tc.id); got != tc.want {
			t.Fatalf("Describe(%d)=%+v want %+v", tc.id, got, tc.want)
		}
	}
}

func TestFillChunk(t *testing.T) {
	reg := testRegistry(t)
	c := chunk.New(0, 3, 3, chunk.Biome{}, reg.Air, reg.BackAir)
	dirt := chunk.Tile{ID: 2, MetaData: 1, Solid: true}
	// plus shape around (1,1)
	for _, p := range [][2]int{{1, 0}, {0, 1}, {1, 1}, {2, 1}, {1, 2}} {
		_ = c.SetFront(p[0], p[1], dirt)
	}
	_ = c.SetFront(0, 0, chunk.Tile{ID: 3, MetaData: 1})
	_ = c.SetBack(2, 2, chunk.Tile{ID: 4, MetaData: 1})
	_ = c.SetBack(2, 1, chunk.Tile{ID: 4, MetaData: 1})

	FillChunk(reg, c)

	bm := func(x, y int) uint8 {
		tl, _ := c.Front(x, y)
		return tl.BitMap
	}
	if got := bm(1, 1); got != 15 {
		t.Fatalf("centre bitmap=%d want 15", got)
	}
	if got := bm(1, 0); got != 4 {
		t.Fatalf("top arm bitmap=%d want 4", got)
	}
	if got := bm(0, 1); got != 2 {
		t.Fatalf("left arm bitmap=%d want 2", got)
	}
	// the pillar sits on dirt (blocked below, open above)
	if got := bm(0, 0); got != 2 {
		t.Fatalf("pillar bitmap=%d want 2", got)
	}
	back, _ := c.Back(2, 2)
	if back.BitMap != 1 {
		t.Fatalf("back wall bitmap=%d want 1", back.BitMap)
	}
}
