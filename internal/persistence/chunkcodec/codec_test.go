package chunkcodec

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
)

func testRegistry(t *testing.T) *catalogs.Registry {
	t.Helper()
	reg, err := catalogs.NewRegistry([]catalogs.TileDef{
		{ID: 0, Name: "AIR", Layer: catalogs.LayerFront},
		{ID: 1, Name: "BACK_AIR", Layer: catalogs.LayerBack},
		{ID: 2, Name: "DIRT", Layer: catalogs.LayerFront, Solid: true, TileMap: catalogs.TileMapGeneral},
		{ID: 3, Name: "TORCH", Layer: catalogs.LayerFront, Light: &catalogs.LightDef{Radius: 4, Strength: 0.8}},
		{ID: 4, Name: "CHEST", Layer: catalogs.LayerFront, Inventory: &catalogs.InventoryDef{Slots: 4}},
		{ID: 5, Name: "DIRT_WALL", Layer: catalogs.LayerBack},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func assertSameTiles(t *testing.T, want, got *chunk.Chunk) {
	t.Helper()
	wf, wb := want.Tiles()
	gf, gb := got.Tiles()
	for i := range wf {
		if !wf[i].Equal(gf[i]) {
			t.Fatalf("front cell %d: want %+v got %+v", i, wf[i], gf[i])
		}
		if !wb[i].Equal(gb[i]) {
			t.Fatalf("back cell %d: want %+v got %+v", i, wb[i], gb[i])
		}
	}
}

func TestRoundTrip_AllAir(t *testing.T) {
	reg := testRegistry(t)
	codec := New(reg, 16, 32)
	src := chunk.New(-4, 16, 32, chunk.Biome{ID: 2, Name: "desert"}, reg.Air, reg.BackAir)

	b, err := codec.Encode(src)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	blob, err := DecodeBlob(b)
	if err != nil {
		t.Fatalf("DecodeBlob: %v", err)
	}
	if len(blob.Front) != 0 || len(blob.Back) != 0 {
		t.Fatalf("all-air chunk stored %d/%d cells", len(blob.Front), len(blob.Back))
	}

	got, err := codec.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Index() != -4 || got.Biome().Name != "desert" {
		t.Fatalf("index=%d biome=%+v", got.Index(), got.Biome())
	}
	if got.Changed() || !got.LightDirty() {
		t.Fatalf("changed=%v lightDirty=%v", got.Changed(), got.LightDirty())
	}
	assertSameTiles(t, src, got)
}

func TestRoundTrip_ContainerAndSources(t *testing.T) {
	reg := testRegistry(t)
	codec := New(reg, 16, 32)
	src := chunk.New(7, 16, 32, chunk.Biome{ID: 1, Name: "plains"}, reg.Air, reg.BackAir)
	_ = src.SetFront(3, 10, chunk.Tile{ID: 4, MetaData: 1, Inventory: []chunk.ItemStack{{ItemID: 9, Count: 12}, {}, {ItemID: 2, Count: 1}, {}}})
	_ = src.SetFront(0, 31, chunk.Tile{ID: 2, MetaData: 1, BitMap: 5, Solid: true})
	_ = src.SetFront(8, 8, chunk.Tile{ID: 3, MetaData: 1})
	_ = src.SetBack(15, 0, chunk.Tile{ID: 5, MetaData: 1, BitMap: 2})
	_ = src.SetAmbient(1, 1, 0.7)
	src.SetWeather("RAIN")

	b, err := codec.Encode(src)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := codec.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assertSameTiles(t, src, got)

	chest, _ := got.Front(3, 10)
	if len(chest.Inventory) != 4 || chest.Inventory[0] != (chunk.ItemStack{ItemID: 9, Count: 12}) {
		t.Fatalf("inventory=%+v", chest.Inventory)
	}
	if dirt, _ := got.Front(0, 31); !dirt.Solid {
		t.Fatalf("solid not re-derived")
	}
	if v, _ := got.Ambient(1, 1); v != 0 {
		t.Fatalf("light persisted: %v", v)
	}
	if srcs := got.LightSources(); len(srcs) != 1 || srcs[0] != (chunk.Pos{X: 8, Y: 8}) {
		t.Fatalf("sources=%v", srcs)
	}
	if got.Weather() != "RAIN" {
		t.Fatalf("weather=%q", got.Weather())
	}
}

func TestDecode_Corrupt(t *testing.T) {
	reg := testRegistry(t)
	codec := New(reg, 16, 32)
	if _, err := codec.Decode([]byte("definitely not zstd")); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("garbage: err=%v", err)
	}

	other := New(reg, 8, 32)
	b, err := other.Encode(chunk.New(0, 8, 32, chunk.Biome{}, reg.Air, reg.BackAir))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Decode(b); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("geometry mismatch: err=%v", err)
	}

	good, _ := codec.Encode(chunk.New(0, 16, 32, chunk.Biome{}, reg.Air, reg.BackAir))
	if _, err := codec.Decode(good[:len(good)/2]); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("truncated: err=%v", err)
	}
}

func TestWire_NullElision(t *testing.T) {
	reg := testRegistry(t)
	codec := New(reg, 4, 6)
	src := chunk.New(2, 4, 6, chunk.Biome{ID: 3, Name: "forest"}, reg.Air, reg.BackAir)
	_ = src.SetFront(1, 2, chunk.Tile{ID: 3, MetaData: 1})
	src.AddLightSource(chunk.Pos{X: 1, Y: 2})

	w := codec.Wire(src)
	raw, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	for _, key := range []string{`"biome"`, `"front"`, `"back"`, `"chunk_index":2`, `"changed":true`, `"height":6`, `"light_sources":[{"x":1,"y":2}]`, `"weather"`} {
		if !strings.Contains(s, key) {
			t.Fatalf("wire json missing %s: %s", key, s)
		}
	}
	if w.Front[0][0] != nil || w.Front[1][2] == nil || w.Front[1][2].ID != 3 {
		t.Fatalf("front elision wrong: %+v", w.Front[1])
	}

	var back WireChunk
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	got, err := codec.FromWire(back)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	assertSameTiles(t, src, got)
	if len(got.LightSources()) != 1 {
		t.Fatalf("sources lost")
	}
}

func TestMeta_RoundTrip(t *testing.T) {
	path := MetaPath(t.TempDir(), "w1", "overworld")
	if _, err := ReadMeta(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing meta err=%v", err)
	}
	want := WorldMetaV1{
		Name: "w1", Dimension: "overworld", Seed: 5, Width: 1200, Height: 256,
		ChunkWidth: 100, ChunkCount: 12, ClockTicks: 7800, Difficulty: "hard",
		BiomeRegions: 4, AverageSkyHeight: 96, SavedAt: time.Unix(1700000000, 0).UTC(),
	}
	if err := WriteMeta(path, want); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}
	got, err := ReadMeta(path)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	want.Version = MetaVersion
	if !got.SavedAt.Equal(want.SavedAt) {
		t.Fatalf("saved_at=%v want %v", got.SavedAt, want.SavedAt)
	}
	got.SavedAt, want.SavedAt = time.Time{}, time.Time{}
	if got != want {
		t.Fatalf("meta mismatch:\n got %+v\nwant %+v", got, want)
	}
	if _, err := os.Stat(filepath.Clean(path + ".tmp")); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind")
	}
}
