package chunk

import (
	"errors"
	"sync"
	"testing"
)

const (
	air     = 0
	backAir = 1
	dirt    = 2
	chest   = 4
)

func newTestChunk() *Chunk {
	return New(3, 10, 20, Biome{ID: 1, Name: "plains"}, air, backAir)
}

func TestNew_Defaults(t *testing.T) {
	c := newTestChunk()
	if c.Index() != 3 || c.MinX() != 30 {
		t.Fatalf("index=%d minX=%d", c.Index(), c.MinX())
	}
	f, err := c.Front(0, 0)
	if err != nil || f.ID != air || f.MetaData != 1 {
		t.Fatalf("front=%+v err=%v", f, err)
	}
	b, _ := c.Back(9, 19)
	if b.ID != backAir {
		t.Fatalf("back=%+v", b)
	}
	if !c.LightDirty() || c.Changed() {
		t.Fatalf("flags: dirty=%v changed=%v", c.LightDirty(), c.Changed())
	}
	if v, _ := c.Light(5, 5); v != 1 {
		t.Fatalf("unlit light=%v want 1", v)
	}
}

func TestOutOfBounds(t *testing.T) {
	c := newTestChunk()
	if _, err := c.Front(10, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Front err=%v", err)
	}
	if err := c.SetFront(-1, 0, Tile{ID: dirt}); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("SetFront err=%v", err)
	}
	if _, err := c.Light(0, 20); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Light err=%v", err)
	}
	if err := c.SetAmbient(0, -1, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("SetAmbient err=%v", err)
	}
	if c.Changed() {
		t.Fatalf("rejected writes must not mark changed")
	}
}

func TestSetFront_DeepCopies(t *testing.T) {
	c := newTestChunk()
	inv := []ItemStack{{ItemID: 7, Count: 3}, {}}
	if err := c.SetFront(2, 2, Tile{ID: chest, MetaData: 1, Inventory: inv}); err != nil {
		t.Fatal(err)
	}
	inv[0].Count = 99

	got, _ := c.Front(2, 2)
	if got.Inventory[0].Count != 3 {
		t.Fatalf("stored tile aliases caller slice: %+v", got.Inventory)
	}
	got.Inventory[0].Count = 50
	again, _ := c.Front(2, 2)
	if again.Inventory[0].Count != 3 {
		t.Fatalf("returned tile aliases chunk storage: %+v", again.Inventory)
	}
	if !c.Changed() || c.Version() != 1 {
		t.Fatalf("changed=%v version=%d", c.Changed(), c.Version())
	}
}

func TestCombinedLight(t *testing.T) {
	c := newTestChunk()
	_ = c.SetAmbient(1, 1, 0.3)
	_ = c.SetDiffuse(1, 1, 0.2)
	if !c.LightStale() {
		t.Fatalf("expected stale after write")
	}
	v, _ := c.Light(1, 1)
	if v < 0.499 || v > 0.501 {
		t.Fatalf("combined=%v want 0.5", v)
	}
	if c.LightStale() {
		t.Fatalf("expected fresh after read")
	}
	_ = c.SetAmbient(1, 1, 0.9)
	_ = c.RaiseDiffuse(1, 1, 0.6)
	if v, _ := c.Light(1, 1); v != 0 {
		t.Fatalf("saturated combined=%v want 0", v)
	}
	_ = c.RaiseDiffuse(1, 1, 0.1)
	if d, _ := c.Diffuse(1, 1); d != 0.6 {
		t.Fatalf("RaiseDiffuse lowered value: %v", d)
	}
	c.ClearDiffuse(-5, 50, 0, 3)
	if d, _ := c.Diffuse(1, 1); d != 0 {
		t.Fatalf("ClearDiffuse left %v", d)
	}
}

func TestSurfaceY(t *testing.T) {
	c := newTestChunk()
	if got := c.SurfaceY(4); got != 20 {
		t.Fatalf("open column surface=%d", got)
	}
	_ = c.SetFront(4, 7, Tile{ID: dirt, MetaData: 1, Solid: true})
	_ = c.SetFront(4, 12, Tile{ID: dirt, MetaData: 1, Solid: true})
	if got := c.SurfaceY(4); got != 7 {
		t.Fatalf("surface=%d want 7", got)
	}
}

func TestLightSourcesSorted(t *testing.T) {
	c := newTestChunk()
	c.AddLightSource(Pos{X: 5, Y: 1})
	c.AddLightSource(Pos{X: 1, Y: 9})
	c.AddLightSource(Pos{X: 1, Y: 2})
	c.RemoveLightSource(Pos{X: 5, Y: 1})
	got := c.LightSources()
	if len(got) != 2 || got[0] != (Pos{1, 2}) || got[1] != (Pos{1, 9}) {
		t.Fatalf("sources=%v", got)
	}
}

func TestClearChangedAt(t *testing.T) {
	c := newTestChunk()
	_ = c.SetFront(0, 0, Tile{ID: dirt})
	v := c.Version()
	_ = c.SetFront(0, 1, Tile{ID: dirt})
	if c.ClearChangedAt(v) {
		t.Fatalf("stale version should not clear")
	}
	if !c.ClearChangedAt(c.Version()) || c.Changed() {
		t.Fatalf("current version should clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestChunk()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				x, y := i%10, (i+w)%20
				_ = c.SetFront(x, y, Tile{ID: dirt, Inventory: []ItemStack{{ItemID: 1, Count: i}}})
				_, _ = c.Front(x, y)
				_ = c.SetDiffuse(x, y, float32(i)/200)
				_, _ = c.Light(x, y)
				c.SetLightDirty(i%2 == 0)
			}
		}(w)
	}
	wg.Wait()
	if c.Version() != 800 {
		t.Fatalf("version=%d want 800", c.Version())
	}
}
