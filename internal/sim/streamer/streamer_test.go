package streamer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"tileworld.dev/internal/persistence/chunkstore"
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/gen"
)

type memStore struct {
	mu       sync.Mutex
	blobs    map[chunkstore.Key][]byte
	inflight map[chunkstore.Key]int
	overlap  bool
	saves    int

	saveGate chan struct{}
	saveErr  error
	maxDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{blobs: map[chunkstore.Key][]byte{}, inflight: map[chunkstore.Key]int{}}
}

func (m *memStore) enter(k chunkstore.Key) {
	m.mu.Lock()
	m.inflight[k]++
	if m.inflight[k] > 1 {
		m.overlap = true
	}
	d := m.maxDelay
	m.mu.Unlock()
	if d > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(d))))
	}
}

func (m *memStore) leave(k chunkstore.Key) {
	m.mu.Lock()
	m.inflight[k]--
	m.mu.Unlock()
}

func (m *memStore) Load(ctx context.Context, k chunkstore.Key) ([]byte, error) {
	m.enter(k)
	defer m.leave(k)
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[k]
	if !ok {
		return nil, chunkstore.ErrNotFound
	}
	return b, nil
}

func (m *memStore) Save(ctx context.Context, k chunkstore.Key, blob []byte) error {
	m.enter(k)
	defer m.leave(k)
	m.mu.Lock()
	gate, serr := m.saveGate, m.saveErr
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if serr != nil {
		return serr
	}
	m.mu.Lock()
	m.blobs[k] = append([]byte(nil), blob...)
	m.saves++
	m.mu.Unlock()
	return nil
}

func (m *memStore) Close() error { return nil }

func testRegistry(t *testing.T) *catalogs.Registry {
	t.Helper()
	reg, err := catalogs.NewRegistry([]catalogs.TileDef{
		{ID: 0, Name: "AIR", Layer: catalogs.LayerFront},
		{ID: 1, Name: "BACK_AIR", Layer: catalogs.LayerBack},
		{ID: 2, Name: "DIRT", Layer: catalogs.LayerFront, Solid: true, TileMap: catalogs.TileMapGeneral},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newTestStreamer(t *testing.T, store chunkstore.Store, mut func(*Config)) *Streamer {
	t.Helper()
	reg := testRegistry(t)
	flat, err := gen.NewFlat(reg, 1, 32)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		World: "w", Dimension: "overworld",
		ChunkWidth: 100, Height: 32, ChunkCount: 12, Margin: 50,
		Workers: 3, QueueSize: 4,
	}
	if mut != nil {
		mut(&cfg)
	}
	s := New(cfg, reg, store, flat, nil)
	t.Cleanup(s.Close)
	return s
}

func drainUntil(t *testing.T, s *Streamer, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for streamer")
		}
		s.Drain()
		time.Sleep(time.Millisecond)
	}
}

func TestWindow(t *testing.T) {
	cases := []struct {
		x, margin, width, count int
		lo, hi                  int
		ok                      bool
	}{
		{650, 50, 100, 12, 5, 7, true},
		{650, 250, 100, 12, 4, 9, true},
		{50, 50, 100, 12, 0, 1, true},
		{1190, 50, 100, 12, 10, 11, true},
		{-10, 0, 100, 0, -2, 0, true},
		{5000, 50, 100, 12, 49, 11, false},
	}
	for _, tc := range cases {
		lo, hi, ok := Window(tc.x, tc.margin, tc.width, tc.count)
		if ok != tc.ok || (ok && (lo != tc.lo || hi != tc.hi)) {
			t.Fatalf("Window(%d,%d,%d,%d)=%d,%d,%v want %d,%d,%v", tc.x, tc.margin, tc.width, tc.count, lo, hi, ok, tc.lo, tc.hi, tc.ok)
		}
	}
}

func TestWanted_UnionOfViewers(t *testing.T) {
	s := newTestStreamer(t, newMemStore(), nil)
	got := s.Wanted(650, 150, 640)
	want := []int{0, 1, 2, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("Wanted=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Wanted=%v want %v", got, want)
		}
	}
}

func TestReconcile_1200WideWorld(t *testing.T) {
	s := newTestStreamer(t, newMemStore(), nil)
	wanted := s.Wanted(650)
	s.Reconcile(wanted)
	if st := s.State(6); st != Loading && st != Resident {
		t.Fatalf("chunk 6 state=%v right after request", st)
	}
	// Same tick, same window: nothing evicted, no conflict.
	s.Reconcile(wanted)
	if st := s.State(6); st == Unloaded || st == Saving {
		t.Fatalf("chunk 6 state=%v after second reconcile", st)
	}

	drainUntil(t, s, func() bool {
		return s.State(5) == Resident && s.State(6) == Resident && s.State(7) == Resident
	})
	if got := s.Resident(); len(got) != 3 {
		t.Fatalf("resident=%v", got)
	}
	c, ok := s.Get(6)
	if !ok || c.Index() != 6 || !c.Changed() {
		t.Fatalf("chunk 6: ok=%v changed=%v", ok, c != nil && c.Changed())
	}
}

func TestLoad_DecodesSavedBlob(t *testing.T) {
	store := newMemStore()
	s := newTestStreamer(t, store, nil)
	src := chunk.New(4, 100, 32, chunk.Biome{Name: "forest"}, 0, 1)
	_ = src.SetFront(10, 3, chunk.Tile{ID: 2, MetaData: 1, Solid: true})
	blob, err := s.Codec().Encode(src)
	if err != nil {
		t.Fatal(err)
	}
	store.blobs[s.Key(4)] = blob
	store.blobs[s.Key(5)] = []byte("garbage")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.LoadAndWait(ctx, []int{4, 5}); err != nil {
		t.Fatalf("LoadAndWait: %v", err)
	}
	c, _ := s.Get(4)
	if c.Changed() {
		t.Fatalf("decoded chunk should not be changed")
	}
	if tile, _ := c.Front(10, 3); tile.ID != 2 {
		t.Fatalf("tile=%+v", tile)
	}
	fresh, _ := s.Get(5)
	if !fresh.Changed() || fresh.SurfaceY(0) >= fresh.Height() {
		t.Fatalf("corrupt blob should yield a walkable fresh chunk")
	}
}

func TestEvict_RemovedOnlyAfterSaveCompletes(t *testing.T) {
	store := newMemStore()
	gate := make(chan struct{})
	store.saveGate = gate
	s := newTestStreamer(t, store, nil)
	var evicted []int
	s.SetHooks(nil, func(idx int) { evicted = append(evicted, idx) })

	ctx := context.Background()
	if err := s.LoadAndWait(ctx, []int{3}); err != nil {
		t.Fatal(err)
	}
	s.Reconcile(nil)
	if s.State(3) != Saving {
		t.Fatalf("state=%v want saving", s.State(3))
	}
	for i := 0; i < 20; i++ {
		s.Drain()
		if _, ok := s.Get(3); !ok {
			t.Fatalf("chunk removed before save completed")
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)
	drainUntil(t, s, func() bool { return s.State(3) == Unloaded })
	if _, ok := s.Get(3); ok {
		t.Fatalf("chunk still mapped after save")
	}
	if len(evicted) != 1 || evicted[0] != 3 {
		t.Fatalf("evicted=%v", evicted)
	}
	if _, ok := store.blobs[s.Key(3)]; !ok {
		t.Fatalf("blob not stored")
	}
}

func TestEvict_ModifiedDuringSaveStaysResident(t *testing.T) {
	store := newMemStore()
	gate := make(chan struct{})
	store.saveGate = gate
	s := newTestStreamer(t, store, nil)
	if err := s.LoadAndWait(context.Background(), []int{2}); err != nil {
		t.Fatal(err)
	}
	c, _ := s.Get(2)
	if err := s.Evict(2); err != nil {
		t.Fatal(err)
	}
	_ = c.SetFront(0, 0, chunk.Tile{ID: 2, MetaData: 1, Solid: true})
	close(gate)
	drainUntil(t, s, func() bool { return s.State(2) != Saving })
	if s.State(2) != Resident || !c.Changed() {
		t.Fatalf("state=%v changed=%v", s.State(2), c.Changed())
	}
}

func TestEvict_SaveFailureKeepsChanged(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	s := newTestStreamer(t, store, nil)
	if err := s.LoadAndWait(context.Background(), []int{1}); err != nil {
		t.Fatal(err)
	}
	_ = s.Evict(1)
	drainUntil(t, s, func() bool { return s.State(1) != Saving })
	c, ok := s.Get(1)
	if s.State(1) != Resident || !ok || !c.Changed() {
		t.Fatalf("state=%v ok=%v", s.State(1), ok)
	}
}

func TestEvict_UnchangedDropsImmediately(t *testing.T) {
	s := newTestStreamer(t, newMemStore(), nil)
	if err := s.LoadAndWait(context.Background(), []int{1}); err != nil {
		t.Fatal(err)
	}
	c, _ := s.Get(1)
	c.SetChanged(false)
	if err := s.Evict(1); err != nil {
		t.Fatal(err)
	}
	if s.State(1) != Unloaded {
		t.Fatalf("state=%v", s.State(1))
	}
}

func TestReentryDuringSaveIsRequestedAfterward(t *testing.T) {
	store := newMemStore()
	gate := make(chan struct{})
	store.saveGate = gate
	s := newTestStreamer(t, store, nil)
	resident := 0
	s.SetHooks(func(*chunk.Chunk) { resident++ }, nil)

	if err := s.LoadAndWait(context.Background(), []int{8}); err != nil {
		t.Fatal(err)
	}
	s.Reconcile(nil)
	s.Reconcile([]int{8})
	if s.State(8) != Saving {
		t.Fatalf("state=%v want saving", s.State(8))
	}
	close(gate)
	drainUntil(t, s, func() bool { return s.State(8) == Resident && resident == 2 })
	c, _ := s.Get(8)
	if c.Changed() {
		t.Fatalf("reloaded chunk should come from the saved blob")
	}
}

func TestConflict(t *testing.T) {
	store := newMemStore()
	store.saveGate = make(chan struct{})
	defer close(store.saveGate)
	ctx := context.Background()

	s := newTestStreamer(t, store, nil)
	if err := s.Evict(9); err != nil {
		t.Fatalf("evict unloaded err=%v", err)
	}
	if err := s.LoadAndWait(ctx, []int{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Evict(1); err != nil {
		t.Fatal(err)
	}
	if err := s.Evict(1); !errors.Is(err, ErrConcurrentRequest) {
		t.Fatalf("second evict err=%v", err)
	}

	strict := newTestStreamer(t, store, func(c *Config) { c.Strict = true })
	if err := strict.LoadAndWait(ctx, []int{1}); err != nil {
		t.Fatal(err)
	}
	_ = strict.Evict(1)
	defer func() {
		if recover() == nil {
			t.Fatalf("strict mode should panic")
		}
	}()
	_ = strict.Evict(1)
}

func TestRequestAsync_OutsideWorld(t *testing.T) {
	s := newTestStreamer(t, newMemStore(), nil)
	if err := s.RequestAsync(12); err == nil {
		t.Fatalf("expected error for index beyond chunk count")
	}
	if err := s.RequestAsync(-1); err == nil {
		t.Fatalf("expected error for negative index")
	}
}

func TestResidencyExclusivity(t *testing.T) {
	store := newMemStore()
	store.maxDelay = 300 * time.Microsecond
	s := newTestStreamer(t, store, func(c *Config) {
		c.ChunkCount = 0
		c.Workers = 4
		c.QueueSize = 2
	})
	rng := rand.New(rand.NewSource(7))
	x := 0
	for i := 0; i < 300; i++ {
		x += rng.Intn(401) - 200
		s.Reconcile(s.Wanted(x))
		s.Drain()
		for _, idx := range s.Resident() {
			if rng.Intn(4) == 0 {
				if c, ok := s.Get(idx); ok {
					_ = c.SetFront(0, 0, chunk.Tile{ID: 2, MetaData: 1, Solid: true})
				}
			}
		}
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.overlap {
		t.Fatalf("two operations overlapped on one chunk index")
	}
}

func TestSaveAll(t *testing.T) {
	store := newMemStore()
	s := newTestStreamer(t, store, func(c *Config) { c.SaveAllLimit = 2 })
	ctx := context.Background()
	if err := s.LoadAndWait(ctx, []int{0, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	c, _ := s.Get(3)
	c.SetChanged(false)

	if err := s.SaveAll(ctx); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if store.saves != 3 {
		t.Fatalf("saves=%d want 3", store.saves)
	}
	for _, idx := range s.Resident() {
		c, _ := s.Get(idx)
		if c.Changed() {
			t.Fatalf("chunk %d still changed", idx)
		}
	}
}

func TestLoadAndWait_ContextCanceled(t *testing.T) {
	s := newTestStreamer(t, newMemStore(), func(c *Config) {
		c.DispatchPerSec = 0.001
		c.DispatchBurst = 1
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.LoadAndWait(ctx, []int{0, 1, 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}
