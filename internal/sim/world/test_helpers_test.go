package world

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tileworld.dev/internal/persistence/chunkstore"
	"tileworld.dev/internal/sim/gen"
	"tileworld.dev/internal/sim/tuning"
	"tileworld.dev/internal/sim/worldtest"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (s *recordingSink) WriteAudit(e AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Entries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.entries...)
}

type recordingListener struct {
	mu       sync.Mutex
	resident []int
	evicted  []int
}

func (l *recordingListener) ChunkResident(idx int) {
	l.mu.Lock()
	l.resident = append(l.resident, idx)
	l.mu.Unlock()
}

func (l *recordingListener) ChunkEvicted(idx int) {
	l.mu.Lock()
	l.evicted = append(l.evicted, idx)
	l.mu.Unlock()
}

type testWorld struct {
	*World
	store *chunkstore.MemStore
	sink  *recordingSink
}

func newTestWorld(t *testing.T, tun tuning.Tuning, producer func(w *testWorld) gen.Producer) *testWorld {
	t.Helper()
	reg := worldtest.Registry(t)
	tw := &testWorld{store: chunkstore.NewMemStore(), sink: &recordingSink{}}
	var p gen.Producer = worldtest.Ground{Reg: reg, Row: 32}
	if producer != nil {
		p = producer(tw)
	}
	w, err := New(WorldConfig{Tuning: tun, StrictInvariants: true}, reg, tw.store, p, zap.NewNop())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	w.SetAuditSink(tw.sink)
	tw.World = w
	t.Cleanup(w.chunks.Close)
	return tw
}

func spawnAt(t *testing.T, w *testWorld, x int) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	y, err := w.Spawn(ctx, x)
	if err != nil {
		t.Fatalf("Spawn(%d): %v", x, err)
	}
	return y
}

// settle ticks the world until nothing is outstanding.
func settle(t *testing.T, w *testWorld, viewerX ...int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		w.Tick(viewerX...)
		if w.chunks.Outstanding() == 0 {
			w.Tick(viewerX...)
			if w.chunks.Outstanding() == 0 {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("world did not settle; outstanding=%d", w.chunks.Outstanding())
		}
		time.Sleep(time.Millisecond)
	}
}
