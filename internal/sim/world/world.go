package world

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"tileworld.dev/internal/persistence/chunkstore"
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/gen"
	"tileworld.dev/internal/sim/lighting"
	"tileworld.dev/internal/sim/mathx"
	"tileworld.dev/internal/sim/streamer"
	"tileworld.dev/internal/sim/tuning"
)

// ErrChunkUnavailable is returned by writes that target a chunk which is not
// resident.
var ErrChunkUnavailable = errors.New("world: chunk not resident")

type WorldConfig struct {
	Tuning tuning.Tuning
	// StrictInvariants turns residency conflicts into panics.
	StrictInvariants bool
	// MetaPath is where Shutdown writes world metadata; empty skips it.
	MetaPath string
}

// Listener receives residency notifications on the simulation goroutine.
type Listener interface {
	ChunkResident(idx int)
	ChunkEvicted(idx int)
}

// AuditEntry records one tile change.
type AuditEntry struct {
	Tick  uint64 `json:"tick"`
	Layer string `json:"layer"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	From  uint16 `json:"from"`
	To    uint16 `json:"to"`
	Cause string `json:"cause"`
}

type AuditSink interface {
	WriteAudit(AuditEntry) error
}

// World is the synchronous facade the simulation tick drives. Mutating calls
// (SetTile, Tick, ...) belong to the simulation goroutine; reads are safe
// from any goroutine.
type World struct {
	cfg WorldConfig
	reg *catalogs.Registry
	log *zap.Logger

	chunks *streamer.Streamer
	light  *lighting.Engine
	clock  *Clock

	tick atomic.Uint64

	listenersMu sync.RWMutex
	listeners   []Listener
	audit       AuditSink

	// Run loop plumbing.
	stop     chan struct{}
	stopOnce sync.Once
	views    chan viewReq
	edits    chan Edit
	viewers  map[string]int
}

func New(cfg WorldConfig, reg *catalogs.Registry, store chunkstore.Store, producer gen.Producer, log *zap.Logger) (*World, error) {
	if reg == nil {
		return nil, fmt.Errorf("world: nil registry")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	t := cfg.Tuning
	w := &World{
		cfg:     cfg,
		reg:     reg,
		log:     log.Named("world").With(zap.String("world", t.World.Name), zap.String("dimension", t.World.Dimension)),
		clock:   NewClock(t.Clock),
		stop:    make(chan struct{}),
		views:   make(chan viewReq, 64),
		edits:   make(chan Edit, 256),
		viewers: map[string]int{},
	}
	w.chunks = streamer.New(streamer.ConfigFromTuning(t, cfg.StrictInvariants), reg, store, producer, log)
	w.light = lighting.New(reg, t.Lighting, t.World.ChunkWidth, t.World.Height, w.chunks, log)
	w.chunks.SetHooks(w.onResident, w.onEvicted)
	return w, nil
}

func (w *World) Registry() *catalogs.Registry { return w.reg }
func (w *World) Streamer() *streamer.Streamer { return w.chunks }
func (w *World) Lighting() *lighting.Engine   { return w.light }
func (w *World) Clock() *Clock                { return w.clock }
func (w *World) Tuning() tuning.Tuning        { return w.cfg.Tuning }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }

func (w *World) ChunkWidth() int { return w.cfg.Tuning.World.ChunkWidth }
func (w *World) Height() int     { return w.cfg.Tuning.World.Height }

// ChunkIndex returns the index of the chunk holding world column x.
func (w *World) ChunkIndex(x int) int { return mathx.FloorDiv(x, w.ChunkWidth()) }

// AddListener registers l for residency notifications.
func (w *World) AddListener(l Listener) {
	w.listenersMu.Lock()
	w.listeners = append(w.listeners, l)
	w.listenersMu.Unlock()
}

// SetAuditSink installs the tile-change audit sink; nil disables auditing.
func (w *World) SetAuditSink(s AuditSink) { w.audit = s }

func (w *World) snapshotListeners() []Listener {
	w.listenersMu.RLock()
	defer w.listenersMu.RUnlock()
	return append([]Listener(nil), w.listeners...)
}

// chunkAt resolves world column x to its resident chunk and local column.
func (w *World) chunkAt(x int) (*chunk.Chunk, int, bool) {
	c, ok := w.chunks.Get(w.ChunkIndex(x))
	if !ok {
		return nil, 0, false
	}
	return c, mathx.Mod(x, w.ChunkWidth()), true
}

func (w *World) inHeight(y int) bool { return y >= 0 && y < w.Height() }
