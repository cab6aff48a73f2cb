// Package streamer keeps the resident chunk map in step with viewer
// positions. Loads and saves run on a bounded worker pool; their results are
// applied by Drain on the simulation goroutine.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tileworld.dev/internal/persistence/chunkcodec"
	"tileworld.dev/internal/persistence/chunkstore"
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/gen"
	"tileworld.dev/internal/sim/tuning"
)

// ErrConcurrentRequest reports a second operation for an index that already
// has one outstanding.
var ErrConcurrentRequest = errors.New("streamer: operation already outstanding")

type State int

const (
	Unloaded State = iota
	Loading
	Resident
	Saving
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Resident:
		return "resident"
	case Saving:
		return "saving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	World      string
	Dimension  string
	ChunkWidth int
	Height     int
	// ChunkCount bounds indices to [0, ChunkCount-1]; 0 is unbounded.
	ChunkCount int
	Margin     int

	Workers        int
	QueueSize      int
	DispatchPerSec float64
	DispatchBurst  int
	SaveAllLimit   int

	// Strict panics on invariant violations instead of logging them.
	Strict bool
}

func ConfigFromTuning(t tuning.Tuning, strict bool) Config {
	return Config{
		World:          t.World.Name,
		Dimension:      t.World.Dimension,
		ChunkWidth:     t.World.ChunkWidth,
		Height:         t.World.Height,
		ChunkCount:     t.ChunkCount(),
		Margin:         t.Streaming.MarginTiles,
		Workers:        t.Streaming.Workers,
		QueueSize:      t.Streaming.QueueSize,
		DispatchPerSec: t.Streaming.DispatchPerSec,
		DispatchBurst:  t.Streaming.DispatchBurst,
		SaveAllLimit:   t.Streaming.SaveAllLimit,
		Strict:         strict,
	}
}

type jobKind int

const (
	jobLoad jobKind = iota + 1
	jobSave
)

type job struct {
	kind    jobKind
	idx     int
	c       *chunk.Chunk
	version uint64
}

type result struct {
	kind    jobKind
	idx     int
	c       *chunk.Chunk
	version uint64
	fresh   bool
	err     error
}

type Streamer struct {
	cfg      Config
	reg      *catalogs.Registry
	store    chunkstore.Store
	codec    *chunkcodec.Codec
	producer gen.Producer
	log      *zap.Logger
	limiter  *rate.Limiter

	// mu guards chunks, state and rerequest. chunks holds every Resident or
	// Saving chunk; state omits Unloaded indices.
	mu        sync.RWMutex
	chunks    map[int]*chunk.Chunk
	state     map[int]State
	rerequest map[int]bool

	// Sim goroutine only.
	backlog    []job
	onResident func(*chunk.Chunk)
	onEvicted  func(idx int)

	doneMu sync.Mutex
	done   []result
	notify chan struct{}

	jobs      chan job
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(cfg Config, reg *catalogs.Registry, store chunkstore.Store, producer gen.Producer, log *zap.Logger) *Streamer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.SaveAllLimit <= 0 {
		cfg.SaveAllLimit = cfg.Workers
	}
	limit := rate.Inf
	if cfg.DispatchPerSec > 0 {
		limit = rate.Limit(cfg.DispatchPerSec)
	}
	burst := cfg.DispatchBurst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Streamer{
		cfg:       cfg,
		reg:       reg,
		store:     store,
		codec:     chunkcodec.New(reg, cfg.ChunkWidth, cfg.Height),
		producer:  producer,
		log:       log.Named("streamer"),
		limiter:   rate.NewLimiter(limit, burst),
		chunks:    map[int]*chunk.Chunk{},
		state:     map[int]State{},
		rerequest: map[int]bool{},
		notify:    make(chan struct{}, 1),
		jobs:      make(chan job, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker()
		}()
	}
	return s
}

// SetHooks installs callbacks run on the simulation goroutine when a chunk
// becomes resident or is dropped.
func (s *Streamer) SetHooks(onResident func(*chunk.Chunk), onEvicted func(idx int)) {
	s.onResident = onResident
	s.onEvicted = onEvicted
}

func (s *Streamer) Codec() *chunkcodec.Codec { return s.codec }

func (s *Streamer) Key(idx int) chunkstore.Key {
	return chunkstore.Key{World: s.cfg.World, Dimension: s.cfg.Dimension, Index: idx}
}

// Get returns a chunk that is Resident or Saving.
func (s *Streamer) Get(idx int) (*chunk.Chunk, bool) {
	s.mu.RLock()
	c, ok := s.chunks[idx]
	s.mu.RUnlock()
	return c, ok
}

// Resident returns the sorted indices present in the chunk map.
func (s *Streamer) Resident() []int {
	s.mu.RLock()
	out := make([]int, 0, len(s.chunks))
	for idx := range s.chunks {
		out = append(out, idx)
	}
	s.mu.RUnlock()
	sort.Ints(out)
	return out
}

func (s *Streamer) State(idx int) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state[idx]
}

// Outstanding counts indices that are Loading or Saving.
func (s *Streamer) Outstanding() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.state {
		if st == Loading || st == Saving {
			n++
		}
	}
	return n
}

func (s *Streamer) inRange(idx int) bool {
	return s.cfg.ChunkCount <= 0 || (idx >= 0 && idx < s.cfg.ChunkCount)
}

func (s *Streamer) conflict(idx int, op string, st State) error {
	msg := fmt.Sprintf("streamer: %s chunk %d while %s", op, idx, st)
	if s.cfg.Strict {
		panic(msg)
	}
	s.log.Warn("ignored conflicting chunk request", zap.Int("chunk", idx), zap.String("op", op), zap.Stringer("state", st))
	return ErrConcurrentRequest
}

// RequestAsync starts loading idx without blocking. The state moves to
// Loading before the job is queued. Requests for an index being saved are
// replayed once the save completes.
func (s *Streamer) RequestAsync(idx int) error {
	if !s.inRange(idx) {
		return fmt.Errorf("streamer: chunk %d outside world", idx)
	}
	s.mu.Lock()
	switch st := s.state[idx]; st {
	case Unloaded:
		s.state[idx] = Loading
	case Resident:
		s.mu.Unlock()
		return nil
	case Saving:
		s.rerequest[idx] = true
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		return s.conflict(idx, "load", st)
	}
	s.mu.Unlock()

	s.backlog = append(s.backlog, job{kind: jobLoad, idx: idx})
	s.pump()
	return nil
}

// Evict starts saving a Resident chunk; it leaves the map when Drain sees
// the save complete. Unchanged chunks are dropped at once.
func (s *Streamer) Evict(idx int) error {
	s.mu.Lock()
	switch st := s.state[idx]; st {
	case Unloaded:
		s.mu.Unlock()
		return nil
	case Loading, Saving:
		s.mu.Unlock()
		return s.conflict(idx, "evict", st)
	}
	c := s.chunks[idx]
	if !c.Changed() {
		delete(s.chunks, idx)
		delete(s.state, idx)
		s.mu.Unlock()
		if s.onEvicted != nil {
			s.onEvicted(idx)
		}
		return nil
	}
	s.state[idx] = Saving
	s.mu.Unlock()

	s.backlog = append(s.backlog, job{kind: jobSave, idx: idx, c: c, version: c.Version()})
	s.pump()
	return nil
}

// Reconcile requests every wanted index and evicts resident ones that are
// no longer wanted.
func (s *Streamer) Reconcile(wanted []int) {
	want := make(map[int]struct{}, len(wanted))
	for _, idx := range wanted {
		want[idx] = struct{}{}
	}

	var load, evict []int
	s.mu.Lock()
	for idx := range want {
		switch s.state[idx] {
		case Unloaded:
			load = append(load, idx)
		case Saving:
			s.rerequest[idx] = true
		}
	}
	for idx, st := range s.state {
		if _, ok := want[idx]; ok {
			continue
		}
		switch st {
		case Resident:
			evict = append(evict, idx)
		case Saving:
			delete(s.rerequest, idx)
		}
	}
	s.mu.Unlock()

	sort.Ints(load)
	sort.Ints(evict)
	for _, idx := range load {
		_ = s.RequestAsync(idx)
	}
	for _, idx := range evict {
		_ = s.Evict(idx)
	}
}

// pump moves backlog jobs to the workers as the limiter and queue allow.
func (s *Streamer) pump() {
	for len(s.backlog) > 0 {
		if !s.limiter.Allow() {
			return
		}
		select {
		case s.jobs <- s.backlog[0]:
			s.backlog[0] = job{}
			s.backlog = s.backlog[1:]
		default:
			// Token spent on a full queue; the job waits for the next pump.
			return
		}
	}
}

func (s *Streamer) worker() {
	for j := range s.jobs {
		var r result
		switch j.kind {
		case jobLoad:
			r = s.load(j.idx)
		case jobSave:
			r = s.save(j)
		}
		s.doneMu.Lock()
		s.done = append(s.done, r)
		s.doneMu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (s *Streamer) load(idx int) result {
	log := s.log.With(zap.Int("chunk", idx))
	blob, err := s.store.Load(s.ctx, s.Key(idx))
	switch {
	case err == nil:
		c, derr := s.codec.Decode(blob)
		if derr == nil && c.Index() == idx {
			return result{kind: jobLoad, idx: idx, c: c}
		}
		if derr == nil {
			derr = fmt.Errorf("%w: blob holds chunk %d", chunkcodec.ErrCorrupt, c.Index())
		}
		log.Warn("discarding unreadable chunk", zap.Error(derr))
	case errors.Is(err, chunkstore.ErrNotFound):
	default:
		log.Warn("chunk load failed", zap.Error(err))
	}
	return result{kind: jobLoad, idx: idx, c: s.fresh(idx, log), fresh: true}
}

func (s *Streamer) fresh(idx int, log *zap.Logger) *chunk.Chunk {
	c := chunk.New(idx, s.cfg.ChunkWidth, s.cfg.Height, s.producer.Biome(idx), s.reg.Air, s.reg.BackAir)
	if err := s.producer.Fill(c); err != nil {
		log.Error("default chunk producer failed", zap.Error(err))
	}
	c.SetChanged(true)
	return c
}

func (s *Streamer) save(j job) result {
	r := result{kind: jobSave, idx: j.idx, c: j.c, version: j.version}
	blob, err := s.codec.Encode(j.c)
	if err != nil {
		r.err = err
		return r
	}
	r.err = s.store.Save(s.ctx, s.Key(j.idx), blob)
	return r
}

// Drain applies finished loads and saves. Call it from the simulation
// goroutine; it returns the number of results applied.
func (s *Streamer) Drain() int {
	s.doneMu.Lock()
	done := s.done
	s.done = nil
	s.doneMu.Unlock()

	for _, r := range done {
		switch r.kind {
		case jobLoad:
			s.applyLoad(r)
		case jobSave:
			s.applySave(r)
		}
	}
	s.pump()
	return len(done)
}

func (s *Streamer) applyLoad(r result) {
	s.mu.Lock()
	if st := s.state[r.idx]; st != Loading {
		s.mu.Unlock()
		_ = s.conflict(r.idx, "complete load", st)
		return
	}
	s.chunks[r.idx] = r.c
	s.state[r.idx] = Resident
	s.mu.Unlock()

	s.log.Debug("chunk resident", zap.Int("chunk", r.idx), zap.Bool("fresh", r.fresh))
	if s.onResident != nil {
		s.onResident(r.c)
	}
}

func (s *Streamer) applySave(r result) {
	log := s.log.With(zap.Int("chunk", r.idx))
	s.mu.Lock()
	if st := s.state[r.idx]; st != Saving {
		s.mu.Unlock()
		_ = s.conflict(r.idx, "complete save", st)
		return
	}
	if r.err != nil || !r.c.ClearChangedAt(r.version) {
		s.state[r.idx] = Resident
		delete(s.rerequest, r.idx)
		s.mu.Unlock()
		if r.err != nil {
			log.Error("chunk save failed; keeping it resident", zap.Error(r.err))
		} else {
			log.Debug("chunk modified during save; keeping it resident")
		}
		return
	}
	delete(s.chunks, r.idx)
	delete(s.state, r.idx)
	again := s.rerequest[r.idx]
	delete(s.rerequest, r.idx)
	s.mu.Unlock()

	log.Debug("chunk evicted")
	if s.onEvicted != nil {
		s.onEvicted(r.idx)
	}
	if again {
		_ = s.RequestAsync(r.idx)
	}
}

// LoadAndWait requests indices and blocks until all are resident. It is
// the spawn path; the simulation loop uses RequestAsync.
func (s *Streamer) LoadAndWait(ctx context.Context, indices []int) error {
	for _, idx := range indices {
		if err := s.ensure(idx); err != nil {
			return err
		}
	}
	for {
		s.Drain()
		ready := true
		for _, idx := range indices {
			if s.State(idx) != Resident {
				ready = false
				break
			}
		}
		if ready {
			return nil
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// ensure requests idx unless a load is already outstanding.
func (s *Streamer) ensure(idx int) error {
	s.mu.Lock()
	st := s.state[idx]
	if st == Saving {
		s.rerequest[idx] = true
	}
	s.mu.Unlock()
	if st != Unloaded {
		return nil
	}
	return s.RequestAsync(idx)
}

// wait blocks until a worker finishes a job or the limiter can release more
// backlog.
func (s *Streamer) wait(ctx context.Context) error {
	if len(s.backlog) > 0 {
		if err := s.limiter.Wait(ctx); err != nil {
			// The limiter refuses waits past the deadline; wait on ctx instead.
			select {
			case <-s.notify:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// Wait consumed the token; hand it to the next job directly.
		select {
		case s.jobs <- s.backlog[0]:
			s.backlog[0] = job{}
			s.backlog = s.backlog[1:]
			return nil
		default:
		}
	}
	select {
	case <-s.notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle drains until no load or save is outstanding.
func (s *Streamer) WaitIdle(ctx context.Context) error {
	for {
		s.Drain()
		if s.Outstanding() == 0 {
			return nil
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// SaveAll waits for outstanding work, then saves every changed resident
// chunk through a bounded errgroup. It blocks; use it at shutdown.
func (s *Streamer) SaveAll(ctx context.Context) error {
	if err := s.WaitIdle(ctx); err != nil {
		return err
	}
	return s.flush(ctx)
}
