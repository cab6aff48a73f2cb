package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"tileworld.dev/internal/config"
	"tileworld.dev/internal/persistence/chunkcodec"
	"tileworld.dev/internal/persistence/chunkstore"
	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
	"tileworld.dev/internal/sim/mathx"
	"tileworld.dev/internal/sim/tilemap"
	"tileworld.dev/internal/sim/tuning"
	"tileworld.dev/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "meta":
			metaCmd(os.Args[2:])
			return
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// env is the offline view of a world's storage. The server must not be
// running against the same store when env writes.
type env struct {
	cfg   *config.Config
	tune  tuning.Tuning
	reg   *catalogs.Registry
	store chunkstore.Store
	codec *chunkcodec.Codec
}

func openEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	tune, err := tuning.Load(cfg.Paths.Tuning)
	if err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}
	reg, err := catalogs.Load(cfg.Paths.Tiles)
	if err != nil {
		return nil, fmt.Errorf("load tiles: %w", err)
	}
	store, err := chunkstore.Open(context.Background(), cfg.Storage.Backend, cfg.Paths.DataDir, cfg.Storage.DSN, cfg.Storage.MaxConn, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	return &env{
		cfg:   cfg,
		tune:  tune,
		reg:   reg,
		store: store,
		codec: chunkcodec.New(reg, tune.World.ChunkWidth, tune.World.Height),
	}, nil
}

func (e *env) worldDir() string {
	return filepath.Join(e.cfg.Paths.DataDir, e.tune.World.Name, e.tune.World.Dimension)
}

func (e *env) key(idx int) chunkstore.Key {
	return chunkstore.Key{World: e.tune.World.Name, Dimension: e.tune.World.Dimension, Index: idx}
}

func (e *env) loadChunk(ctx context.Context, idx int) (*chunk.Chunk, error) {
	b, err := e.store.Load(ctx, e.key(idx))
	if err != nil {
		return nil, err
	}
	return e.codec.Decode(b)
}

func fatal(code int, args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(code)
}

// listCmd prints every world/dimension under the data dir that has saved
// metadata.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	matches, err := filepath.Glob(filepath.Join(*dataDir, "*", "*", "world.meta.json.zst"))
	if err != nil {
		fatal(1, "glob:", err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		dim := filepath.Dir(m)
		fmt.Printf("%s/%s\n", filepath.Base(filepath.Dir(dim)), filepath.Base(dim))
	}
}

func metaCmd(args []string) {
	fs := flag.NewFlagSet("meta", flag.ExitOnError)
	configPath := fs.String("config", "./configs/server.toml", "path to server.toml")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(1, err)
	}
	tune, err := tuning.Load(cfg.Paths.Tuning)
	if err != nil {
		fatal(1, "load tuning:", err)
	}
	m, err := chunkcodec.ReadMeta(chunkcodec.MetaPath(cfg.Paths.DataDir, tune.World.Name, tune.World.Dimension))
	if err != nil {
		fatal(1, "read meta:", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(m)
}

// chunkCmd renders one saved chunk as text, one row per line, sky at the
// top. Air is '.', back walls alone are ':', front tiles use the first
// letter of their name.
func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	configPath := fs.String("config", "./configs/server.toml", "path to server.toml")
	index := fs.Int("index", 0, "chunk index")
	asJSON := fs.Bool("json", false, "print the wire form instead of text")
	_ = fs.Parse(args)

	e, err := openEnv(*configPath)
	if err != nil {
		fatal(1, err)
	}
	defer e.store.Close()

	c, err := e.loadChunk(context.Background(), *index)
	if errors.Is(err, chunkstore.ErrNotFound) {
		fatal(2, "chunk", *index, "has never been saved")
	}
	if err != nil {
		fatal(1, "load chunk:", err)
	}
	if *asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(e.codec.Wire(c))
		return
	}

	fmt.Printf("chunk %d biome=%s weather=%s sources=%d\n", c.Index(), c.Biome().Name, c.Weather(), len(c.LightSources()))
	var sb strings.Builder
	for y := 0; y < c.Height(); y++ {
		sb.Reset()
		for x := 0; x < c.Width(); x++ {
			sb.WriteByte(glyph(e.reg, c, x, y))
		}
		fmt.Println(sb.String())
	}
}

func glyph(reg *catalogs.Registry, c *chunk.Chunk, x, y int) byte {
	front, _ := c.Front(x, y)
	if front.ID != reg.Air {
		if def, ok := reg.Def(front.ID); ok && def.Name != "" {
			return def.Name[0]
		}
		return '?'
	}
	back, _ := c.Back(x, y)
	if back.ID != reg.BackAir {
		return ':'
	}
	return '.'
}

type auditFilter struct {
	since, to  uint64
	minX, maxX int
	minY, maxY int
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if e.Tick < f.since || (f.to != 0 && e.Tick > f.to) {
		return false
	}
	return e.X >= f.minX && e.X <= f.maxX && e.Y >= f.minY && e.Y <= f.maxY
}

func parseFilter(fs *flag.FlagSet, args []string) (auditFilter, *string) {
	configPath := fs.String("config", "./configs/server.toml", "path to server.toml")
	since := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	to := fs.Uint64("to_tick", 0, "last tick (inclusive, 0 = no limit)")
	box := fs.String("box", "", "area filter: x1,y1:x2,y2 (optional)")
	_ = fs.Parse(args)

	f := auditFilter{since: *since, to: *to, minX: math.MinInt, maxX: math.MaxInt, minY: math.MinInt, maxY: math.MaxInt}
	if strings.TrimSpace(*box) != "" {
		a, b, err := parseBox(*box)
		if err != nil {
			fatal(2, "bad -box:", err)
		}
		f.minX, f.maxX = min(a[0], b[0]), max(a[0], b[0])
		f.minY, f.maxY = min(a[1], b[1]), max(a[1], b[1])
	}
	return f, configPath
}

func auditCmd(args []string) {
	f, configPath := parseFilter(flag.NewFlagSet("audit", flag.ExitOnError), args)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(1, err)
	}
	tune, err := tuning.Load(cfg.Paths.Tuning)
	if err != nil {
		fatal(1, "load tuning:", err)
	}
	recs, err := readAudit(filepath.Join(cfg.Paths.DataDir, tune.World.Name, tune.World.Dimension), f)
	if err != nil {
		fatal(1, "read audit:", err)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range recs {
		_ = enc.Encode(r.Entry)
	}
}

// rollbackCmd restores the From tile of every matching audit entry, newest
// first, directly in the chunk store. Run it with the server stopped.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dryRun := fs.Bool("dry_run", false, "report what would change without saving")
	f, configPath := parseFilter(fs, args)
	if f.minX == math.MinInt {
		fatal(2, "missing -box")
	}

	e, err := openEnv(*configPath)
	if err != nil {
		fatal(1, err)
	}
	defer e.store.Close()

	recs, err := readAudit(e.worldDir(), f)
	if err != nil {
		fatal(1, "read audit:", err)
	}
	if len(recs) == 0 {
		fmt.Println("no matching audit entries; nothing to rollback")
		return
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Entry.Tick != recs[j].Entry.Tick {
			return recs[i].Entry.Tick > recs[j].Entry.Tick
		}
		return recs[i].Seq > recs[j].Seq
	})

	ctx := context.Background()
	applied, skipped, chunks, err := applyRollback(ctx, e, recs)
	if err != nil {
		fatal(1, "rollback:", err)
	}
	if !*dryRun {
		for _, c := range chunks {
			b, err := e.codec.Encode(c)
			if err != nil {
				fatal(1, "encode chunk:", err)
			}
			if err := e.store.Save(ctx, e.key(c.Index()), b); err != nil {
				fatal(1, "save chunk:", err)
			}
		}
	}
	fmt.Printf("rollback ok: entries=%d applied=%d skipped=%d chunks=%d dry_run=%v\n",
		len(recs), applied, skipped, len(chunks), *dryRun)
}

func applyRollback(ctx context.Context, e *env, recs []auditRec) (applied, skipped int, touched []*chunk.Chunk, err error) {
	width := e.tune.World.ChunkWidth
	loaded := map[int]*chunk.Chunk{}
	for _, r := range recs {
		idx := mathx.FloorDiv(r.Entry.X, width)
		c, ok := loaded[idx]
		if !ok {
			c, err = e.loadChunk(ctx, idx)
			if errors.Is(err, chunkstore.ErrNotFound) {
				// Never saved: the edit was lost with its chunk.
				loaded[idx] = nil
				skipped++
				err = nil
				continue
			}
			if err != nil {
				return applied, skipped, nil, fmt.Errorf("chunk %d: %w", idx, err)
			}
			loaded[idx] = c
		}
		if c == nil {
			skipped++
			continue
		}
		def, ok := e.reg.Def(r.Entry.From)
		if !ok || def.Layer != r.Entry.Layer {
			skipped++
			continue
		}
		// Multi-cell structures come back cell by cell; inventories are not
		// in the audit log and restore empty.
		lx, y := mathx.Mod(r.Entry.X, width), r.Entry.Y
		t := chunk.Tile{ID: def.ID, MetaData: 1, Solid: def.Solid}
		if def.HasInventory() {
			t.Inventory = make([]chunk.ItemStack, def.Inventory.Slots)
		}
		var setErr error
		if def.Layer == catalogs.LayerBack {
			setErr = c.SetBack(lx, y, t)
		} else {
			pos := chunk.Pos{X: lx, Y: y}
			c.RemoveLightSource(pos)
			if setErr = c.SetFront(lx, y, t); setErr == nil && def.Emissive() {
				c.AddLightSource(pos)
			}
		}
		if setErr != nil {
			skipped++
			continue
		}
		applied++
	}

	idxs := make([]int, 0, len(loaded))
	for idx, c := range loaded {
		if c != nil {
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		c := loaded[idx]
		tilemap.FillChunk(e.reg, c)
		c.SetChanged(true)
		touched = append(touched, c)
	}
	return applied, skipped, touched, nil
}

type auditRec struct {
	Seq   uint64
	Entry world.AuditEntry
}

func readAudit(worldDir string, f auditFilter) ([]auditRec, error) {
	dir := filepath.Join(worldDir, "audit")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]auditRec, 0, 1024)
	var seq uint64
	for _, name := range names {
		if err := scanAuditFile(filepath.Join(dir, name), func(e world.AuditEntry) {
			seq++
			if f.match(e) {
				out = append(out, auditRec{Seq: seq, Entry: e})
			}
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanAuditFile(path string, fn func(world.AuditEntry)) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	dec, err := zstd.NewReader(fh)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e world.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		fn(e)
	}
	return sc.Err()
}

func parseBox(s string) (a, b [2]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return a, b, fmt.Errorf("expected x1,y1:x2,y2")
	}
	if a, err = parseVec2(parts[0]); err != nil {
		return a, b, err
	}
	b, err = parseVec2(parts[1])
	return a, b, err
}

func parseVec2(s string) ([2]int, error) {
	var v [2]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return v, fmt.Errorf("expected x,y")
	}
	for i := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
