package gen

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
)

// Lua produces chunks from a script defining
//
//	generate_column(ctx) -> {surface=, top=, filler=, filler_depth=, base=, wall=}
//
// where ctx has x, height, seed and biome, and tile fields are registry
// names. Columns the script fails on fall back to the Flat profile.
type Lua struct {
	reg      *catalogs.Registry
	fallback *Flat
	log      *zap.Logger

	// LState is single-goroutine; workers take turns.
	mu sync.Mutex
	vm *lua.LState
}

func NewLua(reg *catalogs.Registry, seed int64, height int, scriptPath string, log *zap.Logger) (*Lua, error) {
	flat, err := NewFlat(reg, seed, height)
	if err != nil {
		return nil, err
	}
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	if err := vm.DoFile(scriptPath); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load %s: %w", scriptPath, err)
	}
	if vm.GetGlobal("generate_column") == lua.LNil {
		vm.Close()
		return nil, fmt.Errorf("%s: generate_column not defined", scriptPath)
	}
	log.Debug("loaded lua script", zap.String("file", scriptPath))
	return &Lua{reg: reg, fallback: flat, log: log, vm: vm}, nil
}

func (l *Lua) Biome(idx int) chunk.Biome { return l.fallback.Biome(idx) }

func (l *Lua) Fill(c *chunk.Chunk) error {
	biome := c.Biome()
	l.mu.Lock()
	cols := make([]Column, c.Width())
	for lx := range cols {
		cols[lx] = l.column(c.MinX()+lx, biome)
	}
	l.mu.Unlock()

	for lx, col := range cols {
		fillColumn(l.reg, l.fallback.pal, c, lx, col)
	}
	finish(l.reg, c)
	return nil
}

func (l *Lua) column(wx int, biome chunk.Biome) Column {
	def := l.fallback.Column(wx, biome)

	ctx := l.vm.NewTable()
	ctx.RawSetString("x", lua.LNumber(wx))
	ctx.RawSetString("height", lua.LNumber(l.fallback.height))
	ctx.RawSetString("seed", lua.LNumber(l.fallback.seed))
	ctx.RawSetString("biome", lua.LString(biome.Name))

	if err := l.vm.CallByParam(lua.P{
		Fn:      l.vm.GetGlobal("generate_column"),
		NRet:    1,
		Protect: true,
	}, ctx); err != nil {
		l.log.Error("lua generate_column error", zap.Int("x", wx), zap.Error(err))
		return def
	}
	ret := l.vm.Get(-1)
	l.vm.Pop(1)

	rt, ok := ret.(*lua.LTable)
	if !ok {
		l.log.Error("lua generate_column returned non-table", zap.Int("x", wx))
		return def
	}
	col := def
	if v, ok := rt.RawGetString("surface").(lua.LNumber); ok {
		col.Surface = int(v)
	}
	if v, ok := rt.RawGetString("filler_depth").(lua.LNumber); ok {
		col.FillerDepth = int(v)
	}
	col.Top = l.tileID(rt, "top", col.Top)
	col.Filler = l.tileID(rt, "filler", col.Filler)
	col.Base = l.tileID(rt, "base", col.Base)
	col.Wall = l.tileID(rt, "wall", col.Wall)
	return col
}

func (l *Lua) tileID(t *lua.LTable, field string, def uint16) uint16 {
	name, ok := t.RawGetString(field).(lua.LString)
	if !ok {
		return def
	}
	id, ok := l.reg.ID(string(name))
	if !ok {
		l.log.Warn("lua column names unknown tile", zap.String("field", field), zap.String("tile", string(name)))
		return def
	}
	return id
}

func (l *Lua) Close() {
	l.mu.Lock()
	l.vm.Close()
	l.mu.Unlock()
}
