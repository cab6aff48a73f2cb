package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Layer names. A tile id belongs to exactly one layer.
const (
	LayerFront = "FRONT"
	LayerBack  = "BACK"
)

// Adjacency code variants (see world bitmap recompute).
const (
	TileMapNone    = ""
	TileMapGeneral = "GENERAL"
	TileMapPillar  = "PILLAR"
)

// Names every registry must define.
const (
	AirName     = "AIR"
	BackAirName = "BACK_AIR"
)

//go:embed tiles.schema.json
var tilesSchemaJSON string

var tilesSchema = jsonschema.MustCompileString("tiles.schema.json", tilesSchemaJSON)

type TileDef struct {
	ID        uint16        `json:"id"`
	Name      string        `json:"name"`
	Layer     string        `json:"layer"`
	Solid     bool          `json:"solid"`
	TileMap   string        `json:"tile_map,omitempty"`
	Light     *LightDef     `json:"light,omitempty"`
	Inventory *InventoryDef `json:"inventory,omitempty"`
	Footprint *Footprint    `json:"footprint,omitempty"`
}

type LightDef struct {
	Radius   int     `json:"radius"`
	Strength float32 `json:"strength"`
}

type InventoryDef struct {
	Slots int `json:"slots"`
}

type Footprint struct {
	W int `json:"w"`
	H int `json:"h"`
}

func (d TileDef) Emissive() bool {
	return d.Light != nil && d.Light.Radius >= 0 && d.Light.Strength > 0
}

func (d TileDef) HasInventory() bool { return d.Inventory != nil && d.Inventory.Slots > 0 }

func (d TileDef) MultiCell() bool {
	return d.Footprint != nil && (d.Footprint.W > 1 || d.Footprint.H > 1)
}

// Size returns the footprint, 1x1 for single-cell tiles.
func (d TileDef) Size() (w, h int) {
	if d.Footprint == nil || d.Footprint.W <= 0 || d.Footprint.H <= 0 {
		return 1, 1
	}
	return d.Footprint.W, d.Footprint.H
}

// Registry is the read-only tile catalog. It is built once and passed to every
// component that needs catalog lookups.
type Registry struct {
	defs    []TileDef
	present []bool
	byName  map[string]uint16

	Air            uint16
	BackAir        uint16
	MaxLightRadius int
	Digest         string
}

// NewRegistry validates defs and indexes them by id and name.
func NewRegistry(defs []TileDef) (*Registry, error) {
	r := &Registry{byName: make(map[string]uint16, len(defs))}
	maxID := 0
	for _, d := range defs {
		if int(d.ID) > maxID {
			maxID = int(d.ID)
		}
	}
	r.defs = make([]TileDef, maxID+1)
	r.present = make([]bool, maxID+1)

	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("tile %d: empty name", d.ID)
		}
		if d.Layer != LayerFront && d.Layer != LayerBack {
			return nil, fmt.Errorf("tile %s: bad layer %q", d.Name, d.Layer)
		}
		if r.present[d.ID] {
			return nil, fmt.Errorf("tile %s: duplicate id %d", d.Name, d.ID)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("tile %s: duplicate name", d.Name)
		}
		switch d.TileMap {
		case TileMapNone, TileMapGeneral, TileMapPillar:
		default:
			return nil, fmt.Errorf("tile %s: bad tile_map %q", d.Name, d.TileMap)
		}
		if d.Light != nil && d.Light.Radius < 0 {
			return nil, fmt.Errorf("tile %s: negative light radius", d.Name)
		}
		r.defs[d.ID] = d
		r.present[d.ID] = true
		r.byName[d.Name] = d.ID
		if d.Emissive() && d.Light.Radius > r.MaxLightRadius {
			r.MaxLightRadius = d.Light.Radius
		}
	}

	air, ok := r.byName[AirName]
	if !ok || r.defs[air].Layer != LayerFront {
		return nil, fmt.Errorf("tiles: missing front-layer %s", AirName)
	}
	backAir, ok := r.byName[BackAirName]
	if !ok || r.defs[backAir].Layer != LayerBack {
		return nil, fmt.Errorf("tiles: missing back-layer %s", BackAirName)
	}
	r.Air, r.BackAir = air, backAir

	if r.Digest == "" {
		canon := r.Defs()
		b, _ := json.Marshal(canon)
		r.Digest = sha256Hex(b)
	}
	return r, nil
}

// Load reads a tiles.json file, validates it against the embedded schema and
// builds a Registry. The digest is taken over the raw file bytes.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tiles.json: %w", err)
	}
	if err := tilesSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("tiles.json: %w", err)
	}
	var defs []TileDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("tiles.json: %w", err)
	}
	r, err := NewRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("tiles.json: %w", err)
	}
	r.Digest = sha256Hex(raw)
	return r, nil
}

func (r *Registry) Def(id uint16) (TileDef, bool) {
	if int(id) >= len(r.defs) || !r.present[id] {
		return TileDef{}, false
	}
	return r.defs[id], true
}

func (r *Registry) ID(name string) (uint16, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// MustID panics on unknown names; intended for wiring code and tests.
func (r *Registry) MustID(name string) uint16 {
	id, ok := r.byName[name]
	if !ok {
		panic(fmt.Sprintf("catalogs: unknown tile %q", name))
	}
	return id
}

func (r *Registry) Solid(id uint16) bool {
	d, ok := r.Def(id)
	return ok && d.Solid
}

// Light returns the emission of id, zero when the tile does not emit.
func (r *Registry) Light(id uint16) (radius int, strength float32, ok bool) {
	d, found := r.Def(id)
	if !found || !d.Emissive() {
		return 0, 0, false
	}
	return d.Light.Radius, d.Light.Strength, true
}

// Defs returns all definitions sorted by id.
func (r *Registry) Defs() []TileDef {
	out := make([]TileDef, 0, len(r.byName))
	for i, ok := range r.present {
		if ok {
			out = append(out, r.defs[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
