package chunkcodec

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"tileworld.dev/internal/sim/catalogs"
	"tileworld.dev/internal/sim/chunk"
)

const BlobVersion = 1

// ErrCorrupt marks a blob that could not be decoded. Callers treat it as
// "no saved chunk".
var ErrCorrupt = errors.New("chunkcodec: corrupt blob")

type Header struct {
	Version int    `json:"version"`
	Index   int    `json:"chunk_index"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Tiles   string `json:"tiles_digest,omitempty"`
}

// BlobV1 is the persisted chunk. Default cells (air front, back-air back)
// are omitted; I is the column-major cell index x*Height+y.
type BlobV1 struct {
	Header  Header
	Biome   chunk.Biome
	Weather string
	Front   []CellV1
	Back    []CellV1
}

type CellV1 struct {
	I         int32
	ID        uint16
	MetaData  uint8
	BitMap    uint8
	Inventory []chunk.ItemStack
}

// Codec converts chunks to and from their persisted and wire forms.
type Codec struct {
	reg    *catalogs.Registry
	width  int
	height int
}

func New(reg *catalogs.Registry, width, height int) *Codec {
	return &Codec{reg: reg, width: width, height: height}
}

func (c *Codec) Encode(ch *chunk.Chunk) ([]byte, error) {
	front, back := ch.Tiles()
	blob := BlobV1{
		Header: Header{
			Version: BlobVersion,
			Index:   ch.Index(),
			Width:   ch.Width(),
			Height:  ch.Height(),
			Tiles:   c.reg.Digest,
		},
		Biome:   ch.Biome(),
		Weather: ch.Weather(),
		Front:   sparse(front, c.reg.Air),
		Back:    sparse(back, c.reg.BackAir),
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(blob.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := gob.NewEncoder(bw).Encode(&blob); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sparse(tiles []chunk.Tile, def uint16) []CellV1 {
	var out []CellV1
	for i, t := range tiles {
		if t.ID == def {
			continue
		}
		out = append(out, CellV1{
			I:         int32(i),
			ID:        t.ID,
			MetaData:  t.MetaData,
			BitMap:    t.BitMap,
			Inventory: t.Inventory,
		})
	}
	return out
}

// DecodeBlob unpacks b without building a chunk.
func DecodeBlob(b []byte) (BlobV1, error) {
	var blob BlobV1
	dec, err := zstd.NewReader(bytes.NewReader(b))
	if err != nil {
		return blob, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return blob, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return blob, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Version != BlobVersion {
		return blob, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&blob); err != nil {
		return blob, fmt.Errorf("%w: gob decode: %v", ErrCorrupt, err)
	}
	return blob, nil
}

// Decode rebuilds a chunk. Absent cells are defaults, Solid is re-derived
// from the registry, light is zeroed with lightDirty set and light sources
// are rebuilt from emissive front tiles.
func (c *Codec) Decode(b []byte) (*chunk.Chunk, error) {
	blob, err := DecodeBlob(b)
	if err != nil {
		return nil, err
	}
	h := blob.Header
	if h.Width != c.width || h.Height != c.height {
		return nil, fmt.Errorf("%w: geometry %dx%d, want %dx%d", ErrCorrupt, h.Width, h.Height, c.width, c.height)
	}

	ch := chunk.New(h.Index, c.width, c.height, blob.Biome, c.reg.Air, c.reg.BackAir)
	n := int32(c.width * c.height)
	for _, cell := range blob.Front {
		if cell.I < 0 || cell.I >= n {
			return nil, fmt.Errorf("%w: front cell index %d", ErrCorrupt, cell.I)
		}
		def, ok := c.reg.Def(cell.ID)
		if !ok || def.Layer != catalogs.LayerFront {
			return nil, fmt.Errorf("%w: front tile id %d", ErrCorrupt, cell.ID)
		}
		x, y := int(cell.I)/c.height, int(cell.I)%c.height
		_ = ch.SetFront(x, y, c.tile(cell, def))
		if def.Emissive() {
			ch.AddLightSource(chunk.Pos{X: x, Y: y})
		}
	}
	for _, cell := range blob.Back {
		if cell.I < 0 || cell.I >= n {
			return nil, fmt.Errorf("%w: back cell index %d", ErrCorrupt, cell.I)
		}
		def, ok := c.reg.Def(cell.ID)
		if !ok || def.Layer != catalogs.LayerBack {
			return nil, fmt.Errorf("%w: back tile id %d", ErrCorrupt, cell.ID)
		}
		_ = ch.SetBack(int(cell.I)/c.height, int(cell.I)%c.height, c.tile(cell, def))
	}
	if blob.Weather != "" {
		ch.SetWeather(blob.Weather)
	}
	ch.SetChanged(false)
	ch.SetLightDirty(true)
	return ch, nil
}

func (c *Codec) tile(cell CellV1, def catalogs.TileDef) chunk.Tile {
	return chunk.Tile{
		ID:        cell.ID,
		MetaData:  cell.MetaData,
		BitMap:    cell.BitMap,
		Solid:     def.Solid,
		Inventory: cell.Inventory,
	}
}
