package protocol_test

import (
	"encoding/json"
	"testing"

	"tileworld.dev/internal/persistence/chunkcodec"
	"tileworld.dev/internal/protocol"
	"tileworld.dev/internal/sim/chunk"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	ok := []struct {
		typ string
		raw string
	}{
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","viewer_name":"v","capabilities":{"max_queue":8,"catalog":true}}`},
		{protocol.TypeView, `{"type":"VIEW","protocol_version":"1.0","x":-650}`},
		{protocol.TypeEdit, `{"type":"EDIT","protocol_version":"1.0","x":3,"y":40,"layer":"BACK","tile":"DIRT_WALL"}`},
		{protocol.TypeWelcome, `{"anything":"goes"}`},
	}
	for _, tc := range ok {
		if err := protocol.Validate(tc.typ, []byte(tc.raw)); err != nil {
			t.Fatalf("%s: %v", tc.typ, err)
		}
	}

	bad := []struct {
		typ string
		raw string
	}{
		{protocol.TypeHello, `{"type":"HELLO"}`},
		{protocol.TypeView, `{"type":"VIEW","protocol_version":"1.0","x":1.5}`},
		{protocol.TypeEdit, `{"type":"EDIT","protocol_version":"1.0","x":3,"y":-1,"tile":"DIRT"}`},
		{protocol.TypeEdit, `{"type":"EDIT","protocol_version":"1.0","x":3,"y":1,"layer":"SIDE","tile":"DIRT"}`},
		{protocol.TypeView, `not json`},
	}
	for _, tc := range bad {
		if err := protocol.Validate(tc.typ, []byte(tc.raw)); err == nil {
			t.Fatalf("%s accepted %s", tc.typ, tc.raw)
		}
	}
}

func TestSchemas_ChunkMessage(t *testing.T) {
	cell := &chunkcodec.WireCell{ID: 11, MetaData: 1, BitMap: 0, Inventory: []chunk.ItemStack{{ItemID: 6, Count: 3}}}
	msg := protocol.ChunkMsg{
		Type:            protocol.TypeChunk,
		ProtocolVersion: protocol.Version,
		Tick:            42,
		Version:         7,
		Chunk: chunkcodec.WireChunk{
			Biome:        chunk.Biome{ID: 1, Name: "forest"},
			Front:        [][]*chunkcodec.WireCell{{nil, cell}, {nil, nil}},
			Back:         [][]*chunkcodec.WireCell{{nil, nil}, {nil, nil}},
			ChunkIndex:   -2,
			Height:       2,
			LightSources: []chunkcodec.WirePos{},
		},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := protocol.Validate(protocol.TypeChunk, b); err != nil {
		t.Fatalf("chunk message: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil || base.Type != protocol.TypeChunk || base.ProtocolVersion != protocol.Version {
		t.Fatalf("DecodeBase=%+v, %v", base, err)
	}
}
