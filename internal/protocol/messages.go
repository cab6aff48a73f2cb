package protocol

import (
	"tileworld.dev/internal/persistence/chunkcodec"
	"tileworld.dev/internal/sim/catalogs"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ViewerName      string            `json:"viewer_name,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int  `json:"max_queue,omitempty"`
	Catalog  bool `json:"catalog,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
	Tiles           DigestRef   `json:"tiles"`
}

type WorldParams struct {
	Name        string `json:"name"`
	Dimension   string `json:"dimension"`
	TickRateHz  int    `json:"tick_rate_hz"`
	ChunkWidth  int    `json:"chunk_width"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	ChunkCount  int    `json:"chunk_count"`
	TicksPerDay int    `json:"ticks_per_day"`
	SpawnX      int    `json:"spawn_x"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// CATALOG (server -> client): the tile registry, sent when the client asks
// for it in HELLO.
type CatalogMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	Name            string             `json:"name"`
	Digest          string             `json:"digest"`
	Data            []catalogs.TileDef `json:"data"`
}

// VIEW (client -> server): the column the viewer is centred on.
type ViewMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int    `json:"x"`
}

// CHUNK (server -> client)
type ChunkMsg struct {
	Type            string               `json:"type"`
	ProtocolVersion string               `json:"protocol_version"`
	Tick            uint64               `json:"tick"`
	Version         uint64               `json:"version"`
	Chunk           chunkcodec.WireChunk `json:"chunk"`
}

// UNLOAD (server -> client): the chunk left the viewer's window.
type UnloadMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ChunkIndex      int    `json:"chunk_index"`
}

// EDIT (client -> server): place a tile by catalog name.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	Layer           string `json:"layer,omitempty"`
	Tile            string `json:"tile"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
