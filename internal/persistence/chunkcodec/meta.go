package chunkcodec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

const MetaVersion = 1

// WorldMetaV1 is the per-dimension world metadata file.
type WorldMetaV1 struct {
	Version          int       `json:"version"`
	Name             string    `json:"name"`
	Dimension        string    `json:"dimension"`
	Seed             int64     `json:"seed"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	ChunkWidth       int       `json:"chunk_width"`
	ChunkCount       int       `json:"chunk_count"`
	ClockTicks       uint64    `json:"clock_ticks"`
	Difficulty       string    `json:"difficulty"`
	BiomeRegions     int       `json:"biome_regions"`
	AverageSkyHeight int       `json:"average_sky_height"`
	TilesDigest      string    `json:"tiles_digest,omitempty"`
	SavedAt          time.Time `json:"saved_at"`
}

func MetaPath(dataDir, world, dimension string) string {
	return filepath.Join(dataDir, world, dimension, "world.meta.json.zst")
}

// WriteMeta replaces the metadata file atomically.
func WriteMeta(path string, m WorldMetaV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	m.Version = MetaVersion
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	b := enc.EncodeAll(raw, nil)
	_ = enc.Close()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadMeta returns os.ErrNotExist (wrapped) when no metadata was saved.
func ReadMeta(path string) (WorldMetaV1, error) {
	var m WorldMetaV1
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return m, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		return m, fmt.Errorf("%w: meta: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: meta: %v", ErrCorrupt, err)
	}
	if m.Version != MetaVersion {
		return m, fmt.Errorf("%w: meta version %d", ErrCorrupt, m.Version)
	}
	return m, nil
}
