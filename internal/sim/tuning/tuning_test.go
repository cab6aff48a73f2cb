package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	raw := "world:\n  width: 1200\n  chunk_width: 100\nstreaming:\n  margin_tiles: 50\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.ChunkCount() != 12 {
		t.Fatalf("ChunkCount=%d want 12", tu.ChunkCount())
	}
	if tu.Streaming.MarginTiles != 50 || tu.Streaming.Workers != 4 {
		t.Fatalf("streaming=%+v", tu.Streaming)
	}
	if tu.World.Height != 256 {
		t.Fatalf("height default lost: %d", tu.World.Height)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Tuning){
		"width not multiple": func(t *Tuning) { t.World.Width = 150 },
		"zero height":        func(t *Tuning) { t.World.Height = 0 },
		"bad clock":          func(t *Tuning) { t.Clock.TicksPerDay = 100 },
		"night above day":    func(t *Tuning) { t.Lighting.NightLevel = 1; t.Lighting.DayLevel = 0.5 },
		"no workers":         func(t *Tuning) { t.Streaming.Workers = 0 },
		"unknown generator":  func(t *Tuning) { t.World.Generator = "perlin" },
	}
	for name, mut := range cases {
		tu := Defaults()
		mut(&tu)
		if err := tu.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad_RepoTuning(t *testing.T) {
	path := filepath.Join("..", "..", "..", "configs", "tuning.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("missing %s", path)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
