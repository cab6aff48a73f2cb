package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	World     World     `yaml:"world"`
	Clock     Clock     `yaml:"clock"`
	Lighting  Lighting  `yaml:"lighting"`
	Streaming Streaming `yaml:"streaming"`
}

type World struct {
	Name       string `yaml:"name"`
	Dimension  string `yaml:"dimension"`
	Seed       int64  `yaml:"seed"`
	ChunkWidth int    `yaml:"chunk_width"`
	Height     int    `yaml:"height"`
	// Width in tiles; 0 means horizontally unbounded.
	Width      int    `yaml:"width"`
	SpawnX     int    `yaml:"spawn_x"`
	Difficulty string `yaml:"difficulty"`
	Generator  string `yaml:"generator"`
	Script     string `yaml:"script"`
}

type Clock struct {
	TicksPerDay  int     `yaml:"ticks_per_day"`
	TicksPerHour int     `yaml:"ticks_per_hour"`
	StartHour    float64 `yaml:"start_hour"`
}

type Lighting struct {
	NightLevel     float32 `yaml:"night_level"`
	DayLevel       float32 `yaml:"day_level"`
	RoundStep      float32 `yaml:"round_step"`
	AmbientFalloff float32 `yaml:"ambient_falloff"`
}

type Streaming struct {
	MarginTiles    int     `yaml:"margin_tiles"`
	Workers        int     `yaml:"workers"`
	QueueSize      int     `yaml:"queue_size"`
	DispatchPerSec float64 `yaml:"dispatch_per_sec"`
	DispatchBurst  int     `yaml:"dispatch_burst"`
	SaveAllLimit   int     `yaml:"save_all_limit"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 20,
		World: World{
			Name:       "world",
			Dimension:  "overworld",
			Seed:       1,
			ChunkWidth: 100,
			Height:     256,
			SpawnX:     0,
			Difficulty: "normal",
			Generator:  "flat",
		},
		Clock: Clock{
			TicksPerDay:  28800,
			TicksPerHour: 1200,
			StartHour:    6.5,
		},
		Lighting: Lighting{
			NightLevel:     0.2,
			DayLevel:       1.0,
			RoundStep:      0.05,
			AmbientFalloff: 0.1,
		},
		Streaming: Streaming{
			MarginTiles:    200,
			Workers:        4,
			QueueSize:      64,
			DispatchPerSec: 200,
			DispatchBurst:  16,
			SaveAllLimit:   8,
		},
	}
}

// Load reads path over Defaults(); missing keys keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("tick_rate_hz must be > 0")
	case t.World.ChunkWidth <= 0:
		return fmt.Errorf("world.chunk_width must be > 0")
	case t.World.Height <= 0:
		return fmt.Errorf("world.height must be > 0")
	case t.World.Width < 0:
		return fmt.Errorf("world.width must be >= 0")
	case t.World.Width > 0 && t.World.Width%t.World.ChunkWidth != 0:
		return fmt.Errorf("world.width %d not a multiple of chunk_width %d", t.World.Width, t.World.ChunkWidth)
	case t.World.Name == "" || t.World.Dimension == "":
		return fmt.Errorf("world.name and world.dimension are required")
	case t.Clock.TicksPerHour <= 0 || t.Clock.TicksPerDay != 24*t.Clock.TicksPerHour:
		return fmt.Errorf("clock: ticks_per_day must equal 24*ticks_per_hour")
	case t.Lighting.NightLevel < 0 || t.Lighting.DayLevel > 1 || t.Lighting.NightLevel > t.Lighting.DayLevel:
		return fmt.Errorf("lighting: need 0 <= night_level <= day_level <= 1")
	case t.Lighting.RoundStep < 0 || t.Lighting.AmbientFalloff < 0:
		return fmt.Errorf("lighting: round_step and ambient_falloff must be >= 0")
	case t.Streaming.Workers <= 0 || t.Streaming.QueueSize <= 0:
		return fmt.Errorf("streaming: workers and queue_size must be > 0")
	case t.Streaming.MarginTiles < 0:
		return fmt.Errorf("streaming.margin_tiles must be >= 0")
	}
	switch t.World.Generator {
	case "flat", "lua":
	default:
		return fmt.Errorf("world.generator %q (want flat|lua)", t.World.Generator)
	}
	return nil
}

// ChunkCount is the number of chunk indices in a bounded world, 0 if unbounded.
func (t Tuning) ChunkCount() int {
	if t.World.Width <= 0 {
		return 0
	}
	return t.World.Width / t.World.ChunkWidth
}
