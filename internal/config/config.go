package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Paths   PathsConfig   `toml:"paths"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
	Audit   AuditConfig   `toml:"audit"`
}

type ServerConfig struct {
	Listen            string        `toml:"listen"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	SpawnTimeout      time.Duration `toml:"spawn_timeout"`
	StrictInvariants  bool          `toml:"strict_invariants"`
	ViewerIdleTimeout time.Duration `toml:"viewer_idle_timeout"`
}

type PathsConfig struct {
	DataDir string `toml:"data_dir"`
	Tuning  string `toml:"tuning"`
	Tiles   string `toml:"tiles"`
}

type StorageConfig struct {
	Backend string `toml:"backend"` // "file", "sqlite", "postgres" or "memory"
	DSN     string `toml:"dsn"`
	MaxConn int32  `toml:"max_conns"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type AuditConfig struct {
	Enabled bool `toml:"enabled"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":8080",
			ShutdownTimeout:   30 * time.Second,
			SpawnTimeout:      15 * time.Second,
			ViewerIdleTimeout: 2 * time.Minute,
		},
		Paths: PathsConfig{
			DataDir: "./data",
			Tuning:  "./configs/tuning.yaml",
			Tiles:   "./configs/tiles.json",
		},
		Storage: StorageConfig{
			Backend: "file",
			MaxConn: 8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Audit: AuditConfig{Enabled: true},
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q (want file|sqlite|postgres|memory)", c.Storage.Backend)
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir required")
	}
	return nil
}
