// Package config loads runtime configuration for the vecdb server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config captures all runtime configuration for the application.
type Config struct {
	Address string `yaml:"address"`

	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	LSH       LSHConfig       `yaml:"lsh"`

	DefaultAlgorithm string `yaml:"default_algorithm"`
}

// SnapshotConfig controls where and how often the store persists itself.
type SnapshotConfig struct {
	Path            string `yaml:"path"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// BootstrapConfig controls the fallback seed path used when no snapshot or
// backup exists yet.
type BootstrapConfig struct {
	SampleEmbeddingsPath string `yaml:"sample_embeddings_path"`
}

// LSHConfig holds the default LSH construction parameters.
type LSHConfig struct {
	Tables int   `yaml:"tables"`
	Planes int   `yaml:"planes"`
	Seed   int64 `yaml:"seed"`
}

// FromEnv builds a Config by reading environment variables and applying
// sensible defaults. The resulting configuration is validated before it is
// returned.
func FromEnv() (Config, error) {
	cfg := Config{
		Address: getEnv("SERVER_ADDR", "127.0.0.1:8080"),
		Snapshot: SnapshotConfig{
			Path:            getEnv("SNAPSHOT_PATH", "./vectordb.snapshot"),
			IntervalSeconds: getEnvInt("SNAPSHOT_INTERVAL_SECONDS", 30),
		},
		Bootstrap: BootstrapConfig{
			SampleEmbeddingsPath: getEnv("SAMPLE_EMBEDDINGS_PATH", ""),
		},
		LSH: LSHConfig{
			Tables: getEnvInt("LSH_TABLES", 4),
			Planes: getEnvInt("LSH_PLANES", 8),
			Seed:   int64(getEnvInt("LSH_SEED", 42)),
		},
		DefaultAlgorithm: getEnv("DEFAULT_ALGORITHM", "exact"),
	}

	return cfg, cfg.validate()
}

// LoadFile layers a YAML config file under environment variables: the file
// supplies defaults, then FromEnv's variables (when set) take precedence.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}

	var fromFile Config
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
	}

	cfg := fromFile
	if v, ok := os.LookupEnv("SERVER_ADDR"); ok && v != "" {
		cfg.Address = v
	}
	if v, ok := os.LookupEnv("SNAPSHOT_PATH"); ok && v != "" {
		cfg.Snapshot.Path = v
	}
	if v, ok := os.LookupEnv("SNAPSHOT_INTERVAL_SECONDS"); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Snapshot.IntervalSeconds = parsed
		}
	}
	if v, ok := os.LookupEnv("SAMPLE_EMBEDDINGS_PATH"); ok && v != "" {
		cfg.Bootstrap.SampleEmbeddingsPath = v
	}
	if v, ok := os.LookupEnv("DEFAULT_ALGORITHM"); ok && v != "" {
		cfg.DefaultAlgorithm = v
	}
	cfg.LSH.Tables = getEnvInt("LSH_TABLES", cfg.LSH.Tables)
	cfg.LSH.Planes = getEnvInt("LSH_PLANES", cfg.LSH.Planes)
	cfg.LSH.Seed = int64(getEnvInt("LSH_SEED", int(cfg.LSH.Seed)))

	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (cfg *Config) applyDefaults() {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8080"
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = "./vectordb.snapshot"
	}
	if cfg.Snapshot.IntervalSeconds <= 0 {
		cfg.Snapshot.IntervalSeconds = 30
	}
	if cfg.LSH.Tables <= 0 {
		cfg.LSH.Tables = 4
	}
	if cfg.LSH.Planes <= 0 {
		cfg.LSH.Planes = 8
	}
	if cfg.LSH.Seed == 0 {
		cfg.LSH.Seed = 42
	}
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = "exact"
	}
}

func (cfg *Config) validate() error {
	if cfg.Snapshot.IntervalSeconds < 1 {
		return fmt.Errorf("snapshot interval must be >= 1 second")
	}
	if cfg.DefaultAlgorithm != "exact" && cfg.DefaultAlgorithm != "lsh" {
		return fmt.Errorf("default_algorithm must be %q or %q, got %q", "exact", "lsh", cfg.DefaultAlgorithm)
	}

	abs, err := filepath.Abs(cfg.Snapshot.Path)
	if err != nil {
		return fmt.Errorf("resolve snapshot path: %w", err)
	}
	cfg.Snapshot.Path = abs
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
