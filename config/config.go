// Package config loads the yaml configuration shared by the navtile tools.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gorustyt/navtile/logger"
)

// MeshConfig sets the tile layout and capacity of the navigation mesh.
type MeshConfig struct {
	Origin     [3]float32 `yaml:"origin"`
	TileWidth  float32    `yaml:"tile_width"`
	TileHeight float32    `yaml:"tile_height"`
	MaxTiles   int32      `yaml:"max_tiles"`
	MaxPolys   int32      `yaml:"max_polys"`
}

// CacheConfig sets the layer grid, agent attributes and capacity of the tile
// cache.
type CacheConfig struct {
	CellSize   float32 `yaml:"cell_size"`
	CellHeight float32 `yaml:"cell_height"`
	Width      int32   `yaml:"width"`
	Height     int32   `yaml:"height"`

	WalkableHeight         float32 `yaml:"walkable_height"`
	WalkableRadius         float32 `yaml:"walkable_radius"`
	WalkableClimb          float32 `yaml:"walkable_climb"`
	MaxSimplificationError float32 `yaml:"max_simplification_error"`

	MaxTiles     int32 `yaml:"max_tiles"`
	MaxObstacles int32 `yaml:"max_obstacles"`
}

// StoreConfig holds PostgreSQL connection parameters for the tile archive.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (s StoreConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.DBName, s.SSLMode,
	)
}

// Config is the full navtile configuration.
type Config struct {
	Mesh  MeshConfig    `yaml:"mesh"`
	Cache CacheConfig   `yaml:"cache"`
	Log   logger.Config `yaml:"log"`
	Store StoreConfig   `yaml:"store"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Mesh: MeshConfig{
			TileWidth:  48,
			TileHeight: 48,
			MaxTiles:   1 << 12,
			MaxPolys:   1 << 10,
		},
		Cache: CacheConfig{
			CellSize:   0.3,
			CellHeight: 0.2,
			Width:      48,
			Height:     48,

			WalkableHeight:         2,
			WalkableRadius:         0.6,
			WalkableClimb:          0.9,
			MaxSimplificationError: 1.3,

			MaxTiles:     1 << 12,
			MaxObstacles: 128,
		},
		Log: logger.Default(),
		Store: StoreConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "navtile",
			Password: "navtile",
			DBName:   "navtile",
			SSLMode:  "disable",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist,
// returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
