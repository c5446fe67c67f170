// Package config loads the tiler configuration from a TOML file, TILER_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"tilepyramid/internal/fetch"
	"tilepyramid/internal/mbtiles"
	"tilepyramid/internal/server"
	"tilepyramid/internal/tile"
)

// EnvPrefix prefixes every environment override, e.g. TILER_FETCH_WORKERS.
const EnvPrefix = "TILER"

type Config struct {
	Output OutputConfig `mapstructure:"output"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
	Pack   PackConfig   `mapstructure:"pack"`
	Serve  ServeConfig  `mapstructure:"serve"`
}

type OutputConfig struct {
	LogDir         string `mapstructure:"logDir"`
	OutputTerminal bool   `mapstructure:"outputTerminal"`
	LogLevel       string `mapstructure:"logLevel"`
}

// FetchConfig selects the area either by two opposite corners or by a
// GeoJSON file, which wins when set.
type FetchConfig struct {
	TreeDir   string        `mapstructure:"treeDir"`
	Format    string        `mapstructure:"format"`
	URL       string        `mapstructure:"url"`
	UserAgent string        `mapstructure:"userAgent"`
	Lat1      float64       `mapstructure:"lat1"`
	Lon1      float64       `mapstructure:"lon1"`
	Lat2      float64       `mapstructure:"lat2"`
	Lon2      float64       `mapstructure:"lon2"`
	GeoJSON   string        `mapstructure:"geojson"`
	MinZoom   int           `mapstructure:"minZoom"`
	MaxZoom   int           `mapstructure:"maxZoom"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Delay     time.Duration `mapstructure:"delay"`
	Workers   int           `mapstructure:"workers"`
}

type PackConfig struct {
	TreeDir   string `mapstructure:"treeDir"`
	Container string `mapstructure:"container"`
	Format    string `mapstructure:"format"`
	// Metadata overrides individual keys of the default metadata set.
	Metadata map[string]string `mapstructure:"metadata"`
}

type ServeConfig struct {
	Addr      string  `mapstructure:"addr"`
	Container string  `mapstructure:"container"`
	CacheSize int     `mapstructure:"cacheSize"`
	Lat       float64 `mapstructure:"lat"`
	Lon       float64 `mapstructure:"lon"`
	Zoom      int     `mapstructure:"zoom"`
	MaxZoom   int     `mapstructure:"maxZoom"`
}

// Loader wraps a viper instance carrying the defaults and env bindings.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with every default set.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("output.logDir", "")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("output.logLevel", "info")

	v.SetDefault("fetch.treeDir", "gsi_aerial_photos")
	v.SetDefault("fetch.format", tile.JPG)
	v.SetDefault("fetch.url", fetch.DefaultURLTemplate)
	v.SetDefault("fetch.userAgent", fetch.DefaultUserAgent)
	v.SetDefault("fetch.lat1", 36.058625)
	v.SetDefault("fetch.lon1", 136.547351)
	v.SetDefault("fetch.lat2", 36.078885)
	v.SetDefault("fetch.lon2", 136.600470)
	v.SetDefault("fetch.geojson", "")
	v.SetDefault("fetch.minZoom", 14)
	v.SetDefault("fetch.maxZoom", 18)
	v.SetDefault("fetch.timeout", fetch.DefaultTimeout)
	v.SetDefault("fetch.delay", fetch.DefaultDelay)
	v.SetDefault("fetch.workers", fetch.DefaultWorkers)

	v.SetDefault("pack.treeDir", "gsi_aerial_photos")
	v.SetDefault("pack.container", "output.mbtiles")
	v.SetDefault("pack.format", tile.JPG)

	v.SetDefault("serve.addr", ":5000")
	v.SetDefault("serve.container", "output.mbtiles")
	v.SetDefault("serve.cacheSize", server.DefaultCacheSize)
	v.SetDefault("serve.lat", 36.07)
	v.SetDefault("serve.lon", 136.55)
	v.SetDefault("serve.zoom", 14)
	v.SetDefault("serve.maxZoom", 18)
	return &Loader{v: v}
}

// BindFlags binds config keys to flags of fs. Keys naming missing flags
// are an error.
func (l *Loader) BindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("bind %s: no flag --%s", key, name)
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads path, when not empty, and decodes the merged configuration.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Used returns the config file in use, empty when none.
func (l *Loader) Used() string { return l.v.ConfigFileUsed() }

// BBox resolves the fetch area.
func (f FetchConfig) BBox() (tile.BBox, error) {
	if f.GeoJSON != "" {
		return tile.LoadBBox(f.GeoJSON)
	}
	b := tile.NewBBox(f.Lat1, f.Lon1, f.Lat2, f.Lon2)
	if b.MinLat < -tile.MaxLat || b.MaxLat > tile.MaxLat || b.MinLon < -180 || b.MaxLon > 180 {
		return tile.BBox{}, fmt.Errorf("bounding box %s outside the Web-Mercator range", b)
	}
	return b, nil
}

// Fetcher builds the fetcher configuration.
func (f FetchConfig) Fetcher() (fetch.Config, error) {
	box, err := f.BBox()
	if err != nil {
		return fetch.Config{}, err
	}
	cfg := fetch.Config{
		BBox:        box,
		MinZoom:     f.MinZoom,
		MaxZoom:     f.MaxZoom,
		URLTemplate: f.URL,
		UserAgent:   f.UserAgent,
		Timeout:     f.Timeout,
		Delay:       f.Delay,
		Workers:     f.Workers,
	}
	return cfg, cfg.Validate()
}

// MetadataSet returns the default metadata with the configured overrides.
func (p PackConfig) MetadataSet() (mbtiles.Metadata, error) {
	meta := mbtiles.DefaultMetadata()
	for k, v := range p.Metadata {
		meta[strings.ToLower(k)] = v
	}
	if p.Format != "" {
		if _, ok := p.Metadata["format"]; !ok {
			meta["format"] = p.Format
		}
	}
	return meta, meta.Validate()
}

// Validate checks the serve section.
func (s ServeConfig) Validate() error {
	if s.Addr == "" {
		return errors.New("serve address is empty")
	}
	if s.Container == "" {
		return errors.New("serve container is empty")
	}
	if s.CacheSize < 0 {
		return fmt.Errorf("cache size %d is negative", s.CacheSize)
	}
	return nil
}
