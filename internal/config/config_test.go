package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilepyramid/internal/fetch"
	"tilepyramid/internal/server"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, "gsi_aerial_photos", c.Fetch.TreeDir)
	assert.Equal(t, 14, c.Fetch.MinZoom)
	assert.Equal(t, 18, c.Fetch.MaxZoom)
	assert.Equal(t, fetch.DefaultDelay, c.Fetch.Delay)
	assert.Equal(t, fetch.DefaultTimeout, c.Fetch.Timeout)
	assert.Equal(t, "output.mbtiles", c.Pack.Container)
	assert.Equal(t, ":5000", c.Serve.Addr)
	assert.Equal(t, server.DefaultCacheSize, c.Serve.CacheSize)
	assert.True(t, c.Output.OutputTerminal)

	fc, err := c.Fetch.Fetcher()
	require.NoError(t, err)
	assert.Equal(t, 36.058625, fc.BBox.MinLat)
	assert.Equal(t, 136.600470, fc.BBox.MaxLon)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := writeFile(t, "conf.toml", `
[output]
logDir = "logs"
outputTerminal = false

[fetch]
minZoom = 15
maxZoom = 16
delay = "250ms"
workers = 2
lat1 = 10.5
lon1 = 20.5
lat2 = 10.0
lon2 = 20.0

[pack.metadata]
name = "Fukui aerial"

[serve]
addr = "127.0.0.1:8080"
`)
	t.Setenv("TILER_FETCH_WORKERS", "6")

	fs := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	fs.Int("max-zoom", 0, "")
	require.NoError(t, fs.Parse([]string{"--max-zoom=17"}))

	l := NewLoader()
	require.NoError(t, l.BindFlags(fs, map[string]string{"fetch.maxZoom": "max-zoom"}))
	c, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.Used())

	assert.Equal(t, "logs", c.Output.LogDir)
	assert.False(t, c.Output.OutputTerminal)
	assert.Equal(t, 15, c.Fetch.MinZoom)
	assert.Equal(t, 17, c.Fetch.MaxZoom)
	assert.Equal(t, 250*time.Millisecond, c.Fetch.Delay)
	assert.Equal(t, 6, c.Fetch.Workers)
	assert.Equal(t, "127.0.0.1:8080", c.Serve.Addr)

	box, err := c.Fetch.BBox()
	require.NoError(t, err)
	assert.Equal(t, 10.0, box.MinLat)
	assert.Equal(t, 10.5, box.MaxLat)

	meta, err := c.Pack.MetadataSet()
	require.NoError(t, err)
	assert.Equal(t, "Fukui aerial", meta["name"])
	assert.Equal(t, "jpg", meta["format"])
	assert.Equal(t, "14", meta["minzoom"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestBindFlagsUnknownFlag(t *testing.T) {
	fs := pflag.NewFlagSet("x", pflag.ContinueOnError)
	err := NewLoader().BindFlags(fs, map[string]string{"fetch.workers": "workers"})
	assert.Error(t, err)
}

func TestFetchBBoxFromGeoJSON(t *testing.T) {
	path := writeFile(t, "area.geojson", `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[136.55,36.06]}},
{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[136.57,36.08]}}]}`)

	box, err := FetchConfig{GeoJSON: path, Lat1: 1, Lon1: 1}.BBox()
	require.NoError(t, err)
	assert.Equal(t, 36.06, box.MinLat)
	assert.Equal(t, 36.08, box.MaxLat)
	assert.Equal(t, 136.55, box.MinLon)
	assert.Equal(t, 136.57, box.MaxLon)
}

func TestFetchValidation(t *testing.T) {
	_, err := FetchConfig{Lat1: 89, Lon1: 0, Lat2: 0, Lon2: 1, MinZoom: 1, MaxZoom: 2}.Fetcher()
	assert.Error(t, err)

	_, err = FetchConfig{Lat1: 1, Lon1: 0, Lat2: 0, Lon2: 1, MinZoom: 5, MaxZoom: 2}.Fetcher()
	assert.Error(t, err)
}

func TestServeValidate(t *testing.T) {
	assert.NoError(t, ServeConfig{Addr: ":5000", Container: "a.mbtiles"}.Validate())
	assert.Error(t, ServeConfig{Container: "a.mbtiles"}.Validate())
	assert.Error(t, ServeConfig{Addr: ":5000"}.Validate())
	assert.Error(t, ServeConfig{Addr: ":5000", Container: "a", CacheSize: -1}.Validate())
}
