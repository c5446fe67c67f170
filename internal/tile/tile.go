package tile

import (
	"math"

	"github.com/paulmach/orb/maptile"
)

// Zoom levels accepted by the fetcher, packager and server.
const (
	ZoomMin = 0
	ZoomMax = 24
)

// MaxLat is the northern edge of the Web-Mercator square.
const MaxLat = 85.0511

// Record is a tile and its opaque content.
type Record struct {
	T maptile.Tile
	C []byte
}

// Constants representing tile formats
const (
	PNG  = "png"
	JPG  = "jpg"
	JPEG = "jpeg"
	PBF  = "pbf"
	WEBP = "webp"
)

// ContentType returns the HTTP content type for a tile format.
func ContentType(format string) string {
	switch format {
	case JPG, JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case WEBP:
		return "image/webp"
	case PBF:
		return "application/x-protobuf"
	}
	return "application/octet-stream"
}

// GeoToTile returns the WebXYZ tile containing lat/lon at zoom.
// Results are clamped into [0, 2^zoom) so the closed edges of the
// mercator square (lon=180, lat=-85.0511) stay on the grid.
func GeoToTile(lat, lon float64, zoom int) maptile.Tile {
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180.0
	x := math.Floor((lon + 180.0) / 360.0 * n)
	y := math.Floor((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n)
	return maptile.New(clamp(x, n), clamp(y, n), maptile.Zoom(zoom))
}

func clamp(v, n float64) uint32 {
	if v < 0 {
		return 0
	}
	if v > n-1 {
		return uint32(n - 1)
	}
	return uint32(v)
}

// FlipY converts a row between the WebXYZ and TMS conventions.
// The conversion is its own inverse.
func FlipY(y, zoom int) int {
	return (1 << uint(zoom)) - 1 - y
}

// Valid reports whether x and y are on the grid of zoom.
func Valid(zoom, x, y int) bool {
	if zoom < ZoomMin || zoom > ZoomMax || x < 0 || y < 0 {
		return false
	}
	n := 1 << uint(zoom)
	return x < n && y < n
}
