package tile

import (
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

// BBox is a geographic bounding box in decimal degrees.
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// NewBBox builds a normalized box from two opposite corners.
func NewBBox(lat1, lon1, lat2, lon2 float64) BBox {
	return BBox{
		MinLat: math.Min(lat1, lat2),
		MaxLat: math.Max(lat1, lat2),
		MinLon: math.Min(lon1, lon2),
		MaxLon: math.Max(lon1, lon2),
	}
}

// FromBound converts an orb bound (X=lon, Y=lat).
func FromBound(b orb.Bound) BBox {
	return NewBBox(b.Min.Lat(), b.Min.Lon(), b.Max.Lat(), b.Max.Lon())
}

// Bound returns the box as an orb bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

func (b BBox) String() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// LoadBBox reads a GeoJSON FeatureCollection and returns the union of the
// bounds of its geometries.
func LoadBBox(path string) (BBox, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BBox{}, fmt.Errorf("unable to read file: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return BBox{}, fmt.Errorf("unable to unmarshal feature collection: %w", err)
	}
	if len(fc.Features) == 0 {
		return BBox{}, fmt.Errorf("feature collection %s is empty", path)
	}

	var collection orb.Collection
	for _, f := range fc.Features {
		collection = append(collection, f.Geometry)
	}
	return FromBound(collection.Bound()), nil
}

// Range is the covering rectangle of a box at one zoom, WebXYZ scheme.
type Range struct {
	Zoom int
	MinX int
	MaxX int
	MinY int
	MaxY int
}

// Cover computes the covering rectangle of b at zoom. The north-west corner
// gives the minimum x/y and the south-east corner the maximum, since y grows
// southward.
func Cover(b BBox, zoom int) Range {
	nw := GeoToTile(b.MaxLat, b.MinLon, zoom)
	se := GeoToTile(b.MinLat, b.MaxLon, zoom)
	return Range{
		Zoom: zoom,
		MinX: int(nw.X),
		MaxX: int(se.X),
		MinY: int(nw.Y),
		MaxY: int(se.Y),
	}
}

// Width is the number of tile columns.
func (r Range) Width() int { return r.MaxX - r.MinX + 1 }

// Height is the number of tile rows.
func (r Range) Height() int { return r.MaxY - r.MinY + 1 }

// Count is the number of tiles in the rectangle.
func (r Range) Count() int { return r.Width() * r.Height() }

// Contains reports whether t lies in the rectangle.
func (r Range) Contains(t maptile.Tile) bool {
	return int(t.Z) == r.Zoom &&
		int(t.X) >= r.MinX && int(t.X) <= r.MaxX &&
		int(t.Y) >= r.MinY && int(t.Y) <= r.MaxY
}

// Tiles enumerates the rectangle column by column.
func (r Range) Tiles() []maptile.Tile {
	tiles := make([]maptile.Tile, 0, r.Count())
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			tiles = append(tiles, maptile.New(uint32(x), uint32(y), maptile.Zoom(r.Zoom)))
		}
	}
	return tiles
}

func (r Range) String() string {
	return fmt.Sprintf("zoom %d X(%d-%d) Y(%d-%d)", r.Zoom, r.MinX, r.MaxX, r.MinY, r.MaxY)
}
