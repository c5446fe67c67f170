package fetch

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// DefaultURLTemplate is the GSI seamless aerial photo layer.
const DefaultURLTemplate = "https://cyberjapandata.gsi.go.jp/xyz/seamlessphoto/{z}/{x}/{y}.jpg"

// TileURL expands the {z}, {x} and {y} placeholders of a template.
func TileURL(template string, t maptile.Tile) string {
	r := strings.NewReplacer(
		"{x}", strconv.Itoa(int(t.X)),
		"{y}", strconv.Itoa(int(t.Y)),
		"{z}", strconv.Itoa(int(t.Z)),
	)
	return r.Replace(template)
}
