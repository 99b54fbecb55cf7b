package proxy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mapgrid/tileproxy/internal/styles"
)

// transformCoords converts z/x/y tile coordinates from the standard web
// mercator convention into the upstream's scheme before template
// substitution.
func transformCoords(scheme styles.TileScheme, z, x, y int) (int, int, int) {
	switch scheme {
	case styles.SchemeZYX:
		// Row before column: the template's {x} slot carries y and vice
		// versa (e.g. basemap.at's {z}/{y}/{x} layout).
		return z, y, x
	case styles.SchemeTMS:
		return z, x, (1 << uint(z)) - 1 - y
	default:
		return z, x, y
	}
}

// tileURL substitutes tile coordinates into an upstream URL template.
func tileURL(src styles.Source, z, x, y int) string {
	tz, tx, ty := transformCoords(src.Scheme, z, x, y)
	replacer := strings.NewReplacer(
		"{z}", strconv.Itoa(tz),
		"{x}", strconv.Itoa(tx),
		"{y}", strconv.Itoa(ty),
	)
	return replacer.Replace(src.URLTemplate)
}

// glyphURL substitutes a fontstack and range into a glyph URL template.
// Fontstacks routinely contain spaces and commas, so the value is
// path-escaped.
func glyphURL(template, fontstack, rangeFile string) string {
	replacer := strings.NewReplacer(
		"{fontstack}", url.PathEscape(fontstack),
		"{range}", strings.TrimSuffix(rangeFile, ".pbf"),
	)
	return replacer.Replace(template)
}

// contentTypeForExt falls back to a sensible content type when the
// upstream response did not carry one.
func contentTypeForExt(ext string) string {
	switch ext {
	case "pbf", "mvt":
		return "application/x-protobuf"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// validTile bounds-checks tile coordinates against the zoom level.
func validTile(z, x, y int) error {
	if z < 0 || z > 24 {
		return fmt.Errorf("zoom %d out of range", z)
	}
	max := 1 << uint(z)
	if x < 0 || x >= max || y < 0 || y >= max {
		return fmt.Errorf("tile %d/%d/%d out of range", z, x, y)
	}
	return nil
}
