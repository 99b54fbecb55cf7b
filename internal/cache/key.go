package cache

import (
	"fmt"
	"strings"
)

// Key identifies one cached resource. It is a pure function of the style,
// the source within that style, and the resource's relative path (tile
// coordinates, glyph range, or sprite file), so identical requests always
// map to the same entry.
type Key struct {
	Style  string
	Source string
	// Rel is the slash-separated resource path under the style/source
	// directory, e.g. "5/16/10.pbf", "Noto Sans Regular/0-255.pbf",
	// or "sprite@2x.png".
	Rel string
}

// Reserved source names for non-tile assets.
const (
	SourceSprites = "sprites"
	SourceGlyphs  = "glyphs"
)

// TileKey builds the key for a z/x/y tile.
func TileKey(style, source string, z, x, y int, ext string) Key {
	return Key{
		Style:  style,
		Source: source,
		Rel:    fmt.Sprintf("%d/%d/%d.%s", z, x, y, ext),
	}
}

// SpriteKey builds the key for a sprite sheet or its JSON index.
func SpriteKey(style, file string) Key {
	return Key{Style: style, Source: SourceSprites, Rel: file}
}

// GlyphKey builds the key for a font glyph range.
func GlyphKey(style, fontstack, rangeFile string) Key {
	if !strings.HasSuffix(rangeFile, ".pbf") {
		rangeFile += ".pbf"
	}
	return Key{Style: style, Source: SourceGlyphs, Rel: fontstack + "/" + rangeFile}
}

// Dir returns the top-level cache directory name for this key's style and
// source. Grouping by {style}_{source} keeps invalidation of one style from
// touching unrelated entries.
func (k Key) Dir() string {
	return k.Style + "_" + k.Source
}

// String flattens the key into the form used by the cache management API:
// {style}_{source}_{rel with / replaced by _}.
func (k Key) String() string {
	return k.Dir() + "_" + strings.ReplaceAll(k.Rel, "/", "_")
}

// Valid reports whether the key has all components and no path traversal.
func (k Key) Valid() bool {
	if k.Style == "" || k.Source == "" || k.Rel == "" {
		return false
	}
	for _, part := range []string{k.Style, k.Source} {
		if strings.ContainsAny(part, "/\\") {
			return false
		}
	}
	if strings.Contains(k.Rel, "..") || strings.HasPrefix(k.Rel, "/") {
		return false
	}
	return true
}
