// Package styles resolves style identifiers to MapLibre-style JSON documents
// and extracts the upstream source metadata the proxy needs to fetch tiles,
// sprites, and glyphs on the browser's behalf.
package styles

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// SourceKind classifies a style source for proxying purposes.
type SourceKind string

const (
	KindVectorTile SourceKind = "vector-tile"
	KindRasterTile SourceKind = "raster-tile"
	KindSprite     SourceKind = "sprite"
	KindGlyph      SourceKind = "glyph"
)

// TileScheme names the coordinate convention of an upstream tile endpoint.
// Providers disagree on coordinate order, so the scheme is explicit per
// source configuration, never inferred.
type TileScheme string

const (
	// SchemeXYZ is the standard web mercator z/x/y order.
	SchemeXYZ TileScheme = "xyz"
	// SchemeZYX swaps row before column (e.g. basemap.at).
	SchemeZYX TileScheme = "zyx"
	// SchemeTMS inverts the y axis (y' = 2^z - 1 - y).
	SchemeTMS TileScheme = "tms"
)

// Source is one named tile/sprite/glyph source inside a style, with the
// upstream URL template the proxy substitutes coordinates into. Immutable
// once loaded.
type Source struct {
	Name         string
	Kind         SourceKind
	URLTemplate  string
	AuthProvider string // empty means unauthenticated upstream
	Scheme       TileScheme
	Ext          string // tile file extension (pbf, png, webp, jpeg)
}

// Meta is the proxy metadata block attached to a style document. Absent
// metadata means the document is directly servable with no proxying.
type Meta struct {
	TileSources  map[string]Source
	Sprite       *Source
	Glyphs       *Source
	AuthProvider string
	CacheTTL     time.Duration // 0 means the cache default
}

// StyleKind distinguishes where a style document comes from.
type StyleKind string

const (
	StyleBuiltin StyleKind = "builtin"
	StyleCustom  StyleKind = "custom"
	StyleScraped StyleKind = "scraped"
	StyleRaster  StyleKind = "raster"
)

// Document is a resolved style: the (rewritten) JSON document plus the
// source metadata extracted from it.
type Document struct {
	Name string
	Kind StyleKind
	Raw  map[string]any
	Meta *Meta // nil for directly servable documents
}

// ConfigError indicates a malformed style document or metadata block.
// Surfaced at load time so absent-field problems never reach request
// handling.
type ConfigError struct {
	Style  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("style %q: %s", e.Style, e.Reason)
}

// rawMeta mirrors the _meta JSON block embedded in scraped/raster styles.
type rawMeta struct {
	TileSources      map[string]string `json:"tile_sources"`
	TileSchemes      map[string]string `json:"tile_schemes"`
	TileAuthProvider string            `json:"tile_auth_provider"`
	OriginalSprite   string            `json:"original_sprite"`
	OriginalGlyphs   string            `json:"original_glyphs"`
	CacheTTLSeconds  int64             `json:"cache_ttl_seconds"`
}

// parseMeta validates and converts a document's _meta block. Returns
// (nil, nil) when the block is absent.
func parseMeta(styleName string, doc map[string]any) (*Meta, error) {
	rawBlock, ok := doc["_meta"]
	if !ok {
		return nil, nil
	}
	encoded, err := json.Marshal(rawBlock)
	if err != nil {
		return nil, &ConfigError{Style: styleName, Reason: "unreadable _meta block"}
	}
	var rm rawMeta
	if err := json.Unmarshal(encoded, &rm); err != nil {
		return nil, &ConfigError{Style: styleName, Reason: fmt.Sprintf("malformed _meta block: %v", err)}
	}

	meta := &Meta{
		AuthProvider: rm.TileAuthProvider,
		TileSources:  make(map[string]Source, len(rm.TileSources)),
	}
	if rm.CacheTTLSeconds > 0 {
		meta.CacheTTL = time.Duration(rm.CacheTTLSeconds) * time.Second
	}

	for name, template := range rm.TileSources {
		if template == "" {
			return nil, &ConfigError{Style: styleName, Reason: fmt.Sprintf("source %q has empty URL template", name)}
		}
		if !strings.Contains(template, "{z}") || !strings.Contains(template, "{x}") || !strings.Contains(template, "{y}") {
			return nil, &ConfigError{Style: styleName, Reason: fmt.Sprintf("source %q template missing z/x/y placeholders: %s", name, template)}
		}
		scheme, err := parseScheme(rm.TileSchemes[name])
		if err != nil {
			return nil, &ConfigError{Style: styleName, Reason: fmt.Sprintf("source %q: %v", name, err)}
		}
		ext := templateExt(template)
		meta.TileSources[name] = Source{
			Name:         name,
			Kind:         kindForExt(ext),
			URLTemplate:  template,
			AuthProvider: rm.TileAuthProvider,
			Scheme:       scheme,
			Ext:          ext,
		}
	}

	if rm.OriginalSprite != "" {
		meta.Sprite = &Source{
			Name:         "sprite",
			Kind:         KindSprite,
			URLTemplate:  rm.OriginalSprite,
			AuthProvider: rm.TileAuthProvider,
		}
	}
	if rm.OriginalGlyphs != "" {
		if !strings.Contains(rm.OriginalGlyphs, "{fontstack}") || !strings.Contains(rm.OriginalGlyphs, "{range}") {
			return nil, &ConfigError{Style: styleName, Reason: "glyph template missing fontstack/range placeholders"}
		}
		meta.Glyphs = &Source{
			Name:         "glyphs",
			Kind:         KindGlyph,
			URLTemplate:  rm.OriginalGlyphs,
			AuthProvider: rm.TileAuthProvider,
		}
	}
	return meta, nil
}

func parseScheme(s string) (TileScheme, error) {
	switch TileScheme(strings.ToLower(s)) {
	case "", SchemeXYZ:
		return SchemeXYZ, nil
	case SchemeZYX:
		return SchemeZYX, nil
	case SchemeTMS:
		return SchemeTMS, nil
	default:
		return "", fmt.Errorf("unknown tile scheme %q", s)
	}
}

// templateExt extracts the tile file extension from a URL template,
// ignoring any query string. Defaults to pbf (vector tiles).
func templateExt(template string) string {
	p := template
	if u, err := url.Parse(template); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	switch ext {
	case "png", "webp", "jpeg", "jpg", "pbf", "mvt":
		return ext
	default:
		return "pbf"
	}
}

func kindForExt(ext string) SourceKind {
	switch ext {
	case "png", "webp", "jpeg", "jpg":
		return KindRasterTile
	default:
		return KindVectorTile
	}
}

// rewriteToProxy points the document's sprite, glyph, and known tile source
// URLs at this server's proxy endpoints. Paths are left relative; Render
// resolves them against the per-request base URL.
func (d *Document) rewriteToProxy() {
	if d.Meta == nil {
		return
	}
	if d.Meta.Sprite != nil {
		d.Raw["sprite"] = "/api/proxy/sprites/" + d.Name
	}
	if d.Meta.Glyphs != nil {
		d.Raw["glyphs"] = "/api/proxy/glyphs/" + d.Name + "/{fontstack}/{range}.pbf"
	}
	sources, _ := d.Raw["sources"].(map[string]any)
	for name, src := range d.Meta.TileSources {
		cfg, _ := sources[name].(map[string]any)
		if cfg == nil {
			continue
		}
		cfg["tiles"] = []any{
			fmt.Sprintf("/api/proxy/tiles/%s/%s/{z}/{x}/{y}.%s", d.Name, name, src.Ext),
		}
		delete(cfg, "url")
	}
}

// Render serializes the document with proxy paths resolved against the
// request base URL. The shared document is never mutated.
func (d *Document) Render(baseURL string) ([]byte, error) {
	copied, err := deepCopy(d.Raw)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(baseURL, "/")

	if s, ok := copied["sprite"].(string); ok {
		copied["sprite"] = absProxyURL(s, base)
	}
	if g, ok := copied["glyphs"].(string); ok {
		copied["glyphs"] = absProxyURL(g, base)
	}
	if sources, ok := copied["sources"].(map[string]any); ok {
		for _, v := range sources {
			cfg, ok := v.(map[string]any)
			if !ok {
				continue
			}
			tiles, ok := cfg["tiles"].([]any)
			if !ok {
				continue
			}
			for i, tv := range tiles {
				if ts, ok := tv.(string); ok {
					tiles[i] = absProxyURL(ts, base)
				}
			}
		}
	}
	return json.Marshal(copied)
}

// absProxyURL makes proxy paths absolute against the request base URL and
// re-homes proxy URLs recorded against a previous base. Non-proxy URLs pass
// through untouched.
func absProxyURL(s, base string) string {
	idx := strings.Index(s, "/api/proxy/")
	if idx < 0 {
		return s
	}
	return base + s[idx:]
}

func deepCopy(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ensureBackgroundLayer inserts a flat background layer in front when the
// document's first layer is not already a background. Used for builtin
// styles whose provider only covers part of the world.
func ensureBackgroundLayer(doc map[string]any, color string) {
	if color == "" {
		color = "#f8f4f0"
	}
	layers, ok := doc["layers"].([]any)
	if !ok || len(layers) == 0 {
		return
	}
	if first, ok := layers[0].(map[string]any); ok {
		if first["id"] == "background" {
			return
		}
	}
	background := map[string]any{
		"id":    "background",
		"type":  "background",
		"paint": map[string]any{"background-color": color},
	}
	doc["layers"] = append([]any{background}, layers...)
}
