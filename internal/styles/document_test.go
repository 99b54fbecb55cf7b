package styles

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeta(t *testing.T) {
	t.Run("absent block", func(t *testing.T) {
		meta, err := parseMeta("plain", map[string]any{"version": float64(8)})
		require.NoError(t, err)
		assert.Nil(t, meta)
	})

	t.Run("full block", func(t *testing.T) {
		doc := map[string]any{
			"_meta": map[string]any{
				"tile_sources": map[string]any{
					"maptiler_planet": "https://api.maptiler.com/tiles/v3/{z}/{x}/{y}.pbf",
					"hillshade":       "https://api.maptiler.com/tiles/hillshade/{z}/{x}/{y}.webp",
				},
				"tile_schemes":       map[string]any{"hillshade": "tms"},
				"tile_auth_provider": "maptiler",
				"original_sprite":    "https://api.maptiler.com/maps/outdoor/sprite",
				"original_glyphs":    "https://api.maptiler.com/fonts/{fontstack}/{range}.pbf",
				"cache_ttl_seconds":  float64(3600),
			},
		}
		meta, err := parseMeta("outdoor", doc)
		require.NoError(t, err)
		require.NotNil(t, meta)

		assert.Equal(t, "maptiler", meta.AuthProvider)
		assert.Equal(t, time.Hour, meta.CacheTTL)

		planet := meta.TileSources["maptiler_planet"]
		assert.Equal(t, KindVectorTile, planet.Kind)
		assert.Equal(t, SchemeXYZ, planet.Scheme)
		assert.Equal(t, "pbf", planet.Ext)
		assert.Equal(t, "maptiler", planet.AuthProvider)

		hillshade := meta.TileSources["hillshade"]
		assert.Equal(t, KindRasterTile, hillshade.Kind)
		assert.Equal(t, SchemeTMS, hillshade.Scheme)
		assert.Equal(t, "webp", hillshade.Ext)

		require.NotNil(t, meta.Sprite)
		assert.Equal(t, KindSprite, meta.Sprite.Kind)
		require.NotNil(t, meta.Glyphs)
		assert.Equal(t, "https://api.maptiler.com/fonts/{fontstack}/{range}.pbf", meta.Glyphs.URLTemplate)
	})

	t.Run("empty template", func(t *testing.T) {
		doc := map[string]any{
			"_meta": map[string]any{
				"tile_sources": map[string]any{"broken": ""},
			},
		}
		_, err := parseMeta("bad", doc)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "bad", cfgErr.Style)
	})

	t.Run("template missing placeholders", func(t *testing.T) {
		doc := map[string]any{
			"_meta": map[string]any{
				"tile_sources": map[string]any{"broken": "https://example.com/tiles/{z}/{x}.pbf"},
			},
		}
		_, err := parseMeta("bad", doc)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("unknown scheme", func(t *testing.T) {
		doc := map[string]any{
			"_meta": map[string]any{
				"tile_sources": map[string]any{"s": "https://example.com/{z}/{x}/{y}.pbf"},
				"tile_schemes": map[string]any{"s": "yxz"},
			},
		}
		_, err := parseMeta("bad", doc)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("glyph template missing placeholders", func(t *testing.T) {
		doc := map[string]any{
			"_meta": map[string]any{
				"original_glyphs": "https://example.com/fonts/all.pbf",
			},
		}
		_, err := parseMeta("bad", doc)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestTemplateExt(t *testing.T) {
	assert.Equal(t, "pbf", templateExt("https://example.com/{z}/{x}/{y}.pbf"))
	assert.Equal(t, "png", templateExt("https://example.com/{z}/{x}/{y}.png?key=abc"))
	assert.Equal(t, "webp", templateExt("https://example.com/{z}/{x}/{y}.webp"))
	assert.Equal(t, "pbf", templateExt("https://example.com/{z}/{x}/{y}"))
}

func TestRewriteToProxy(t *testing.T) {
	doc := &Document{
		Name: "outdoor",
		Kind: StyleScraped,
		Raw: map[string]any{
			"sprite": "https://api.maptiler.com/maps/outdoor/sprite",
			"glyphs": "https://api.maptiler.com/fonts/{fontstack}/{range}.pbf",
			"sources": map[string]any{
				"planet": map[string]any{
					"type": "vector",
					"url":  "https://api.maptiler.com/tiles/v3/tiles.json",
				},
				"external": map[string]any{
					"type":  "vector",
					"tiles": []any{"https://other.example.com/{z}/{x}/{y}.pbf"},
				},
			},
		},
		Meta: &Meta{
			Sprite: &Source{Name: "sprite", Kind: KindSprite, URLTemplate: "https://api.maptiler.com/maps/outdoor/sprite"},
			Glyphs: &Source{Name: "glyphs", Kind: KindGlyph, URLTemplate: "https://api.maptiler.com/fonts/{fontstack}/{range}.pbf"},
			TileSources: map[string]Source{
				"planet": {Name: "planet", Kind: KindVectorTile, URLTemplate: "https://api.maptiler.com/tiles/v3/{z}/{x}/{y}.pbf", Ext: "pbf"},
			},
		},
	}

	doc.rewriteToProxy()

	assert.Equal(t, "/api/proxy/sprites/outdoor", doc.Raw["sprite"])
	assert.Equal(t, "/api/proxy/glyphs/outdoor/{fontstack}/{range}.pbf", doc.Raw["glyphs"])

	sources := doc.Raw["sources"].(map[string]any)
	planet := sources["planet"].(map[string]any)
	assert.Equal(t, []any{"/api/proxy/tiles/outdoor/planet/{z}/{x}/{y}.pbf"}, planet["tiles"])
	assert.NotContains(t, planet, "url")

	// Sources not declared in the metadata keep their upstream URLs.
	external := sources["external"].(map[string]any)
	assert.Equal(t, []any{"https://other.example.com/{z}/{x}/{y}.pbf"}, external["tiles"])
}

func TestRender(t *testing.T) {
	doc := &Document{
		Name: "outdoor",
		Raw: map[string]any{
			"sprite": "/api/proxy/sprites/outdoor",
			"glyphs": "http://old-host:9999/api/proxy/glyphs/outdoor/{fontstack}/{range}.pbf",
			"sources": map[string]any{
				"planet": map[string]any{
					"tiles": []any{"/api/proxy/tiles/outdoor/planet/{z}/{x}/{y}.pbf"},
				},
				"external": map[string]any{
					"tiles": []any{"https://other.example.com/{z}/{x}/{y}.pbf"},
				},
			},
		},
	}

	rendered, err := doc.Render("http://localhost:8000/")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rendered, &got))

	assert.Equal(t, "http://localhost:8000/api/proxy/sprites/outdoor", got["sprite"])
	// Proxy URLs recorded against another host are re-homed.
	assert.Equal(t, "http://localhost:8000/api/proxy/glyphs/outdoor/{fontstack}/{range}.pbf", got["glyphs"])

	sources := got["sources"].(map[string]any)
	planet := sources["planet"].(map[string]any)
	assert.Equal(t, []any{"http://localhost:8000/api/proxy/tiles/outdoor/planet/{z}/{x}/{y}.pbf"}, planet["tiles"])
	external := sources["external"].(map[string]any)
	assert.Equal(t, []any{"https://other.example.com/{z}/{x}/{y}.pbf"}, external["tiles"])

	// The shared document is untouched.
	assert.Equal(t, "/api/proxy/sprites/outdoor", doc.Raw["sprite"])
}

func TestEnsureBackgroundLayer(t *testing.T) {
	doc := map[string]any{
		"layers": []any{
			map[string]any{"id": "water", "type": "fill"},
		},
	}
	ensureBackgroundLayer(doc, "")
	layers := doc["layers"].([]any)
	require.Len(t, layers, 2)
	first := layers[0].(map[string]any)
	assert.Equal(t, "background", first["id"])

	// Already present, nothing added.
	ensureBackgroundLayer(doc, "")
	assert.Len(t, doc["layers"].([]any), 2)
}
