package styles

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BuiltinStyle describes one curated upstream style the server exposes by
// name without any local file.
type BuiltinStyle struct {
	// Name is the style identifier clients request.
	Name string `yaml:"name"`
	// Provider is a human-readable origin label shown in listings.
	Provider string `yaml:"provider"`
	// URL is the upstream style JSON endpoint.
	URL string `yaml:"url"`
	// AddBackground inserts a background layer for providers whose
	// coverage is regional rather than global.
	AddBackground bool `yaml:"add_background"`
	// BackgroundColor overrides the default background fill.
	BackgroundColor string `yaml:"background_color"`
	// Proxy, when set, routes the style's tiles, sprite, and glyphs through
	// this server instead of serving the upstream URLs directly.
	Proxy *BuiltinProxy `yaml:"proxy"`
}

// BuiltinProxy declares the upstream endpoints to proxy for a builtin style.
type BuiltinProxy struct {
	Sources map[string]BuiltinSource `yaml:"sources"`
	Sprite  string                   `yaml:"sprite"`
	Glyphs  string                   `yaml:"glyphs"`
}

// BuiltinSource is one proxied tile source of a builtin style.
type BuiltinSource struct {
	// Tiles is the upstream tile URL template with {z}/{x}/{y} placeholders.
	Tiles string `yaml:"tiles"`
	// Scheme names the upstream coordinate convention (xyz, zyx, tms).
	Scheme string `yaml:"scheme"`
}

// BuiltinRegistry holds the ordered set of builtin styles.
type BuiltinRegistry struct {
	Styles []BuiltinStyle `yaml:"styles"`
}

// Lookup returns the builtin entry for name.
func (r *BuiltinRegistry) Lookup(name string) (*BuiltinStyle, bool) {
	for i := range r.Styles {
		if r.Styles[i].Name == name {
			return &r.Styles[i], true
		}
	}
	return nil, false
}

// DefaultRegistry returns the built-in style set used when no registry file
// is configured.
func DefaultRegistry() *BuiltinRegistry {
	return &BuiltinRegistry{
		Styles: []BuiltinStyle{
			{
				Name:     "liberty",
				Provider: "openfreemap",
				URL:      "https://tiles.openfreemap.org/styles/liberty",
			},
			{
				Name:     "bright",
				Provider: "openfreemap",
				URL:      "https://tiles.openfreemap.org/styles/bright",
			},
			{
				Name:     "positron",
				Provider: "openfreemap",
				URL:      "https://tiles.openfreemap.org/styles/positron",
			},
			{
				Name:          "swisstopo-base",
				Provider:      "swisstopo",
				URL:           "https://vectortiles.geo.admin.ch/styles/ch.swisstopo.basemap.vt/style.json",
				AddBackground: true,
			},
			{
				Name:          "swisstopo-light",
				Provider:      "swisstopo",
				URL:           "https://vectortiles.geo.admin.ch/styles/ch.swisstopo.lightbasemap.vt/style.json",
				AddBackground: true,
			},
			{
				Name:          "swisstopo-winter",
				Provider:      "swisstopo",
				URL:           "https://vectortiles.geo.admin.ch/styles/ch.swisstopo.basemap-winter.vt/style.json",
				AddBackground: true,
			},
			{
				Name:          "swisstopo-imagery",
				Provider:      "swisstopo",
				URL:           "https://vectortiles.geo.admin.ch/styles/ch.swisstopo.imagerybasemap.vt/style.json",
				AddBackground: true,
			},
			{
				Name:          "basemap-at-vector",
				Provider:      "basemap.at",
				URL:           "https://mapsneu.wien.gv.at/basemapvectorneu/root.json",
				AddBackground: true,
				Proxy: &BuiltinProxy{
					Sources: map[string]BuiltinSource{
						"esri": {
							Tiles:  "https://mapsneu.wien.gv.at/basemapv/bmapv/3857/tile/{z}/{x}/{y}.pbf",
							Scheme: string(SchemeZYX),
						},
					},
					Sprite: "https://mapsneu.wien.gv.at/basemapv/bmapv/3857/resources/sprites/sprite",
					Glyphs: "https://mapsneu.wien.gv.at/basemapv/bmapv/3857/resources/fonts/{fontstack}/{range}.pbf",
				},
			},
		},
	}
}

// LoadRegistryFromFile loads a builtin style registry from a YAML file,
// replacing the default set entirely.
func LoadRegistryFromFile(filePath string) (*BuiltinRegistry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read styles config: %w", err)
	}

	var registry BuiltinRegistry
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("failed to parse styles config: %w", err)
	}

	if err := validateRegistry(&registry); err != nil {
		return nil, err
	}
	return &registry, nil
}

func validateRegistry(registry *BuiltinRegistry) error {
	if len(registry.Styles) == 0 {
		return fmt.Errorf("no builtin styles configured")
	}
	seen := make(map[string]bool, len(registry.Styles))
	for _, s := range registry.Styles {
		if s.Name == "" {
			return fmt.Errorf("builtin style with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate builtin style %q", s.Name)
		}
		seen[s.Name] = true
		if s.URL == "" {
			return fmt.Errorf("builtin style %q has no URL", s.Name)
		}
		if s.Proxy != nil {
			for name, src := range s.Proxy.Sources {
				if !strings.Contains(src.Tiles, "{z}") || !strings.Contains(src.Tiles, "{x}") || !strings.Contains(src.Tiles, "{y}") {
					return fmt.Errorf("builtin style %q source %q: tile template missing z/x/y placeholders", s.Name, name)
				}
				if _, err := parseScheme(src.Scheme); err != nil {
					return fmt.Errorf("builtin style %q source %q: %v", s.Name, name, err)
				}
			}
		}
	}
	return nil
}

// meta converts a builtin proxy declaration into source metadata.
func (b *BuiltinStyle) meta() *Meta {
	if b.Proxy == nil {
		return nil
	}
	meta := &Meta{TileSources: make(map[string]Source, len(b.Proxy.Sources))}
	for name, src := range b.Proxy.Sources {
		scheme, _ := parseScheme(src.Scheme)
		ext := templateExt(src.Tiles)
		meta.TileSources[name] = Source{
			Name:        name,
			Kind:        kindForExt(ext),
			URLTemplate: src.Tiles,
			Scheme:      scheme,
			Ext:         ext,
		}
	}
	if b.Proxy.Sprite != "" {
		meta.Sprite = &Source{Name: "sprite", Kind: KindSprite, URLTemplate: b.Proxy.Sprite}
	}
	if b.Proxy.Glyphs != "" {
		meta.Glyphs = &Source{Name: "glyphs", Kind: KindGlyph, URLTemplate: b.Proxy.Glyphs}
	}
	return meta
}
