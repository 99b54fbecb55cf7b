package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mapgrid/tileproxy/internal/styles"
)

func TestTransformCoords(t *testing.T) {
	tests := []struct {
		name    string
		scheme  styles.TileScheme
		z, x, y int
		wantZ   int
		wantX   int
		wantY   int
	}{
		{"xyz passthrough", styles.SchemeXYZ, 5, 16, 10, 5, 16, 10},
		{"zyx swaps row and column", styles.SchemeZYX, 5, 16, 10, 5, 10, 16},
		{"tms inverts y", styles.SchemeTMS, 5, 16, 10, 5, 16, 21},
		{"tms at zoom zero", styles.SchemeTMS, 0, 0, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, x, y := transformCoords(tt.scheme, tt.z, tt.x, tt.y)
			assert.Equal(t, tt.wantZ, z)
			assert.Equal(t, tt.wantX, x)
			assert.Equal(t, tt.wantY, y)
		})
	}
}

func TestTileURL(t *testing.T) {
	src := styles.Source{
		URLTemplate: "https://api.example.com/tiles/{z}/{x}/{y}.pbf?flavor=v3",
		Scheme:      styles.SchemeXYZ,
	}
	assert.Equal(t, "https://api.example.com/tiles/5/16/10.pbf?flavor=v3", tileURL(src, 5, 16, 10))

	src.Scheme = styles.SchemeZYX
	assert.Equal(t, "https://api.example.com/tiles/5/10/16.pbf?flavor=v3", tileURL(src, 5, 16, 10))
}

func TestGlyphURL(t *testing.T) {
	template := "https://api.example.com/fonts/{fontstack}/{range}.pbf"
	assert.Equal(t,
		"https://api.example.com/fonts/Noto%20Sans%20Regular/0-255.pbf",
		glyphURL(template, "Noto Sans Regular", "0-255.pbf"))
	// Range without the extension substitutes the same way.
	assert.Equal(t,
		"https://api.example.com/fonts/Roboto/256-511.pbf",
		glyphURL(template, "Roboto", "256-511"))
}

func TestValidTile(t *testing.T) {
	assert.NoError(t, validTile(0, 0, 0))
	assert.NoError(t, validTile(5, 31, 31))
	assert.Error(t, validTile(-1, 0, 0))
	assert.Error(t, validTile(25, 0, 0))
	assert.Error(t, validTile(5, 32, 0))
	assert.Error(t, validTile(5, 0, -1))
}
