package palette

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestExtract_NilUsesFallback(t *testing.T) {
	got := Extract(nil)
	bg, on, accent := got.Hex()

	assert.Equal(t, "#1e1e1e", bg)
	assert.Equal(t, "#f5f5f5", on)
	assert.Equal(t, "#888888", accent)
}

func TestExtract_EmptyImageUsesFallback(t *testing.T) {
	assert.Equal(t, Fallback(), Extract(image.NewRGBA(image.Rect(0, 0, 0, 0))))
}

func TestExtract_TransparentImageUsesFallback(t *testing.T) {
	assert.Equal(t, Fallback(), Extract(solid(8, 8, color.RGBA{})))
}

func TestExtract_GreyArtFallsBackToDominant(t *testing.T) {
	// No saturated swatch: vibrant and dark vibrant fall back to the dominant colour.
	got := Extract(solid(16, 16, color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}))

	assert.Equal(t, "#202020", got.Background.Hex())
	assert.Equal(t, "#202020", got.Accent.Hex())
	assert.Equal(t, "#f5f5f5", got.OnBackground.Hex())
}

func TestExtract_PicksVibrantAndDarkVibrant(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			switch {
			case x < 32:
				img.Set(x, y, color.RGBA{R: 0xe0, G: 0x30, B: 0x30, A: 0xff}) // vibrant red
			default:
				img.Set(x, y, color.RGBA{R: 0x10, G: 0x20, B: 0x60, A: 0xff}) // dark blue
			}
		}
	}

	got := Extract(img)

	_, accentSat, accentLight := got.Accent.Hsl()
	assert.GreaterOrEqual(t, accentSat, 0.35)
	assert.InDelta(t, 0.5, accentLight, 0.2)

	_, _, bgLight := got.Background.Hsl()
	assert.LessOrEqual(t, bgLight, 0.45)
	assert.True(t, IsDark(got.Background))
	assert.Equal(t, "#f5f5f5", got.OnBackground.Hex())
}

func TestIsDark(t *testing.T) {
	tests := []struct {
		hex      string
		expected bool
	}{
		{hex: "#000000", expected: true},
		{hex: "#1e1e1e", expected: true},
		{hex: "#0000ff", expected: true},
		{hex: "#ffffff", expected: false},
		{hex: "#00ff00", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.hex, func(t *testing.T) {
			c, err := colorful.Hex(tt.hex)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, IsDark(c))
		})
	}
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "art.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solid(10, 10, color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff})))
	require.NoError(t, f.Close())

	got, err := ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#121212", got.OnBackground.Hex(), "light art gets dark text")

	_, err = ExtractFile(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o600))
	got, err = ExtractFile(bad)
	assert.Error(t, err)
	assert.Equal(t, Fallback(), got)
}
