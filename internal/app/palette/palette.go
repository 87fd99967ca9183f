// Package palette extracts display colours from album art.
package palette

import (
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"os"

	"github.com/cockroachdb/errors"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
)

const sampleSize = 48 // Art is scaled to sampleSize x sampleSize before counting

// Colors are the three colours the overlay is painted with.
type Colors struct {
	Background   colorful.Color
	OnBackground colorful.Color
	Accent       colorful.Color
}

var (
	fallbackBackground = mustHex("#1E1E1E")
	fallbackOn         = mustHex("#F5F5F5")
	fallbackAccent     = mustHex("#888888")
	lightText          = mustHex("#F5F5F5")
	darkText           = mustHex("#121212")
	defaultDominant    = mustHex("#222222")
)

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Fallback returns the colours used when no art is available.
func Fallback() Colors {
	return Colors{Background: fallbackBackground, OnBackground: fallbackOn, Accent: fallbackAccent}
}

// Hex returns the colours as #rrggbb strings.
func (c Colors) Hex() (bg, on, accent string) {
	return c.Background.Hex(), c.OnBackground.Hex(), c.Accent.Hex()
}

// Extract computes the colours of img. A nil image yields Fallback.
// The background is the dark vibrant swatch, the accent the vibrant one
// and the foreground is picked from the background luminance.
func Extract(img image.Image) Colors {
	if img == nil {
		return Fallback()
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Fallback()
	}

	small := resize.Resize(sampleSize, sampleSize, img, resize.Bilinear)
	swatches := quantize(small)
	if len(swatches) == 0 {
		return Fallback()
	}

	dominant := pickDominant(swatches, defaultDominant)
	vibrant := pickSwatch(swatches, vibrantTarget, dominant)
	darkVibrant := pickSwatch(swatches, darkVibrantTarget, vibrant)

	on := darkText
	if IsDark(darkVibrant) {
		on = lightText
	}
	return Colors{Background: darkVibrant, OnBackground: on, Accent: vibrant}
}

// ExtractFile decodes the image at path and extracts its colours.
// Unreadable files yield Fallback together with the error.
func ExtractFile(path string) (Colors, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fallback(), errors.Wrapf(err, "failed to open art %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Fallback(), errors.Wrapf(err, "failed to decode art %s", path)
	}
	return Extract(img), nil
}

// IsDark reports whether c has a relative luminance below one half.
func IsDark(c colorful.Color) bool {
	c = c.Clamped()
	lum := 0.2126*c.R + 0.7152*c.G + 0.0722*c.B
	return lum < 0.5
}
