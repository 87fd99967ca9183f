package palette

import (
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// swatch is a quantized colour bucket.
type swatch struct {
	color      colorful.Color
	population int
}

// target describes the HSL range a swatch must fall in.
type target struct {
	minSaturation float64
	minLightness  float64
	maxLightness  float64
	lightness     float64 // Preferred lightness
}

var (
	vibrantTarget     = target{minSaturation: 0.35, minLightness: 0.3, maxLightness: 0.7, lightness: 0.5}
	darkVibrantTarget = target{minSaturation: 0.35, minLightness: 0, maxLightness: 0.45, lightness: 0.26}
)

// quantize groups pixels into 4-bit-per-channel buckets.
// Transparent pixels are skipped.
func quantize(img image.Image) []swatch {
	type acc struct {
		r, g, b float64
		n       int
	}
	buckets := make(map[uint16]*acc)

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			c = c.Clamped()
			key := uint16(c.R*15)<<8 | uint16(c.G*15)<<4 | uint16(c.B*15)
			a := buckets[key]
			if a == nil {
				a = &acc{}
				buckets[key] = a
			}
			a.r += c.R
			a.g += c.G
			a.b += c.B
			a.n++
		}
	}

	out := make([]swatch, 0, len(buckets))
	for _, a := range buckets {
		n := float64(a.n)
		out = append(out, swatch{
			color:      colorful.Color{R: a.r / n, G: a.g / n, B: a.b / n},
			population: a.n,
		})
	}
	return out
}

func pickDominant(swatches []swatch, fallback colorful.Color) colorful.Color {
	best := -1
	for i, s := range swatches {
		if best < 0 || s.population > swatches[best].population ||
			(s.population == swatches[best].population && s.color.Hex() < swatches[best].color.Hex()) {
			best = i
		}
	}
	if best < 0 {
		return fallback
	}
	return swatches[best].color
}

// pickSwatch scores the swatches inside t by saturation, closeness to the
// preferred lightness and population.
func pickSwatch(swatches []swatch, t target, fallback colorful.Color) colorful.Color {
	maxPop := 0
	for _, s := range swatches {
		if s.population > maxPop {
			maxPop = s.population
		}
	}

	bestScore := -1.0
	var best colorful.Color
	for _, s := range swatches {
		_, sat, light := s.color.Hsl()
		if sat < t.minSaturation || light < t.minLightness || light > t.maxLightness {
			continue
		}
		lightDiff := light - t.lightness
		if lightDiff < 0 {
			lightDiff = -lightDiff
		}
		score := 3*sat + 6.5*(1-lightDiff) + 0.5*float64(s.population)/float64(maxPop)
		if score > bestScore {
			bestScore = score
			best = s.color
		}
	}
	if bestScore < 0 {
		return fallback
	}
	return best
}
