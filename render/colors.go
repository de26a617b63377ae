package render

import (
	"image/color"
	"math"
)

var (
	Black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// paletteSize covers the food classes without repeating a color
const paletteSize = 96

// classColors are the box colors indexed by class ID.  Hues step by the
// golden angle so neighbouring class IDs get distinct colors
var classColors = func() []color.RGBA {

	colors := make([]color.RGBA, paletteSize)

	for i := range colors {
		hue := math.Mod(float64(i)*137.508, 360)
		// alternate the brightness to separate hues that land close together
		value := 1.0

		if i%2 == 1 {
			value = 0.8
		}

		colors[i] = hsv(hue, 0.85, value)
	}

	return colors
}()

// hsv converts hue in degrees, saturation and value in [0,1] to RGB
func hsv(h, s, v float64) color.RGBA {

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64

	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return color.RGBA{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
		A: 255,
	}
}

// ColorFor returns the box color of a class, the palette repeats for class
// IDs beyond its length
func ColorFor(classID int) color.RGBA {

	if classID < 0 {
		classID = -classID
	}

	return classColors[classID%len(classColors)]
}
