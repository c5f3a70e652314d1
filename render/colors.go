package render

import (
	"image/color"
)

// classColors is the palette cycled through when drawing boxes and masks,
// indexed by detection class modulo the palette size.
var classColors = []color.RGBA{
	{R: 217, G: 83, B: 25, A: 255},
	{R: 0, G: 114, B: 189, A: 255},
	{R: 237, G: 177, B: 32, A: 255},
	{R: 126, G: 47, B: 142, A: 255},
	{R: 119, G: 172, B: 48, A: 255},
	{R: 77, G: 190, B: 238, A: 255},
	{R: 162, G: 20, B: 47, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 128, B: 0, A: 255},
	{R: 128, G: 0, B: 255, A: 255},
	{R: 0, G: 128, B: 255, A: 255},
	{R: 255, G: 0, B: 128, A: 255},
	{R: 0, G: 255, B: 128, A: 255},
	{R: 128, G: 255, B: 0, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 128, G: 128, B: 0, A: 255},
}

var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Pink   = color.RGBA{R: 255, G: 0, B: 255, A: 255}
)

// ClassColor returns the palette colour for the given class index.
func ClassColor(class int) color.RGBA {

	if class < 0 {
		class = -class
	}

	return classColors[class%len(classColors)]
}
