package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

type Alignment int

const (
	Left   Alignment = 1
	Center Alignment = 2
	Right  Alignment = 3
)

// Font defines the parameters for rendering text on an image using GoCV
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	// Padding to place around text
	LeftPad   int
	RightPad  int
	TopPad    int
	BottomPad int
	// Alignment of the text label to the bounding box
	Alignment Alignment
}

// DefaultFont returns default font settings
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.5,
		Color:     White,
		Thickness: 1,
		LineType:  gocv.LineAA,
		LeftPad:   4,
		RightPad:  4,
		TopPad:    4,
		BottomPad: 6,
		Alignment: Left,
	}
}

// LoadTTFFace loads a TTF font file and creates a type face for drawing
// text labels that need glyphs outside the builtin Hershey fonts
func LoadTTFFace(fontPath string, size float64) (font.Face, error) {

	// load font data
	fontBytes, err := os.ReadFile(fontPath)

	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	// parse the font
	f, err := opentype.Parse(fontBytes)

	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	// create a type face
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create type face: %w", err)
	}

	return face, nil
}

// TTFLabel draws text on the image with the baseline at the given
// position using a loaded type face.  Use in place of the builtin
// Hershey fonts when labels need glyphs outside the Latin character
// set.
func TTFLabel(img *gocv.Mat, text string, pos image.Point, face font.Face,
	clr color.RGBA) error {

	// create image with text writing
	rgba := image.NewRGBA(image.Rect(0, 0, img.Cols(), img.Rows()))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 0}),
		image.Point{}, draw.Src)

	dr := &font.Drawer{
		Dst:  rgba,
		Src:  image.NewUniform(clr),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.Int26_6(pos.X * 64),
			Y: fixed.Int26_6(pos.Y * 64),
		},
	}
	dr.DrawString(text)

	return blendRGBA(img, rgba)
}

// DetectionBoxesTTF renders the bounding boxes around the objects
// detected with labels drawn through a loaded type face instead of the
// builtin Hershey fonts
func DetectionBoxesTTF(img *gocv.Mat, detections []autolabel.Detection,
	face font.Face, clr color.RGBA, lineThickness int) error {

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	textH := metrics.Height.Ceil()

	const pad = 4

	// text overlay drawn once so labels stay the top most layer
	rgba := image.NewRGBA(image.Rect(0, 0, img.Cols(), img.Rows()))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 0}),
		image.Point{}, draw.Src)

	for _, det := range detections {

		useClr := ClassColor(det.Class)

		boxLeft := int(det.Box.X1)
		boxTop := int(det.Box.Y1)

		// draw rectangle around detected object
		gocv.Rectangle(img, det.Box.Rect(), useClr, lineThickness)

		// create text for label
		text := fmt.Sprintf("%s %.2f", det.Label, det.Score)
		textW := font.MeasureString(face, text).Ceil()

		// draw box text gets written on
		bRect := image.Rect(boxLeft, boxTop-textH-pad*2,
			boxLeft+textW+pad*2, boxTop)
		gocv.Rectangle(img, bRect, useClr, -1)

		dr := &font.Drawer{
			Dst:  rgba,
			Src:  image.NewUniform(clr),
			Face: face,
			Dot: fixed.Point26_6{
				X: fixed.Int26_6((boxLeft + pad) * 64),
				Y: fixed.Int26_6((boxTop - textH - pad + ascent) * 64),
			},
		}
		dr.DrawString(text)
	}

	return blendRGBA(img, rgba)
}

// blendRGBA composites a transparent RGBA overlay onto the BGR image
func blendRGBA(img *gocv.Mat, rgba *image.RGBA) error {

	// Convert image.RGBA to gocv.Mat
	imgRGBA, err := gocv.NewMatFromBytes(rgba.Bounds().Dy(),
		rgba.Bounds().Dx(), gocv.MatTypeCV8UC4, rgba.Pix)

	if imgRGBA.Empty() || err != nil {
		return fmt.Errorf("error creating Mat from RGBA")
	}

	defer imgRGBA.Close()

	gocv.CvtColor(imgRGBA, &imgRGBA, gocv.ColorRGBAToBGR)
	gocv.AddWeighted(*img, 1.0, imgRGBA, 1.0, 0, img)

	return nil
}
