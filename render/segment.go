package render

import (
	"image"
	"image/color"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"gocv.io/x/gocv"
)

// boxLabel defines where the detection object label should be rendered on
// source image
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// MaskOverlay renders the provided masks as a transparent overlay on top of
// the whole image.  Each mask is coloured by the class of the detection at
// the same index, or by its position when no detections are given.
func MaskOverlay(img *gocv.Mat, masks []autolabel.Mask,
	detections []autolabel.Detection, alpha float32) {

	// get dimensions
	width := img.Cols()
	height := img.Rows()

	// it is too slow to manipulate pixel by pixel using GoCV due to slowness
	// over CGO.  So we copy the bytes from the source image and manipulate
	// the bytes directly before copying back to a Mat
	imgData := img.ToBytes()

	for i, mask := range masks {

		if mask.Width != width || mask.Height != height {
			continue
		}

		clr := ClassColor(i)

		if i < len(detections) {
			clr = ClassColor(detections[i].Class)
		}

		// iterate over each pixel in the mask
		for j := 0; j < height; j++ {
			for k := 0; k < width; k++ {

				if mask.Data[j*width+k] == 0 {
					continue
				}

				// calculate position in the byte slice
				pixelPos := j*width*3 + k*3

				// get original pixel colors directly from the byte slice
				b, g, r := imgData[pixelPos+0], imgData[pixelPos+1], imgData[pixelPos+2]

				// calculate blended colors based on alpha transparency
				imgData[pixelPos+0] = uint8(float32(b)*(1-alpha) + float32(clr.B)*alpha)
				imgData[pixelPos+1] = uint8(float32(g)*(1-alpha) + float32(clr.G)*alpha)
				imgData[pixelPos+2] = uint8(float32(r)*(1-alpha) + float32(clr.R)*alpha)
			}
		}
	}

	// copy back to the original mat
	tmpImg, _ := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, imgData)
	defer tmpImg.Close()
	tmpImg.CopyTo(img)
}

// PolygonOutline renders the given polygon outlines on the image using the
// palette colour for the given class
func PolygonOutline(img *gocv.Mat, polygons [][]image.Point, class int,
	lineThickness int) {

	if len(polygons) == 0 {
		return
	}

	pts := gocv.NewPointsVectorFromPoints(polygons)
	defer pts.Close()

	gocv.Polylines(img, pts, true, ClassColor(class), lineThickness)
}
