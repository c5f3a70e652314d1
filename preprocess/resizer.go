// Package preprocess prepares source images for the fixed input tensor
// dimensions of the inference models and maps coordinates between the
// source and model spaces.
package preprocess

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Resizer defines the struct used for handling image resizing
type Resizer struct {
	// srcWidth is the width of the source image
	srcWidth int
	// srcHeight is the height of the source image
	srcHeight int
	// destWidth is the width to scale to
	destWidth int
	// destHeight is the height to scale to
	destHeight int
	// tempMat is a Mat used during the resize process
	tempMat gocv.Mat
	// letterbox parameters used in scaling
	xPad  int
	yPad  int
	scale float32
	// resize dimensions
	resizeW int
	resizeH int
}

// NewResizer returns a resizer used for scaling an image to the needed
// dimensions for input tensor size
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int) *Resizer {
	r := &Resizer{
		srcWidth:   srcWidth,
		srcHeight:  srcHeight,
		destWidth:  destWidth,
		destHeight: destHeight,
		tempMat:    gocv.NewMat(),
	}

	// precalculate scaling dimensions
	r.preCalc()

	return r
}

// Close frees memory allocated during resize process
func (r *Resizer) Close() error {
	return r.tempMat.Close()
}

// preCalc the scaling factors for source and destination Mats
func (r *Resizer) preCalc() {

	r.resizeW = r.destWidth
	r.resizeH = r.destHeight

	scaleW := float32(r.destWidth) / float32(r.srcWidth)
	scaleH := float32(r.destHeight) / float32(r.srcHeight)
	r.scale = scaleH

	if scaleW < scaleH {
		r.scale = scaleW
		r.resizeH = int(float32(r.srcHeight) * r.scale)
	} else {
		r.resizeW = int(float32(r.srcWidth) * r.scale)
	}

	r.yPad = (r.destHeight - r.resizeH) / 2 // padding height / 2
	r.xPad = (r.destWidth - r.resizeW) / 2  // padding width / 2
}

// LetterBoxResize resizes the input image to the dimensions needed for the
// input tensor size whilst maintaining image aspect.  Color is that used
// for letter box padding.
func (r *Resizer) LetterBoxResize(src gocv.Mat, dest *gocv.Mat, color color.RGBA) {

	gocv.Resize(src, &r.tempMat, image.Pt(r.resizeW, r.resizeH),
		0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(r.tempMat, dest, r.yPad, r.destHeight-r.resizeH-r.yPad,
		r.xPad, r.destWidth-r.resizeW-r.xPad, gocv.BorderConstant, color)
}

// MapX maps a source image x coordinate into letterboxed model space
func (r *Resizer) MapX(x float32) float32 {
	return x*r.scale + float32(r.xPad)
}

// MapY maps a source image y coordinate into letterboxed model space
func (r *Resizer) MapY(y float32) float32 {
	return y*r.scale + float32(r.yPad)
}

// ReverseX maps a model space x coordinate back to the source image,
// clamped to the image width
func (r *Resizer) ReverseX(x float32) float32 {
	v := (x - float32(r.xPad)) / r.scale
	return clampf(v, 0, float32(r.srcWidth))
}

// ReverseY maps a model space y coordinate back to the source image,
// clamped to the image height
func (r *Resizer) ReverseY(y float32) float32 {
	v := (y - float32(r.yPad)) / r.scale
	return clampf(v, 0, float32(r.srcHeight))
}

// clampf restricts val to the range min and max
func clampf(val, min, max float32) float32 {

	if val < min {
		return min
	}

	if val > max {
		return max
	}

	return val
}

// ScaleFactor returns the scale factor used in letterbox resize
func (r *Resizer) ScaleFactor() float32 {
	return r.scale
}

// XPad returns the x padding used in letterbox resize
func (r *Resizer) XPad() int {
	return r.xPad
}

// YPad returns the y padding used in letterbox resize
func (r *Resizer) YPad() int {
	return r.yPad
}

// SrcWidth returns the width of the source image
func (r *Resizer) SrcWidth() int {
	return r.srcWidth
}

// SrcHeight returns the height of the source image
func (r *Resizer) SrcHeight() int {
	return r.srcHeight
}

// DestWidth returns the model input width
func (r *Resizer) DestWidth() int {
	return r.destWidth
}

// DestHeight returns the model input height
func (r *Resizer) DestHeight() int {
	return r.destHeight
}
