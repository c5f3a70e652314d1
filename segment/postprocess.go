package segment

import (
	"fmt"
	"image"
	"math"

	clipper "github.com/ctessum/go.clipper"
	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"gocv.io/x/gocv"
)

const (
	// MaxPolygons caps the number of polygons extracted from one mask
	MaxPolygons = 1000
	// minFragmentArea is the contour area in pixels below which a mask
	// fragment is discarded as speckle
	minFragmentArea = 10.0
)

// Polygon is a closed contour simplified from a mask boundary
type Polygon []image.Point

// SmoothMask removes speckle noise and smooths mask boundaries with a
// morphological close followed by an open using an elliptical kernel of
// the given size.  The input mask is not modified.
func SmoothMask(mask autolabel.Mask, kernelSize, iterations int) (autolabel.Mask, error) {

	if kernelSize < 1 || iterations < 1 {
		return autolabel.Mask{}, fmt.Errorf(
			"kernel size and iterations must be at least 1")
	}

	mat, err := mask.ToMat()

	if err != nil {
		return autolabel.Mask{}, err
	}

	defer mat.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse,
		image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	smoothed := gocv.NewMat()
	defer smoothed.Close()

	// close fills small holes, open strips protruding speckle
	gocv.MorphologyExWithParams(mat, &smoothed, gocv.MorphClose, kernel,
		iterations, gocv.BorderConstant)
	gocv.MorphologyExWithParams(smoothed, &smoothed, gocv.MorphOpen, kernel,
		iterations, gocv.BorderConstant)

	return autolabel.MaskFromMat(smoothed), nil
}

// MaskToPolygon extracts the external contours of a mask and simplifies
// each to a polygon of at least 3 points.  epsilonFactor scales the
// simplification tolerance relative to each contour's perimeter, small
// fragments are discarded.
func MaskToPolygon(mask autolabel.Mask, epsilonFactor float64) ([]Polygon, error) {

	if epsilonFactor <= 0 {
		return nil, fmt.Errorf("epsilon factor must be positive")
	}

	mat, err := mask.ToMat()

	if err != nil {
		return nil, err
	}

	defer mat.Close()

	contours := gocv.FindContours(mat, gocv.RetrievalExternal,
		gocv.ChainApproxSimple)
	defer contours.Close()

	numContours := contours.Size()

	if numContours > MaxPolygons {
		numContours = MaxPolygons
	}

	var polygons []Polygon

	for i := 0; i < numContours; i++ {

		contour := contours.At(i)

		if contour.Size() < 3 {
			continue
		}

		if gocv.ContourArea(contour) < minFragmentArea {
			continue
		}

		epsilon := epsilonFactor * gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, epsilon, true)

		if approx.Size() < 3 {
			approx.Close()
			continue
		}

		polygons = append(polygons, Polygon(approx.ToPoints()))
		approx.Close()
	}

	return polygons, nil
}

// ExpandPolygon offsets a polygon's boundary outwards by a distance
// derived from its area, perimeter, and the given ratio.  Annotation
// consumers use this to compensate for masks that sit a pixel or two
// inside the true object boundary.
func ExpandPolygon(poly Polygon, ratio float32) Polygon {

	if len(poly) < 3 || ratio <= 0 {
		return poly
	}

	distance := offsetDistance(poly, ratio)

	// convert the polygon points to a Clipper Path
	var path clipper.Path

	for _, pt := range poly {
		path = append(path, &clipper.IntPoint{
			X: clipper.CInt(pt.X),
			Y: clipper.CInt(pt.Y),
		})
	}

	// create a ClipperOffset object and add the path
	co := clipper.NewClipperOffset()
	co.AddPath(path, clipper.JtRound, clipper.EtClosedPolygon)

	// execute the offset operation
	solution := co.Execute(float64(distance))

	if len(solution) == 0 {
		return poly
	}

	// convert the solution back to points, keeping the largest ring
	largest := solution[0]

	for _, sol := range solution[1:] {
		if len(sol) > len(largest) {
			largest = sol
		}
	}

	expanded := make(Polygon, 0, len(largest))

	for _, pt := range largest {
		expanded = append(expanded, image.Pt(int(pt.X), int(pt.Y)))
	}

	return expanded
}

// offsetDistance calculates the boundary offset from the polygon area
// and perimeter scaled by the expansion ratio
func offsetDistance(poly Polygon, ratio float32) float32 {

	area := math.Abs(polygonArea(poly))
	perimeter := polygonPerimeter(poly)

	if perimeter == 0 {
		return 0
	}

	return float32(area) * ratio / float32(perimeter)
}

// polygonArea computes the signed area of a polygon with the shoelace
// formula
func polygonArea(poly Polygon) float64 {

	area := 0.0
	n := len(poly)

	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += float64(poly[i].X) * float64(poly[j].Y)
		area -= float64(poly[j].X) * float64(poly[i].Y)
	}

	return area / 2.0
}

// polygonPerimeter computes the closed boundary length of a polygon
func polygonPerimeter(poly Polygon) float64 {

	perimeter := 0.0
	n := len(poly)

	for i := 0; i < n; i++ {
		j := (i + 1) % n
		dx := float64(poly[j].X - poly[i].X)
		dy := float64(poly[j].Y - poly[i].Y)
		perimeter += math.Sqrt(dx*dx + dy*dy)
	}

	return perimeter
}
