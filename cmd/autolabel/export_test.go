package main

import (
	"testing"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
)

func filledMask(w, h, x1, y1, x2, y2 int) autolabel.Mask {

	mask := autolabel.NewMask(w, h)

	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			mask.Set(x, y, true)
		}
	}

	return mask
}

func polygonExtent(poly [][2]int) (int, int, int, int) {

	minX, minY := poly[0][0], poly[0][1]
	maxX, maxY := minX, minY

	for _, pt := range poly[1:] {

		if pt[0] < minX {
			minX = pt[0]
		}

		if pt[0] > maxX {
			maxX = pt[0]
		}

		if pt[1] < minY {
			minY = pt[1]
		}

		if pt[1] > maxY {
			maxY = pt[1]
		}
	}

	return minX, minY, maxX, maxY
}

func TestLargestPolygon(t *testing.T) {

	mask := filledMask(64, 64, 10, 10, 50, 40)

	poly := largestPolygon(mask, 0.005, -1)

	if len(poly) < 3 {
		t.Fatalf("expected a closed polygon, got %d points", len(poly))
	}

	minX, minY, maxX, maxY := polygonExtent(poly)

	if minX < 9 || minY < 9 || maxX > 50 || maxY > 40 {
		t.Errorf("expected polygon within mask bounds, got (%d,%d)-(%d,%d)",
			minX, minY, maxX, maxY)
	}
}

func TestLargestPolygonExpands(t *testing.T) {

	mask := filledMask(64, 64, 20, 20, 45, 45)

	plain := largestPolygon(mask, 0.005, -1)
	expanded := largestPolygon(mask, 0.005, 2.0)

	if len(plain) < 3 || len(expanded) < 3 {
		t.Fatalf("expected closed polygons, got %d and %d points",
			len(plain), len(expanded))
	}

	pMinX, pMinY, pMaxX, pMaxY := polygonExtent(plain)
	eMinX, eMinY, eMaxX, eMaxY := polygonExtent(expanded)

	// the expanded boundary must sit outside the plain one
	if eMinX >= pMinX || eMinY >= pMinY || eMaxX <= pMaxX || eMaxY <= pMaxY {
		t.Errorf("expected expanded polygon outside (%d,%d)-(%d,%d), got (%d,%d)-(%d,%d)",
			pMinX, pMinY, pMaxX, pMaxY, eMinX, eMinY, eMaxX, eMaxY)
	}
}

func TestLargestPolygonEmptyMask(t *testing.T) {

	if poly := largestPolygon(autolabel.NewMask(32, 32), 0.005, 1.5); poly != nil {
		t.Errorf("expected nil polygon for an empty mask, got %v", poly)
	}
}
