package render

import (
	"image"
	"path/filepath"
	"testing"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"gocv.io/x/gocv"
	"golang.org/x/image/font/basicfont"
)

func hasForegroundPixels(img gocv.Mat) bool {

	for _, b := range img.ToBytes() {
		if b != 0 {
			return true
		}
	}

	return false
}

func TestLoadTTFFaceMissingFile(t *testing.T) {

	missing := filepath.Join(t.TempDir(), "missing.ttf")

	if _, err := LoadTTFFace(missing, 14); err == nil {
		t.Errorf("expected error for missing font file")
	}
}

func TestTTFLabel(t *testing.T) {

	img := gocv.NewMatWithSize(40, 120, gocv.MatTypeCV8UC3)
	defer img.Close()

	err := TTFLabel(&img, "cat 0.95", image.Pt(5, 20), basicfont.Face7x13, White)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !hasForegroundPixels(img) {
		t.Errorf("expected text pixels drawn on the image")
	}
}

func TestDetectionBoxesTTF(t *testing.T) {

	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	detections := []autolabel.Detection{
		{Box: autolabel.Box{X1: 10, Y1: 30, X2: 60, Y2: 80},
			Label: "cat", Class: 0, Score: 0.9},
	}

	err := DetectionBoxesTTF(&img, detections, basicfont.Face7x13, White, 2)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !hasForegroundPixels(img) {
		t.Errorf("expected boxes and labels drawn on the image")
	}
}
