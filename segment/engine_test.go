package segment

import (
	"testing"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"gocv.io/x/gocv"
)

func TestUpscaleMaskLogits(t *testing.T) {

	// a 4x4 valid region where the left half is above threshold
	logits := make([]float32, maskLogitsDim*maskLogitsDim)

	for y := 0; y < 4; y++ {
		for x := 0; x < 2; x++ {
			logits[y*maskLogitsDim+x] = 5.0
		}
	}

	mask := upscaleMaskLogits(logits, maskLogitsDim, 4, 4, 16, 16)

	if mask.Width != 16 || mask.Height != 16 {
		t.Fatalf("expected 16x16 mask, got %dx%d", mask.Width, mask.Height)
	}

	// the left half of the upscaled mask is foreground
	if !mask.At(0, 0) || !mask.At(7, 15) {
		t.Errorf("expected left half foreground")
	}

	if mask.At(8, 0) || mask.At(15, 15) {
		t.Errorf("expected right half background")
	}
}

func TestUpscaleMaskLogitsEmptyRegion(t *testing.T) {

	logits := make([]float32, maskLogitsDim*maskLogitsDim)

	mask := upscaleMaskLogits(logits, maskLogitsDim, 0, 0, 8, 8)

	if mask.Area() != 0 {
		t.Errorf("expected empty mask, got area %d", mask.Area())
	}
}

func TestMaskBounds(t *testing.T) {

	mask := autolabel.NewMask(32, 32)

	if _, ok := maskBounds(mask); ok {
		t.Errorf("expected no bounds for an empty mask")
	}

	for y := 5; y < 12; y++ {
		for x := 3; x < 20; x++ {
			mask.Set(x, y, true)
		}
	}

	box, ok := maskBounds(mask)

	if !ok {
		t.Fatalf("expected bounds for a non empty mask")
	}

	want := autolabel.Box{X1: 3, Y1: 5, X2: 20, Y2: 12}

	if box != want {
		t.Errorf("expected bounds %+v, got %+v", want, box)
	}
}

func TestBestIdx(t *testing.T) {

	if got := bestIdx([]float32{0.1, 0.9, 0.5}); got != 1 {
		t.Errorf("expected index 1, got %d", got)
	}

	if got := bestIdx([]float32{0.7}); got != 0 {
		t.Errorf("expected index 0, got %d", got)
	}
}

func TestPromptToPoints(t *testing.T) {

	e := NewEngine(Config{})
	e.ctx = &imageContext{scale: 0.5}

	prompt := autolabel.SegPrompt{
		Points: []autolabel.Point{
			{X: 10, Y: 20, Label: 1},
			{X: 30, Y: 40, Label: 0},
		},
		Box: &autolabel.Box{X1: 0, Y1: 0, X2: 100, Y2: 200},
	}

	coords, labels := e.promptToPoints(prompt)

	wantCoords := []float32{5, 10, 15, 20, 0, 0, 50, 100}
	wantLabels := []int64{1, 0, labelBoxTopLeft, labelBoxBotRight}

	if len(coords) != len(wantCoords) || len(labels) != len(wantLabels) {
		t.Fatalf("expected %d coords and %d labels, got %d and %d",
			len(wantCoords), len(wantLabels), len(coords), len(labels))
	}

	for i := range coords {
		if coords[i] != wantCoords[i] {
			t.Errorf("coord %d: expected %f, got %f", i, wantCoords[i], coords[i])
		}
	}

	for i := range labels {
		if labels[i] != wantLabels[i] {
			t.Errorf("label %d: expected %d, got %d", i, wantLabels[i], labels[i])
		}
	}
}

func TestPredictRequiresLoad(t *testing.T) {

	e := NewEngine(Config{})

	mat := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer mat.Close()

	if _, err := e.Predict(mat, autolabel.SegPrompt{
		Box: &autolabel.Box{X1: 0, Y1: 0, X2: 4, Y2: 4},
	}); err != autolabel.ErrModelNotLoaded {
		t.Errorf("expected ErrModelNotLoaded, got %v", err)
	}
}
