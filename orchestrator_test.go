package autolabel

import (
	"errors"
	"fmt"
	"testing"

	"gocv.io/x/gocv"
)

// fakeHandle satisfies the lifecycle half of the Engine contract for
// tests without touching the ONNX runtime
type fakeHandle struct {
	state LoadState
}

func (h *fakeHandle) Load(path string, device Device) error {
	h.state = StateLoaded
	return nil
}

func (h *fakeHandle) Unload() error {
	h.state = StateUnloaded
	return nil
}

func (h *fakeHandle) IsLoaded() bool {
	return h.state == StateLoaded
}

func (h *fakeHandle) State() LoadState {
	return h.state
}

func (h *fakeHandle) SetNotifier(n *Notifier) {}

// fakeDetector returns a fixed detection list and counts calls
type fakeDetector struct {
	fakeHandle
	results []Detection
	calls   int
	err     error
}

func (d *fakeDetector) Detect(img gocv.Mat, textPrompt string,
	confThreshold float32) (*DetectionResult, error) {

	d.calls++

	if d.err != nil {
		return nil, d.err
	}

	return &DetectionResult{
		Results: d.results,
		Count:   len(d.results),
	}, nil
}

// fakeSegmenter fills the prompted box region of an image sized mask and
// counts calls
type fakeSegmenter struct {
	fakeHandle
	calls  int
	err    error
	empty  bool
	onCall func(call int)
}

func (s *fakeSegmenter) Predict(img gocv.Mat,
	prompt SegPrompt) (*SegmentationResult, error) {

	s.calls++

	if s.onCall != nil {
		s.onCall(s.calls)
	}

	if s.err != nil {
		return nil, s.err
	}

	if s.empty {
		return &SegmentationResult{}, nil
	}

	mask := NewMask(img.Cols(), img.Rows())

	if prompt.Box != nil {
		for y := int(prompt.Box.Y1); y < int(prompt.Box.Y2); y++ {
			for x := int(prompt.Box.X1); x < int(prompt.Box.X2); x++ {
				mask.Set(x, y, true)
			}
		}
	}

	return &SegmentationResult{
		Masks:  []Mask{mask},
		Scores: []float32{0.9},
	}, nil
}

// loadedPipeline returns an orchestrator whose fake engines are ready
func loadedPipeline(dets []Detection) (*Orchestrator, *fakeDetector, *fakeSegmenter) {

	det := &fakeDetector{results: dets}
	seg := &fakeSegmenter{}
	det.Load("", DeviceCPU)
	seg.Load("", DeviceCPU)

	return NewOrchestrator(det, seg), det, seg
}

func testImage(width, height int) gocv.Mat {
	return gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
}

func TestRunRequiresLoadedEngines(t *testing.T) {

	det := &fakeDetector{}
	seg := &fakeSegmenter{}
	o := NewOrchestrator(det, seg)

	var gotErr string
	o.SetNotifier(&Notifier{
		OnError: func(msg string) { gotErr = msg },
	})

	img := testImage(8, 8)
	defer img.Close()

	_, err := o.Run(img, "cat", 0.25, false)

	if !errors.Is(err, ErrModelsNotLoaded) {
		t.Errorf("expected ErrModelsNotLoaded, got %v", err)
	}

	if gotErr == "" {
		t.Errorf("expected error notification, got none")
	}
}

func TestRunAnnotates(t *testing.T) {

	dets := []Detection{
		{Box: Box{X1: 1, Y1: 1, X2: 4, Y2: 4}, Label: "cat", Class: 0, Score: 0.8},
		{Box: Box{X1: 5, Y1: 5, X2: 8, Y2: 8}, Label: "dog", Class: 1, Score: 0.6},
	}

	o, _, seg := loadedPipeline(dets)

	var lastPct int
	var completed *AnnotationResult

	o.SetNotifier(&Notifier{
		OnProgress: func(pct int, msg string) {
			if pct < lastPct {
				t.Errorf("progress went backwards, %d after %d", pct, lastPct)
			}
			lastPct = pct
		},
		OnComplete: func(res *AnnotationResult) { completed = res },
	})

	img := testImage(10, 10)
	defer img.Close()

	res, err := o.Run(img, "cat, dog", 0.25, false)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Metadata.NumDetections != 2 {
		t.Errorf("expected 2 detections, got %d", res.Metadata.NumDetections)
	}

	if res.Metadata.Prompt != "cat, dog" {
		t.Errorf("expected prompt recorded, got %q", res.Metadata.Prompt)
	}

	if len(res.Masks) != len(res.Detections.Results) {
		t.Fatalf("expected one mask per detection, got %d masks for %d detections",
			len(res.Masks), len(res.Detections.Results))
	}

	// each mask must cover its own detection box
	for i, det := range res.Detections.Results {
		cx := int((det.Box.X1 + det.Box.X2) / 2)
		cy := int((det.Box.Y1 + det.Box.Y2) / 2)

		if !res.Masks[i].At(cx, cy) {
			t.Errorf("mask %d does not cover its detection box center", i)
		}
	}

	if seg.calls != 2 {
		t.Errorf("expected 2 segmentation calls, got %d", seg.calls)
	}

	if lastPct != 100 {
		t.Errorf("expected final progress of 100, got %d", lastPct)
	}

	if completed == nil {
		t.Errorf("expected completion notification")
	}

	if o.LastRun() != RunCompleted {
		t.Errorf("expected last run state completed, got %s", o.LastRun())
	}
}

func TestRunUsesCache(t *testing.T) {

	dets := []Detection{
		{Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, Label: "cat", Score: 0.9},
	}

	o, det, _ := loadedPipeline(dets)

	img := testImage(6, 6)
	defer img.Close()

	first, err := o.Run(img, "cat", 0.25, true)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if o.CacheSize() != 1 {
		t.Errorf("expected 1 cached result, got %d", o.CacheSize())
	}

	var hitMsg string
	o.SetNotifier(&Notifier{
		OnProgress: func(pct int, msg string) { hitMsg = msg },
	})

	second, err := o.Run(img, "cat", 0.25, true)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second != first {
		t.Errorf("expected cached result to be returned")
	}

	if det.calls != 1 {
		t.Errorf("expected a single detection call, got %d", det.calls)
	}

	if hitMsg != "retrieved from cache" {
		t.Errorf("expected cache hit message, got %q", hitMsg)
	}

	// a different prompt misses the cache
	if _, err := o.Run(img, "dog", 0.25, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if det.calls != 2 {
		t.Errorf("expected cache miss on new prompt, detect calls %d", det.calls)
	}

	// bypassing the cache always runs the pipeline
	if _, err := o.Run(img, "cat", 0.25, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if det.calls != 3 {
		t.Errorf("expected cache bypass to run detection, calls %d", det.calls)
	}

	o.ClearCache()

	if o.CacheSize() != 0 {
		t.Errorf("expected empty cache, got %d entries", o.CacheSize())
	}

	if _, err := o.Run(img, "cat", 0.25, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if det.calls != 4 {
		t.Errorf("expected cleared cache to miss, detect calls %d", det.calls)
	}
}

func TestCancelBeforeRun(t *testing.T) {

	o, det, _ := loadedPipeline([]Detection{
		{Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, Label: "cat", Score: 0.9},
	})

	img := testImage(6, 6)
	defer img.Close()

	o.Cancel()

	res, err := o.Run(img, "cat", 0.25, false)

	if res != nil || err != nil {
		t.Errorf("expected nil result and nil error, got %v, %v", res, err)
	}

	if det.calls != 0 {
		t.Errorf("expected no detection call, got %d", det.calls)
	}

	if o.LastRun() != RunCancelled {
		t.Errorf("expected last run state cancelled, got %s", o.LastRun())
	}

	// the cancelled run consumed the request, the next run proceeds
	res, err = o.Run(img, "cat", 0.25, false)

	if err != nil || res == nil {
		t.Errorf("expected next run to proceed, got %v, %v", res, err)
	}
}

func TestCancelDuringSegmentation(t *testing.T) {

	dets := make([]Detection, 4)
	for i := range dets {
		f := float32(i * 2)
		dets[i] = Detection{
			Box:   Box{X1: f, Y1: f, X2: f + 1, Y2: f + 1},
			Label: fmt.Sprintf("obj%d", i),
			Score: 0.9,
		}
	}

	o, _, seg := loadedPipeline(dets)

	// request cancellation while the second model call is in flight
	seg.onCall = func(call int) {
		if call == 2 {
			o.Cancel()
		}
	}

	img := testImage(10, 10)
	defer img.Close()

	res, err := o.Run(img, "a, b, c, d", 0.25, true)

	if res != nil || err != nil {
		t.Errorf("expected nil result and nil error, got %v, %v", res, err)
	}

	// the in flight call completes, the remaining boxes are never segmented
	if seg.calls != 2 {
		t.Errorf("expected 2 segmentation calls, got %d", seg.calls)
	}

	// no partial result is cached
	if o.CacheSize() != 0 {
		t.Errorf("expected no cached result, got %d entries", o.CacheSize())
	}

	if o.LastRun() != RunCancelled {
		t.Errorf("expected last run state cancelled, got %s", o.LastRun())
	}
}

func TestRunSegmenterEmptyResult(t *testing.T) {

	o, _, seg := loadedPipeline([]Detection{
		{Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, Label: "cat", Score: 0.9},
	})
	seg.empty = true

	img := testImage(6, 6)
	defer img.Close()

	_, err := o.Run(img, "cat", 0.25, false)

	var stageErr *StageError

	if !errors.As(err, &stageErr) || stageErr.Stage != StageSegment {
		t.Fatalf("expected segment stage error for empty result, got %v", err)
	}

	if o.LastRun() != RunFailed {
		t.Errorf("expected last run state failed, got %s", o.LastRun())
	}
}

func TestBestEmptyResult(t *testing.T) {

	mask, score := (&SegmentationResult{}).Best()

	if score != 0 || mask.Data != nil || mask.Area() != 0 {
		t.Errorf("expected zero mask and score for an empty result")
	}
}

func TestRunDetectFailure(t *testing.T) {

	o, det, _ := loadedPipeline(nil)
	det.err = errors.New("inference failed")

	var gotErr string
	o.SetNotifier(&Notifier{
		OnError: func(msg string) { gotErr = msg },
	})

	img := testImage(6, 6)
	defer img.Close()

	_, err := o.Run(img, "cat", 0.25, false)

	var stageErr *StageError

	if !errors.As(err, &stageErr) || stageErr.Stage != StageDetect {
		t.Fatalf("expected detect stage error, got %v", err)
	}

	if gotErr == "" {
		t.Errorf("expected error notification, got none")
	}

	if o.LastRun() != RunFailed {
		t.Errorf("expected last run state failed, got %s", o.LastRun())
	}
}

func TestRunSegmentFailure(t *testing.T) {

	o, _, seg := loadedPipeline([]Detection{
		{Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, Label: "cat", Score: 0.9},
	})
	seg.err = errors.New("decode failed")

	img := testImage(6, 6)
	defer img.Close()

	_, err := o.Run(img, "cat", 0.25, true)

	var stageErr *StageError

	if !errors.As(err, &stageErr) || stageErr.Stage != StageSegment {
		t.Fatalf("expected segment stage error, got %v", err)
	}

	// a failed run is never cached
	if o.CacheSize() != 0 {
		t.Errorf("expected no cached result, got %d entries", o.CacheSize())
	}

	if o.LastRun() != RunFailed {
		t.Errorf("expected last run state failed, got %s", o.LastRun())
	}
}
