package autolabel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Detector is the orchestrator's view of a text prompted object
// detection engine
type Detector interface {
	Engine
	// Detect runs object detection over a 3 channel image.  The text
	// prompt is a free text comma separated class list and no detection
	// below confThreshold is returned.
	Detect(img gocv.Mat, textPrompt string, confThreshold float32) (*DetectionResult, error)
}

// Segmenter is the orchestrator's view of a promptable segmentation
// engine
type Segmenter interface {
	Engine
	// Predict segments the region described by the prompt and returns
	// masks matching the image dimensions
	Predict(img gocv.Mat, prompt SegPrompt) (*SegmentationResult, error)
}

// RunState is the orchestrator's pipeline state
type RunState int

const (
	// RunIdle means no pipeline is executing
	RunIdle RunState = iota
	// RunRunning means a pipeline run is in flight
	RunRunning
	// RunCompleted means the last run finished with a result
	RunCompleted
	// RunCancelled means the last run was cancelled cooperatively
	RunCancelled
	// RunFailed means the last run ended with an error
	RunFailed
)

// String returns a readable name for the run state
func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunCancelled:
		return "cancelled"
	case RunFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

// Progress band boundaries for the two pipeline stages.  Detection is
// reported in the detectStart..detectEnd band and per box segmentation
// is distributed linearly across segmentStart..segmentEnd.
const (
	progressDetectStart  = 10
	progressDetectEnd    = 50
	progressSegmentStart = 50
	progressSegmentEnd   = 90
)

// Orchestrator drives the two stage auto-annotation pipeline.  It owns
// one detection engine, one segmentation engine, and the result cache
// exclusively.
//
// Run is a long running blocking call intended to execute on a worker
// goroutine.  One Orchestrator serves one caller at a time, concurrent
// Run invocations are out of contract and must be serialized by the
// caller.  Cancel and ClearCache may be called from any goroutine.
type Orchestrator struct {
	detector  Detector
	segmenter Segmenter
	notifier  *Notifier

	// cancelled is the cooperative cancellation flag.  It is consulted
	// before detection, before each per box segmentation call, and
	// before the result is cached, never mid inference.
	cancelled atomic.Bool

	// cache maps fingerprints to completed annotations.  It is unbounded
	// and only emptied by ClearCache.
	cacheMu sync.Mutex
	cache   map[string]*AnnotationResult

	stateMu sync.Mutex
	state   RunState
	lastRun RunState
}

// NewOrchestrator returns an orchestrator wired to the given engines
func NewOrchestrator(detector Detector, segmenter Segmenter) *Orchestrator {
	return &Orchestrator{
		detector:  detector,
		segmenter: segmenter,
		cache:     make(map[string]*AnnotationResult),
		state:     RunIdle,
	}
}

// SetNotifier attaches the observer callbacks for progress, error, and
// completion notifications
func (o *Orchestrator) SetNotifier(n *Notifier) {
	o.notifier = n
}

// State returns the current pipeline state
func (o *Orchestrator) State() RunState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

// LastRun returns the terminal state of the most recent run
func (o *Orchestrator) LastRun() RunState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.lastRun
}

// setState transitions the pipeline state
func (o *Orchestrator) setState(s RunState) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.state = s
}

// finish records the terminal state of a run and returns the pipeline
// to idle
func (o *Orchestrator) finish(terminal RunState) {
	o.stateMu.Lock()
	o.lastRun = terminal
	o.state = RunIdle
	o.stateMu.Unlock()

	// a run consumes any pending cancellation request
	o.cancelled.Store(false)
}

// Cancel requests cooperative cancellation of the in flight run.  The
// flag is honored at stage boundaries only, an in flight model call
// always runs to completion.  Cancel never blocks.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
	o.notifier.Error("annotation cancelled")
}

// ClearCache drops all cached annotation results.  It has no effect on
// an in flight run.
func (o *Orchestrator) ClearCache() {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	o.cache = make(map[string]*AnnotationResult)
}

// CacheSize returns the number of cached annotations
func (o *Orchestrator) CacheSize() int {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	return len(o.cache)
}

// cacheGet looks up a cached annotation by fingerprint
func (o *Orchestrator) cacheGet(key string) (*AnnotationResult, bool) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	res, ok := o.cache[key]
	return res, ok
}

// cachePut stores a completed annotation under its fingerprint
func (o *Orchestrator) cachePut(key string, res *AnnotationResult) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	o.cache[key] = res
}

// Run executes the two stage pipeline over one image.  A cancelled run
// returns (nil, nil) with no partial result, callers must treat this
// sentinel separately from errors.
func (o *Orchestrator) Run(img gocv.Mat, textPrompt string,
	confThreshold float32, useCache bool) (*AnnotationResult, error) {

	// a cancellation requested before the run starts aborts it with no
	// work performed
	if o.cancelled.Load() {
		o.finish(RunCancelled)
		return nil, nil
	}

	if !o.detector.IsLoaded() || !o.segmenter.IsLoaded() {
		o.notifier.Error(ErrModelsNotLoaded.Error())
		return nil, ErrModelsNotLoaded
	}

	o.setState(RunRunning)

	var fingerprint string

	if useCache {
		fingerprint = Fingerprint(img.ToBytes(), textPrompt)

		if res, ok := o.cacheGet(fingerprint); ok {
			o.notifier.Progress(100, "retrieved from cache")
			o.notifier.Complete(res)
			o.finish(RunCompleted)
			return res, nil
		}
	}

	// stage A: detection
	o.notifier.Progress(progressDetectStart, "running object detection")

	detections, err := o.detector.Detect(img, textPrompt, confThreshold)

	if err != nil {
		return nil, o.fail(&StageError{Stage: StageDetect, Err: err})
	}

	o.notifier.Progress(progressDetectEnd,
		fmt.Sprintf("detected %d objects", detections.Count))

	if o.cancelled.Load() {
		o.finish(RunCancelled)
		return nil, nil
	}

	// stage B: segment each detected box in detection order
	masks := make([]Mask, 0, detections.Count)
	segmentBand := progressSegmentEnd - progressSegmentStart

	for i, det := range detections.Results {

		// cancellation aborts before the next model call without caching
		// the partial result
		if o.cancelled.Load() {
			o.finish(RunCancelled)
			return nil, nil
		}

		box := det.Box
		segRes, err := o.segmenter.Predict(img, SegPrompt{Box: &box})

		if err != nil {
			return nil, o.fail(&StageError{Stage: StageSegment, Err: err})
		}

		if len(segRes.Masks) == 0 {
			return nil, o.fail(&StageError{Stage: StageSegment,
				Err: fmt.Errorf("no mask returned for detection %d", i+1)})
		}

		mask, _ := segRes.Best()
		masks = append(masks, mask)

		pct := progressSegmentStart + (i+1)*segmentBand/detections.Count
		o.notifier.Progress(pct,
			fmt.Sprintf("segmented object %d of %d", i+1, detections.Count))
	}

	result := &AnnotationResult{
		Detections: detections,
		Masks:      masks,
		Metadata: Metadata{
			Prompt:              textPrompt,
			ConfidenceThreshold: confThreshold,
			NumDetections:       detections.Count,
		},
	}

	// final cancellation check before the result is cached and returned
	if o.cancelled.Load() {
		o.finish(RunCancelled)
		return nil, nil
	}

	if useCache {
		o.cachePut(fingerprint, result)
	}

	o.notifier.Progress(100, "annotation complete")
	o.notifier.Complete(result)
	o.finish(RunCompleted)

	return result, nil
}

// fail records a failed run, surfaces the error on the notification
// channel, and returns the wrapped error
func (o *Orchestrator) fail(err error) error {
	o.notifier.Error(err.Error())
	o.finish(RunFailed)
	return err
}
