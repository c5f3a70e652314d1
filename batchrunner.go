package autolabel

import (
	"fmt"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// BatchItemOutcome is the per image record produced by a batch run
type BatchItemOutcome struct {
	// Path is the image file processed
	Path string
	// Success reports whether the image was annotated
	Success bool
	// Message is a human readable description of the outcome
	Message string
}

// BatchSummary accumulates the outcomes and running counters of one
// batch run
type BatchSummary struct {
	// Outcomes are the per image records in input order
	Outcomes []BatchItemOutcome
	// Processed is the number of images attempted
	Processed int
	// Succeeded is the number of images annotated
	Succeeded int
	// Failed is the number of images that could not be annotated
	Failed int
	// Cancelled reports whether the run stopped early on request
	Cancelled bool
}

// BatchRunner feeds an ordered list of image files through one
// Orchestrator with a fixed prompt.  A failing image never prevents
// subsequent images from being attempted, failure isolation is per
// item.  The runner holds a non owning reference to the Orchestrator
// and owns only its outcome list and counters.
type BatchRunner struct {
	orchestrator *Orchestrator

	// ConfThreshold is the detection confidence cut off applied to every
	// image
	ConfThreshold float32
	// UseCache enables the orchestrator's result cache for the run
	UseCache bool

	// OnItem receives (current, total, message) after each image is
	// processed.  May be nil.
	OnItem func(current, total int, message string)
	// OnDone receives the summary when the batch finishes, whether it
	// ran to completion or was cancelled.  May be nil.
	OnDone func(summary *BatchSummary)

	// cancelled stops iteration at the next item boundary
	cancelled atomic.Bool
}

// NewBatchRunner returns a batch runner driving the given orchestrator
func NewBatchRunner(o *Orchestrator) *BatchRunner {
	return &BatchRunner{
		orchestrator:  o,
		ConfThreshold: 0.25,
		UseCache:      true,
	}
}

// Cancel requests the batch stop before the next image.  Outcomes of
// already processed images are retained.
func (b *BatchRunner) Cancel() {
	b.cancelled.Store(true)
}

// Run processes every image path in order against the fixed text
// prompt.  It blocks until the batch completes or is cancelled and is
// intended to execute on a worker goroutine.
func (b *BatchRunner) Run(imagePaths []string, textPrompt string) *BatchSummary {

	b.cancelled.Store(false)

	summary := &BatchSummary{
		Outcomes: make([]BatchItemOutcome, 0, len(imagePaths)),
	}

	total := len(imagePaths)

	for i, path := range imagePaths {

		// stop iterating on cancellation, keeping finished outcomes
		if b.cancelled.Load() {
			break
		}

		outcome := b.runItem(path, textPrompt)

		summary.Outcomes = append(summary.Outcomes, outcome)
		summary.Processed++

		if outcome.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}

		if b.OnItem != nil {
			b.OnItem(i+1, total, outcome.Message)
		}
	}

	summary.Cancelled = b.cancelled.Load()

	if b.OnDone != nil {
		b.OnDone(summary)
	}

	return summary
}

// runItem annotates a single image and converts any failure into a
// failed outcome so the batch can continue
func (b *BatchRunner) runItem(path, textPrompt string) BatchItemOutcome {

	img := gocv.IMRead(path, gocv.IMReadColor)

	if img.Empty() {
		return BatchItemOutcome{
			Path:    path,
			Success: false,
			Message: fmt.Sprintf("error reading image from %s", path),
		}
	}

	defer img.Close()

	result, err := b.orchestrator.Run(img, textPrompt, b.ConfThreshold, b.UseCache)

	if err != nil {
		return BatchItemOutcome{
			Path:    path,
			Success: false,
			Message: fmt.Sprintf("annotation failed: %v", err),
		}
	}

	if result == nil {
		// orchestrator run was cancelled, stop the batch at the next
		// item boundary as well
		b.cancelled.Store(true)

		return BatchItemOutcome{
			Path:    path,
			Success: false,
			Message: "annotation cancelled",
		}
	}

	return BatchItemOutcome{
		Path:    path,
		Success: true,
		Message: fmt.Sprintf("annotated %d objects", result.Metadata.NumDetections),
	}
}
