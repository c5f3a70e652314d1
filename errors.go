package autolabel

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotLoaded is returned by an engine predict call made before
	// Load has succeeded
	ErrModelNotLoaded = errors.New("model is not loaded")
	// ErrModelsNotLoaded is returned by Orchestrator.Run when either the
	// detection or segmentation engine has not been loaded
	ErrModelsNotLoaded = errors.New("detection and segmentation models must be loaded")
	// ErrInvalidImage is returned when an input image is empty or not a
	// 3 channel pixel matrix
	ErrInvalidImage = errors.New("image must be a non-empty 3 channel matrix")
	// ErrInvalidPrompt is returned by the segmentation engine when neither
	// point nor box prompts are supplied
	ErrInvalidPrompt = errors.New("prompt requires at least one point or a box")
)

// Stage names used when wrapping engine failures with the pipeline stage
// they occurred in
const (
	StageDetect  = "detect"
	StageSegment = "segment"
)

// LoadError wraps a failure to load model weights or bind them to the
// requested device
type LoadError struct {
	// Path is the model file or directory that failed to load
	Path string
	// Err is the underlying cause
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("error loading model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// StageError wraps an engine failure with the pipeline stage it occurred
// in so callers can tell a detection failure from a segmentation failure
type StageError struct {
	// Stage is one of StageDetect or StageSegment
	Stage string
	// Err is the underlying engine error
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
