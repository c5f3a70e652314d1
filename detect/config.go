// Package detect implements the text prompted object detection engine.
// Given a 3 channel image and a comma separated class list it returns
// bounding boxes, matched class labels, and confidence scores.
package detect

import (
	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
)

const (
	// default NMS (Non-maximum Suppression) threshold
	NMS_THRESH = 0.45
	// default maximum number of detections returned per image
	MAX_DETECTIONS = 64
)

// Config defines the detection engine parameters
type Config struct {
	// OnnxRuntimeLibPath is the path of the onnxruntime shared library.
	// Defaults to the per platform location when empty.
	OnnxRuntimeLibPath string
	// VocabPath is the tokenizer vocabulary file, one token per line.
	// Defaults to vocab.txt next to the model file when empty.
	VocabPath string
	// InputSize is the square input tensor dimension the image is
	// letterboxed to
	InputSize int
	// MaxTextTokens is the maximum token length of the encoded prompt
	MaxTextTokens int
	// NMSThreshold is the Non-Maximum Suppression threshold used for
	// defining the maximum allowed Intersection Over Union (IoU) between
	// two bounding boxes for both to be kept
	NMSThreshold float32
	// MaxDetections is the maximum number of objects returned
	MaxDetections int
	// NumThreads is the ONNX intra-op thread count, 0 leaves the
	// runtime default
	NumThreads int
	// Device is the compute device to bind the model to
	Device autolabel.Device
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		InputSize:     800,
		MaxTextTokens: 256,
		NMSThreshold:  NMS_THRESH,
		MaxDetections: MAX_DETECTIONS,
		Device:        autolabel.DeviceCPU,
	}
}
