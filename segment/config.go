// Package segment implements the promptable segmentation engine.  Given
// an image and point or box prompts it returns pixel accurate masks,
// and provides prediction independent post processing to smooth masks
// and extract simplified polygons.
package segment

import (
	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
)

const (
	// inputSize is the long side the image is scaled to for the encoder
	inputSize = 1024
	// maskLogitsDim is the spatial resolution of the decoder mask logits
	maskLogitsDim = 256
	// maskThreshold is the logit cut off separating foreground from
	// background
	maskThreshold = 0.0
)

// point labels understood by the prompt decoder
const (
	labelBackground  = 0
	labelForeground  = 1
	labelBoxTopLeft  = 2
	labelBoxBotRight = 3
)

// Config defines the segmentation engine parameters
type Config struct {
	// OnnxRuntimeLibPath is the path of the onnxruntime shared library.
	// Defaults to the per platform location when empty.
	OnnxRuntimeLibPath string
	// EncoderFile is the image encoder model filename resolved relative
	// to the directory given to Load
	EncoderFile string
	// DecoderFile is the prompt encoder and mask decoder model filename
	// resolved relative to the directory given to Load
	DecoderFile string
	// NumThreads is the ONNX intra-op thread count, 0 leaves the
	// runtime default
	NumThreads int
	// Device is the compute device to bind the models to
	Device autolabel.Device
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		EncoderFile: "vision_encoder.onnx",
		DecoderFile: "prompt_encoder_mask_decoder.onnx",
		Device:      autolabel.DeviceCPU,
	}
}
