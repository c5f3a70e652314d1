package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the annotator runtime configuration loaded from a YAML file
type Config struct {
	// Onnx holds the runtime library location shared by both engines
	Onnx struct {
		// LibraryPath overrides the default ONNX Runtime shared library
		// location
		LibraryPath string `yaml:"library_path"`
	} `yaml:"onnx"`

	Detect struct {
		// Model is the detection model file
		Model string `yaml:"model"`
		// Vocab is the tokenizer vocabulary file, defaults to vocab.txt
		// next to the model
		Vocab string `yaml:"vocab"`
		// Device selects cpu, cuda, or mps
		Device string `yaml:"device"`
	} `yaml:"detect"`

	Segment struct {
		// Model is the directory holding the encoder and decoder files
		Model string `yaml:"model"`
		// Device selects cpu, cuda, or mps
		Device string `yaml:"device"`
	} `yaml:"segment"`

	Annotate struct {
		// Prompt is the comma separated class list to detect
		Prompt string `yaml:"prompt"`
		// ConfidenceThreshold drops detections scoring below it
		ConfidenceThreshold float32 `yaml:"confidence_threshold"`
		// UseCache reuses results for repeated image/prompt pairs
		UseCache *bool `yaml:"use_cache"`
	} `yaml:"annotate"`

	Output struct {
		// Dir receives annotation JSON files and previews
		Dir string `yaml:"dir"`
		// Previews enables rendering annotated preview images
		Previews bool `yaml:"previews"`
		// MaskAlpha is the preview overlay transparency
		MaskAlpha float32 `yaml:"mask_alpha"`
		// Font is an optional TTF font file used for preview labels in
		// place of the builtin Hershey fonts
		Font string `yaml:"font"`
		// FontSize is the preview label size when a TTF font is set
		FontSize float64 `yaml:"font_size"`
		// PolygonEpsilon scales mask to polygon simplification
		PolygonEpsilon float64 `yaml:"polygon_epsilon"`
		// PolygonExpand offsets exported polygon boundaries outwards to
		// compensate for masks sitting inside the true object edge.  A
		// negative value disables expansion.
		PolygonExpand float32 `yaml:"polygon_expand"`
	} `yaml:"output"`

	Log struct {
		// Level is the zerolog level name, defaults to info
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// LoadConfig reads the YAML configuration file and applies defaults
func LoadConfig(path string) (*Config, error) {

	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills unset fields with usable values
func (c *Config) applyDefaults() {

	if c.Annotate.ConfidenceThreshold == 0 {
		c.Annotate.ConfidenceThreshold = 0.25
	}

	if c.Annotate.UseCache == nil {
		useCache := true
		c.Annotate.UseCache = &useCache
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "annotations"
	}

	if c.Output.MaskAlpha == 0 {
		c.Output.MaskAlpha = 0.5
	}

	if c.Output.FontSize == 0 {
		c.Output.FontSize = 14
	}

	if c.Output.PolygonEpsilon == 0 {
		c.Output.PolygonEpsilon = 0.005
	}

	if c.Output.PolygonExpand == 0 {
		c.Output.PolygonExpand = 1.5
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks the required fields are present
func (c *Config) validate() error {

	if c.Detect.Model == "" {
		return fmt.Errorf("detect.model is required")
	}

	if c.Segment.Model == "" {
		return fmt.Errorf("segment.model is required")
	}

	return nil
}
