package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, data string) string {

	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("error writing config file: %v", err)
	}

	return path
}

func TestLoadConfigDefaults(t *testing.T) {

	path := writeConfig(t, `
detect:
  model: /models/detector.onnx
segment:
  model: /models/sam
`)

	cfg, err := LoadConfig(path)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cfg.validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	if cfg.Annotate.ConfidenceThreshold != 0.25 {
		t.Errorf("expected default threshold of 0.25, got %f",
			cfg.Annotate.ConfidenceThreshold)
	}

	if !*cfg.Annotate.UseCache {
		t.Errorf("expected caching enabled by default")
	}

	if cfg.Output.Dir != "annotations" {
		t.Errorf("expected default output dir, got %q", cfg.Output.Dir)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Log.Level)
	}

	if cfg.Output.PolygonExpand != 1.5 {
		t.Errorf("expected default polygon expand of 1.5, got %f",
			cfg.Output.PolygonExpand)
	}
}

func TestLoadConfigOverrides(t *testing.T) {

	path := writeConfig(t, `
detect:
  model: /models/detector.onnx
  device: cuda
segment:
  model: /models/sam
annotate:
  prompt: person, car
  confidence_threshold: 0.4
  use_cache: false
log:
  level: debug
`)

	cfg, err := LoadConfig(path)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Detect.Device != "cuda" {
		t.Errorf("expected device cuda, got %q", cfg.Detect.Device)
	}

	if cfg.Annotate.Prompt != "person, car" {
		t.Errorf("expected prompt retained, got %q", cfg.Annotate.Prompt)
	}

	if cfg.Annotate.ConfidenceThreshold != 0.4 {
		t.Errorf("expected threshold of 0.4, got %f",
			cfg.Annotate.ConfidenceThreshold)
	}

	if *cfg.Annotate.UseCache {
		t.Errorf("expected caching disabled")
	}
}

func TestValidateMissingModels(t *testing.T) {

	path := writeConfig(t, "log:\n  level: info\n")

	cfg, err := LoadConfig(path)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cfg.validate(); err == nil {
		t.Errorf("expected validation error for missing model paths")
	}
}

func TestCollectImages(t *testing.T) {

	dir := t.TempDir()

	for _, name := range []string{"a.jpg", "b.PNG", "notes.txt", "c.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("error writing file: %v", err)
		}
	}

	paths, err := collectImages(dir)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(paths) != 3 {
		t.Errorf("expected 3 images, got %d: %v", len(paths), paths)
	}

	// a single file passes through untouched
	single := filepath.Join(dir, "a.jpg")
	paths, err = collectImages(single)

	if err != nil || len(paths) != 1 || paths[0] != single {
		t.Errorf("expected single file passthrough, got %v, %v", paths, err)
	}
}
