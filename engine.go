package autolabel

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Device identifies the compute device an engine binds its model to
type Device int

const (
	// DeviceCPU runs inference on the CPU
	DeviceCPU Device = iota
	// DeviceCUDA runs inference on an NVIDIA GPU via the CUDA execution
	// provider
	DeviceCUDA
	// DeviceMPS runs inference on Apple silicon via the CoreML execution
	// provider
	DeviceMPS
)

// String returns a readable name for the device
func (d Device) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda"
	case DeviceMPS:
		return "mps"
	default:
		return fmt.Sprintf("unknown device %d", int(d))
	}
}

// ParseDevice converts a device name as used in configuration files to
// a Device value
func ParseDevice(name string) (Device, error) {
	switch name {
	case "", "cpu":
		return DeviceCPU, nil
	case "cuda", "gpu":
		return DeviceCUDA, nil
	case "mps", "coreml":
		return DeviceMPS, nil
	default:
		return DeviceCPU, fmt.Errorf("unknown device %q", name)
	}
}

// LoadState is the lifecycle state of an engine's model
type LoadState int

const (
	// StateUnloaded means no model is bound
	StateUnloaded LoadState = iota
	// StateLoading means weights are being acquired and bound
	StateLoading
	// StateLoaded means the engine is ready for prediction
	StateLoaded
	// StateFailed means the last Load attempt failed.  Load may be
	// retried from this state
	StateFailed
)

// String returns a readable name for the load state
func (s LoadState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

// Engine is the lifecycle contract shared by every loadable model so the
// Orchestrator can treat detection and segmentation engines uniformly.
// Predict style calls are only valid once Load has succeeded.
type Engine interface {
	// Load acquires model weights from path and binds them to the
	// requested device, falling back to CPU with a progress channel
	// warning when the accelerator is unavailable.  Safe to call again
	// after a prior failure.
	Load(path string, device Device) error
	// Unload releases the model and returns the engine to the unloaded
	// state
	Unload() error
	// IsLoaded reports whether the engine is ready for prediction
	IsLoaded() bool
	// State returns the current lifecycle state
	State() LoadState
	// SetNotifier attaches the observer callbacks used for progress and
	// error notifications during Load and predict calls
	SetNotifier(n *Notifier)
}

// ModelHandle represents one loaded model.  It owns the ONNX sessions
// exclusively and releases them on Unload or on a failed Load.  Engine
// implementations embed a ModelHandle to satisfy the lifecycle half of
// the Engine contract.
type ModelHandle struct {
	mu       sync.Mutex
	device   Device
	state    LoadState
	sessions []*ort.DynamicAdvancedSession
}

// NewModelHandle returns a handle in the unloaded state
func NewModelHandle() *ModelHandle {
	return &ModelHandle{
		state: StateUnloaded,
	}
}

// State returns the current lifecycle state
func (h *ModelHandle) State() LoadState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState transitions the handle to the given lifecycle state
func (h *ModelHandle) SetState(s LoadState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// IsLoaded reports whether the handle holds a loaded model
func (h *ModelHandle) IsLoaded() bool {
	return h.State() == StateLoaded
}

// Device returns the device the model is bound to
func (h *ModelHandle) Device() Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device
}

// SetDevice records the device the model was bound to.  This may differ
// from the requested device after a CPU fallback
func (h *ModelHandle) SetDevice(d Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.device = d
}

// Attach takes ownership of an ONNX session so it is destroyed when the
// handle is released
func (h *ModelHandle) Attach(s *ort.DynamicAdvancedSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, s)
}

// Release destroys all owned sessions and resets the handle to the
// unloaded state.  Calling Release on an unloaded handle is a no-op.
func (h *ModelHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error

	for _, s := range h.sessions {
		if s == nil {
			continue
		}

		if err := s.Destroy(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error destroying session: %w", err)
		}
	}

	h.sessions = nil
	h.state = StateUnloaded

	return firstErr
}
