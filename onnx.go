package autolabel

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitErr  error
	ortInitOnce sync.Once
)

// InitRuntime initializes the shared ONNX Runtime environment from the
// given onnxruntime library file.  The first call wins, subsequent calls
// return the result of the initial initialization.  Engines call this
// from Load so applications normally do not need to call it directly.
func InitRuntime(libPath string) error {

	if libPath == "" {
		libPath = DefaultLibraryPath()
	}

	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})

	if ortInitErr != nil {
		return fmt.Errorf("error initializing ONNX Runtime from %s: %w",
			libPath, ortInitErr)
	}

	return nil
}

// DefaultLibraryPath returns the expected location of the onnxruntime
// shared library for the current OS and architecture
func DefaultLibraryPath() string {

	const baseDir = "./lib/"
	const libName = "onnxruntime"

	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string

	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so"
	}

	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}

// NewSessionOptions builds the ONNX session options for the requested
// device.  When the accelerator's execution provider cannot be created
// it falls back to CPU and emits a warning on the progress channel
// rather than failing the load.  The device actually bound is returned.
func NewSessionOptions(device Device, numThreads int,
	n *Notifier) (*ort.SessionOptions, Device, error) {

	options, err := ort.NewSessionOptions()

	if err != nil {
		return nil, DeviceCPU, fmt.Errorf("error creating session options: %w", err)
	}

	if numThreads > 0 {
		if err := options.SetIntraOpNumThreads(numThreads); err != nil {
			options.Destroy()
			return nil, DeviceCPU, fmt.Errorf("error setting thread count: %w", err)
		}
	}

	bound := device

	switch device {
	case DeviceCUDA:
		if err := appendCUDA(options); err != nil {
			n.Progress(0, fmt.Sprintf(
				"cuda unavailable (%v), falling back to cpu", err))
			bound = DeviceCPU
		}

	case DeviceMPS:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			n.Progress(0, fmt.Sprintf(
				"coreml unavailable (%v), falling back to cpu", err))
			bound = DeviceCPU
		}
	}

	return options, bound, nil
}

// appendCUDA adds the CUDA execution provider to the session options
func appendCUDA(options *ort.SessionOptions) error {

	cudaOptions, err := ort.NewCUDAProviderOptions()

	if err != nil {
		return fmt.Errorf("error creating CUDA provider options: %w", err)
	}

	defer cudaOptions.Destroy()

	return options.AppendExecutionProviderCUDA(cudaOptions)
}
