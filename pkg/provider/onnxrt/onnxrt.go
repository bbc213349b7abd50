// Package onnxrt owns process-wide ONNX Runtime initialization shared by the
// ONNX-backed model providers.
package onnxrt

import (
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// EnsureEnvironment initializes the ONNX Runtime environment exactly once per
// process. Multiple providers loading concurrently would otherwise trigger
// duplicate schema registration.
//
// The shared library location can be overridden with the ONNXRUNTIME_LIB
// environment variable; on macOS the Homebrew install path is the fallback.
func EnsureEnvironment() error {
	initOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}
