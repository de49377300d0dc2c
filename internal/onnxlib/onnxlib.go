// Package onnxlib locates the ONNX Runtime shared library and initializes
// the process-wide runtime environment shared by every inference session.
// With the embed_onnx build tag the library is bundled into the binary and
// extracted to a temporary directory on first use.
package onnxlib

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

var (
	mu          sync.Mutex
	initialized bool
	extractDir  string
)

// Extract writes the embedded ONNX Runtime shared library to a temporary
// directory and returns its full path.
func Extract() (string, error) {
	if len(libraryData) == 0 {
		return "", fmt.Errorf("no embedded ONNX Runtime library for this platform")
	}

	dir, err := os.MkdirTemp("", "tagsort-onnxrt-*")
	if err != nil {
		return "", fmt.Errorf("cannot create temp dir: %w", err)
	}

	libPath := filepath.Join(dir, libraryName)
	if err := os.WriteFile(libPath, libraryData, 0755); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("cannot write library: %w", err)
	}
	extractDir = dir
	return libPath, nil
}

// ResolvePath picks the library to load: explicitPath if set, then the
// embedded copy, then the platform's usual install location.
func ResolvePath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	if extracted, err := Extract(); err == nil {
		return extracted
	}
	return DefaultPath()
}

// DefaultPath is where package managers usually install ONNX Runtime.
func DefaultPath() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "/opt/homebrew/lib/libonnxruntime.dylib"
		}
		return "/usr/local/lib/libonnxruntime.dylib"
	case "linux":
		return "/usr/lib/libonnxruntime.so"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// Init loads the runtime once per process. Later calls are no-ops until
// Destroy is called. A failed attempt may be retried.
func Init(explicitPath string) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}

	path := ResolvePath(explicitPath)
	klog.V(1).Infof("loading ONNX Runtime from %s", path)
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("cannot initialize ONNX Runtime: %w", err)
	}
	initialized = true
	return nil
}

// Destroy tears down the runtime environment and removes any extracted
// library.
func Destroy() {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		klog.Warningf("destroy ONNX Runtime: %v", err)
	}
	if extractDir != "" {
		os.RemoveAll(extractDir)
		extractDir = ""
	}
	initialized = false
}
