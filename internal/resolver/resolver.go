// Package resolver locates model files on disk for the engine. Downloading
// is owned by the host application; this package only validates presence and
// resolves paths.
package resolver

import (
	"context"
	"fmt"

	"coachlm/pkg/types"
)

// ProgressFunc reports download progress as bytes done out of total.
type ProgressFunc func(done, total int64)

// Resolver validates and produces on-disk paths for a configured model.
type Resolver interface {
	// IsDownloaded reports whether the model file is present and non-empty.
	IsDownloaded(cfg types.ModelConfig) bool
	// ModelPath returns the absolute path to the model file, or an error
	// when it is absent.
	ModelPath(cfg types.ModelConfig) (string, error)
	// Download fetches the model file, reporting progress when the
	// callback is non-nil.
	Download(ctx context.Context, cfg types.ModelConfig, progress ProgressFunc) error
}

// ErrNotDownloaded marks a model file that is not present on disk.
type ErrNotDownloaded struct {
	Name string
	Path string
}

func (e ErrNotDownloaded) Error() string {
	return fmt.Sprintf("model %s not downloaded (expected at %s)", e.Name, e.Path)
}

// IsNotDownloaded reports whether err indicates a missing model file.
func IsNotDownloaded(err error) bool {
	_, ok := err.(ErrNotDownloaded)
	return ok
}
