package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coachlm/pkg/types"
)

// Dir resolves models against a single directory of *.gguf files. The model
// named in ModelConfig maps to <dir>/<name>.gguf.
type Dir struct {
	dir string
}

// NewDir builds a directory resolver. A leading '~' in dir is expanded.
func NewDir(dir string) (*Dir, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	return &Dir{dir: abs}, nil
}

func (d *Dir) path(cfg types.ModelConfig) string {
	name := cfg.Name
	if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
		name += ".gguf"
	}
	return filepath.Join(d.dir, name)
}

func (d *Dir) IsDownloaded(cfg types.ModelConfig) bool {
	fi, err := os.Stat(d.path(cfg))
	return err == nil && !fi.IsDir() && fi.Size() > 0
}

func (d *Dir) ModelPath(cfg types.ModelConfig) (string, error) {
	p := d.path(cfg)
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() || fi.Size() == 0 {
		return "", ErrNotDownloaded{Name: cfg.Name, Path: p}
	}
	return p, nil
}

// Download is not implemented here: model transport belongs to the host
// application, which places finished files into the models directory.
func (d *Dir) Download(ctx context.Context, cfg types.ModelConfig, progress ProgressFunc) error {
	return ErrNotDownloaded{Name: cfg.Name, Path: d.path(cfg)}
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// Scan lists the *.gguf files present in the models directory.
func (d *Dir) Scan() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".gguf") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
