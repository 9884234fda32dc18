package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	maxConfigSize = 10 << 20 // 10MB max config file size
	maxPathLen    = 4096
)

var allowedExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
}

// validateConfigPath rejects paths that escape through parent references,
// unsupported formats and oversized files.
func validateConfigPath(fs afero.Fs, path string) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return fmt.Errorf("unsupported config format %q: %s", ext, path)
	}

	info, err := fs.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path is a directory: %s", path)
	}
	if info.Size() > maxConfigSize {
		return fmt.Errorf("config file too large: %d > %d", info.Size(), maxConfigSize)
	}
	return nil
}
