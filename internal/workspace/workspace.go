package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDir is the working directory used when none is given.
const DefaultDir = "."

// Resolve returns the absolute form of dir and checks that it is an existing
// directory. An empty dir means DefaultDir. The agent is launched inside this
// directory, so the check runs before any process is spawned.
func Resolve(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory check failed: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory must be a directory: %s", abs)
	}

	return abs, nil
}
