package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by FindUp when no directory up to the root contains the name.
var ErrNotFound = errors.New("not found")

// FindUp looks for name in dir and then in each of its parents, returning the first match's path.
func FindUp(name, dir string) (string, error) {
	curDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}
	for {
		p := filepath.Join(curDir, name)
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking %q: %w", p, err)
		}
		parent := filepath.Dir(curDir)
		if parent == curDir {
			return "", fmt.Errorf("%s in %s or any parent: %w", name, dir, ErrNotFound)
		}
		curDir = parent
	}
}
