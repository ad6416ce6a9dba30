package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked reports that another run holds the run lock.
var ErrLocked = errors.New("another run is in progress")

// acquireLock takes the single-run lock without waiting.
func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, path)
	}
	return lock, nil
}
