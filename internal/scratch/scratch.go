// Package scratch tracks temporary resources created during a run and
// guarantees their release on every exit path. Cleanup is mandatory, not
// best effort: Release reports every failure it hit.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Tracker owns the scratch files, directories and other disposables of
// one run. Resources are released in reverse registration order, so a
// mount registered after its mount point is torn down first.
type Tracker struct {
	mu       sync.Mutex
	cleanups []func() error
	released bool
}

// Register adds a cleanup step. Registering after Release runs the step
// immediately, so late registrations cannot leak.
func (t *Tracker) Register(fn func() error) {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		if err := fn(); err != nil {
			logrus.Warnf("late scratch cleanup failed: %v", err)
		}
		return
	}
	t.cleanups = append(t.cleanups, fn)
	t.mu.Unlock()
}

// Dir creates a tracked temporary directory.
func (t *Tracker) Dir(pattern string) (string, error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("cannot create scratch directory: %w", err)
	}
	t.Register(func() error {
		return os.RemoveAll(dir)
	})
	return dir, nil
}

// File creates a tracked temporary file and returns its path. The file
// is closed; callers reopen it as needed.
func (t *Tracker) File(pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("cannot create scratch file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	t.Register(func() error {
		err := os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	})
	return path, nil
}

// Release runs all registered cleanups in reverse order. It is safe to
// call more than once; later calls are no-ops.
func (t *Tracker) Release() error {
	t.mu.Lock()
	cleanups := t.cleanups
	t.cleanups = nil
	alreadyReleased := t.released
	t.released = true
	t.mu.Unlock()

	if alreadyReleased {
		return nil
	}

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			logrus.Warnf("scratch cleanup failed: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
