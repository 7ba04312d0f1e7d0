// Package pid keeps a single battstat watcher running per host.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/logger"
)

const (
	pidFile = "battstat.pid"
)

type File struct {
	path string
}

// New returns a PID file in dir. An empty dir selects the system temp
// directory.
func New(dir string) *File {
	if dir == "" {
		dir = os.TempDir()
	}
	return &File{path: filepath.Join(dir, pidFile)}
}

func (f *File) Path() string {
	return f.path
}

// Write records the current process ID. It fails with ErrAlreadyRunning
// when the recorded process is still alive. Unreadable or stale files are
// replaced.
func (f *File) Write() error {
	errFactory := errors.New()

	if owner, ok := f.owner(); ok {
		process, err := os.FindProcess(owner)
		if err == nil && process.Signal(syscall.Signal(0)) == nil {
			return errFactory.WithData(errors.ErrAlreadyRunning, owner)
		}
		logger.Debug().Int("pid", owner).Str("path", f.path).Msg("Replacing stale PID file")
	}

	err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func (f *File) owner() (int, bool) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return 0, false
	}

	owner, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || owner <= 0 {
		return 0, false
	}

	return owner, true
}
