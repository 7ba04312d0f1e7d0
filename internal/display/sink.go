// Package display renders battery states and pushes them to sinks: a
// terminal, a status file or an HTTP endpoint.
package display

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/battstat/internal/battery"
	"codeberg.org/mutker/battstat/internal/errors"
	"github.com/fatih/color"
	"github.com/spf13/afero"
)

// Status is one rendered sample.
type Status struct {
	State battery.State
	Text  string
	Time  time.Time
}

// WriterSink prints one line per status.
type WriterSink struct {
	mu    sync.Mutex
	w     io.Writer
	fast  *color.Color
	plain *color.Color
}

// NewWriterSink returns a sink writing to w. With colored set, fast-charging
// lines are printed bold green regardless of terminal detection.
func NewWriterSink(w io.Writer, colored bool) *WriterSink {
	fast := color.New(color.Bold, color.FgGreen)
	plain := color.New(color.Reset)
	if colored {
		fast.EnableColor()
		plain.DisableColor()
	} else {
		fast.DisableColor()
		plain.DisableColor()
	}

	return &WriterSink{w: w, fast: fast, plain: plain}
}

func (s *WriterSink) Update(st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.plain
	if st.State.FastCharging {
		c = s.fast
	}

	if _, err := fmt.Fprintln(s.w, c.Sprint(st.Text)); err != nil {
		return errors.New().Wrap(errors.ErrSinkUpdate, err)
	}

	return nil
}

// FileSink keeps a file holding the latest status text. The file is
// replaced atomically so readers never see a partial write.
type FileSink struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

func NewFileSink(fs afero.Fs, path string) *FileSink {
	return &FileSink{fs: fs, path: path}
}

func (s *FileSink) Update(st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()
	dir := filepath.Dir(s.path)

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return errFactory.Wrap(errors.ErrSinkUpdate, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".battstat-*")
	if err != nil {
		return errFactory.Wrap(errors.ErrSinkUpdate, err)
	}

	if _, err := tmp.WriteString(st.Text + "\n"); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return errFactory.Wrap(errors.ErrSinkUpdate, err)
	}

	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return errFactory.Wrap(errors.ErrSinkUpdate, err)
	}

	if err := s.fs.Chmod(tmp.Name(), 0o644); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return errFactory.Wrap(errors.ErrSinkUpdate, err)
	}

	if err := s.fs.Rename(tmp.Name(), s.path); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return errFactory.Wrap(errors.ErrSinkUpdate, err)
	}

	return nil
}
