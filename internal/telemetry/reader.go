// Package telemetry reads scalar battery counters from sysfs-style
// pseudo-files and captures the output of diagnostic commands.
//
// Every failure collapses to "absent": callers get a value and a presence
// flag, never an error. Failures are logged at debug level with their code.
package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/logger"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

const (
	DefaultCommandTimeout = 300 * time.Millisecond

	// waitDelay bounds how long a timed out command may keep its output
	// pipe open through orphaned children.
	waitDelay    = 50 * time.Millisecond
	globMeta     = "*?[{"
)

// Sample is one raw read: the resolved source, its value and whether the
// read succeeded.
type Sample struct {
	Source  string  `json:"source"`
	Value   float64 `json:"value"`
	Present bool    `json:"present"`
}

type Reader struct {
	fs      afero.Fs
	globFS  afero.IOFS
	timeout time.Duration
}

// NewReader returns a Reader over fs. Source paths are absolute paths in fs.
// A non-positive timeout selects DefaultCommandTimeout.
func NewReader(fs afero.Fs, timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	return &Reader{
		fs:      fs,
		globFS:  afero.NewIOFS(afero.NewBasePathFs(fs, "/")),
		timeout: timeout,
	}
}

// NewOSReader returns a Reader over the host filesystem.
func NewOSReader(timeout time.Duration) *Reader {
	return NewReader(afero.NewOsFs(), timeout)
}

// ReadNumericSource reads the first line of path as a number.
func (r *Reader) ReadNumericSource(path string) (float64, bool) {
	v, err := r.readNumeric(path)
	if err != nil {
		if e, ok := err.(errors.Error); ok {
			logger.DebugWithCode(e).Str("source", path).Msg("Telemetry source skipped")
		}
		return 0, false
	}

	return v, true
}

// ReadFirst tries each candidate in order and returns the first present
// value. Candidates containing glob metacharacters are expanded, and the
// matches tried in lexical order.
func (r *Reader) ReadFirst(paths []string) Sample {
	for _, p := range paths {
		for _, candidate := range r.expand(p) {
			if v, ok := r.ReadNumericSource(candidate); ok {
				return Sample{Source: candidate, Value: v, Present: true}
			}
		}
	}

	s := Sample{}
	if len(paths) > 0 {
		s.Source = paths[0]
	}

	return s
}

// ReadCommandOutput runs command through sh and returns its standard
// output, each line terminated by a newline. A non-zero exit status is not a
// failure. Spawn errors, timeouts and an empty command are.
func (r *Reader) ReadCommandOutput(ctx context.Context, command string) (string, bool) {
	errFactory := errors.New()

	if strings.TrimSpace(command) == "" {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.DebugWithCode(errFactory.Wrap(errors.ErrTimeout, ctxErr)).
			Str("command", command).
			Dur("timeout", r.timeout).
			Msg("Diagnostic command abandoned")
		return "", false
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			logger.DebugWithCode(errFactory.Wrap(errors.ErrCommandFailed, err)).
				Str("command", command).
				Msg("Diagnostic command failed to start")
			return "", false
		}
		logger.Debug().
			Str("command", command).
			Int("exit_code", exitErr.ExitCode()).
			Msg("Diagnostic command exited non-zero")
	}

	return joinLines(stdout.String()), true
}

func (r *Reader) readNumeric(path string) (float64, error) {
	errFactory := errors.New()

	f, err := r.fs.Open(path)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrSourceUnavailable, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, errFactory.Wrap(errors.ErrSourceUnavailable, err)
	}
	if line == "" {
		return 0, errFactory.WithData(errors.ErrSourceUnavailable, "empty file")
	}

	v, ok := ParseNumeric(line)
	if !ok {
		return 0, errFactory.WithData(errors.ErrParseFailed, strings.TrimSpace(line))
	}

	return v, nil
}

// ParseNumeric parses s as a finite float. If the trimmed text does not
// parse, every character other than a digit, '.' or '-' is stripped and the
// parse retried once.
func ParseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil && isFinite(v) {
		return v, true
	}

	stripped := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if stripped == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(stripped, 64)
	if err != nil || !isFinite(v) {
		return 0, false
	}

	return v, true
}

func (r *Reader) expand(pattern string) []string {
	if !strings.ContainsAny(pattern, globMeta) {
		return []string{pattern}
	}

	matches, err := doublestar.Glob(r.globFS, strings.TrimPrefix(pattern, "/"))
	if err != nil {
		logger.DebugWithCode(errors.New().Wrap(errors.ErrInvalidArgument, err)).
			Str("pattern", pattern).
			Msg("Invalid source pattern")
		return nil
	}

	sort.Strings(matches)
	for i, m := range matches {
		matches[i] = "/" + m
	}

	return matches
}

// joinLines terminates every line of out with a single "\n", dropping a
// trailing "\r" from each.
func joinLines(out string) string {
	if out == "" {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(out) + 1)
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		sb.WriteString(strings.TrimSuffix(line, "\r"))
		sb.WriteByte('\n')
	}

	return sb.String()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
