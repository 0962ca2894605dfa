// Package toolexec runs external tools (yt-dlp, ffmpeg) with line-by-line
// output streaming and a bounded output tail for diagnostics.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/forPelevin/ytclipper/internal/types"
)

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

const (
	maxTailLines = 200
	// waitDelay bounds how long output copying may outlive a killed process
	// whose children still hold the pipes.
	waitDelay = 5 * time.Second
)

// Cmd describes one invocation.
type Cmd struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// Line, if set, receives every output line as it arrives.
	Line func(stream Stream, line string)
}

// Runner executes commands. Adapters depend on it so tests can script tool
// behavior without binaries.
type Runner interface {
	Run(ctx context.Context, c Cmd) (string, error)
}

// Error is a failed invocation with its exit code and output tail.
type Error struct {
	Tool     string
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Tool, e.Err, out)
}

func (e *Error) Unwrap() error { return e.Err }

// Exec is the real Runner.
type Exec struct{}

func (Exec) Run(ctx context.Context, c Cmd) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	tail := &tailBuffer{max: maxTailLines}
	stdout := &lineWriter{stream: StreamStdout, tail: tail, line: c.Line}
	stderr := &lineWriter{stream: StreamStderr, tail: tail, line: c.Line}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return "", &Error{Tool: c.Path, ExitCode: -1, Err: fmt.Errorf("start: %w", err)}
	}
	waitErr := cmd.Wait()
	stdout.flush()
	stderr.flush()
	out := tail.String()
	if waitErr == nil {
		return out, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		waitErr = fmt.Errorf("timed out after %s: %w", c.Timeout, ctx.Err())
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	return out, &Error{Tool: c.Path, ExitCode: code, Output: out, Err: waitErr}
}

// ExitCode maps an error to a process-style return code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var te *Error
	if errors.As(err, &te) && te.ExitCode > 0 {
		return te.ExitCode
	}
	return 1
}

// Result normalizes an invocation outcome to {success, output, returncode}.
func Result(out string, err error) types.StageResult {
	if err == nil {
		return types.StageResult{Success: true, Output: out}
	}
	output := strings.TrimSpace(out)
	var te *Error
	switch {
	case output == "":
		output = err.Error()
	case !errors.As(err, &te):
		output += "\n" + err.Error()
	}
	return types.StageResult{Success: false, Output: output, ReturnCode: ExitCode(err)}
}

type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

// lineWriter splits written bytes on LF or CR (progress bars redraw with CR)
// and forwards complete lines.
type lineWriter struct {
	mu     sync.Mutex
	stream Stream
	tail   *tailBuffer
	line   func(Stream, string)
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		if i > 0 {
			w.emit(string(w.buf[:i]))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) emit(line string) {
	w.tail.add(line)
	if w.line != nil {
		w.line(w.stream, line)
	}
}
