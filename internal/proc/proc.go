// Package proc runs external tools (ffmpeg, ffprobe) as subprocesses with a
// bounded stderr tail for diagnostics.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const (
	MaxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Result is the structured outcome of executing a subprocess.
type Result struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     []byte        `json:"-"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r Result) IsSuccess() bool { return r.ExitCode == 0 }

// Err converts a failed Result into an error carrying the stderr tail.
func (r Result) Err(name string) error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%s exited %d: %s", name, r.ExitCode, Truncate(r.StderrTail, 512))
}

// Run executes bin with args, capturing stdout and a bounded stderr tail.
// maxStdout caps the captured stdout; 0 discards it.
func Run(ctx context.Context, logger *slog.Logger, bin string, maxStdout int, args ...string) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	var stderrBuf, stdoutBuf bytes.Buffer
	cmd.Stderr = NewTailWriter(&stderrBuf, MaxStderrBytes)
	if maxStdout > 0 {
		cmd.Stdout = &headWriter{w: &stdoutBuf, limit: maxStdout}
	} else {
		cmd.Stdout = io.Discard
	}

	if logger != nil {
		logger.Debug("executing command", "bin", bin, "args", args)
	}

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			if stderrBuf.Len() == 0 {
				stderrBuf.WriteString(err.Error())
			}
		}
	}

	stderrTail := stderrBuf.String()

	if logger != nil && exitCode != 0 {
		logger.Warn("command failed",
			"bin", bin,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", Truncate(stderrTail, 512),
		)
	}

	return Result{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.Bytes(),
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// Truncate keeps the last maxLen bytes of s.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// TailWriter is an io.Writer that keeps only the last `limit` bytes.
type TailWriter struct {
	w     *bytes.Buffer
	limit int
}

// NewTailWriter wraps buf, trimming it to the last limit bytes on every write.
func NewTailWriter(buf *bytes.Buffer, limit int) *TailWriter {
	return &TailWriter{w: buf, limit: limit}
}

func (lw *TailWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}

// String returns the retained tail.
func (lw *TailWriter) String() string { return lw.w.String() }

// headWriter keeps the first `limit` bytes and silently drops the rest.
type headWriter struct {
	w     *bytes.Buffer
	limit int
}

func (hw *headWriter) Write(p []byte) (int, error) {
	if room := hw.limit - hw.w.Len(); room > 0 {
		if len(p) > room {
			hw.w.Write(p[:room])
		} else {
			hw.w.Write(p)
		}
	}
	return len(p), nil
}
