// Package procrun runs external CLI processes with a working directory, a hard
// timeout and a bounded output buffer.
package procrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"bountyline/internal/logging"
)

// Command describes one process invocation. Env entries are appended to the
// inherited environment.
type Command struct {
	Name      string
	Args      []string
	Dir       string
	Timeout   time.Duration
	MaxOutput int
	Env       []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type Output struct {
	Stdout string
	Stderr string
}

// Runner executes a command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

var (
	ErrTimeout        = errors.New("process timed out")
	ErrOutputOverflow = errors.New("process output exceeded limit")
)

// ExitError reports a non-zero exit; Stderr carries the captured stream.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, msg)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct {
	Logger *slog.Logger
}

func (r ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	if c.Name == "" {
		return Output{}, fmt.Errorf("empty command")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	// Overflowing either stream kills the process.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = time.Second

	stdout := &cappedBuffer{limit: c.MaxOutput, onOverflow: stop}
	stderr := &cappedBuffer{limit: c.MaxOutput, onOverflow: stop}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	logging.OrDefault(r.Logger).Debug("process finished",
		"command", c.Name, "dir", c.Dir, "duration", time.Since(start), "err", err)

	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%s: %w after %s", c.Name, ErrTimeout, c.Timeout)
	}
	if stdout.overflowed() || stderr.overflowed() {
		return out, fmt.Errorf("%s: %w (%d bytes)", c.Name, ErrOutputOverflow, c.MaxOutput)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{Command: c.Name, ExitCode: exitErr.ExitCode(), Stderr: out.Stderr}
		}
		return out, fmt.Errorf("run %s: %w", c.Name, err)
	}
	return out, nil
}

// cappedBuffer keeps at most limit bytes and records whether more arrived.
// A non-positive limit means unbounded.
type cappedBuffer struct {
	mu         sync.Mutex
	buf        []byte
	limit      int
	overflow   bool
	onOverflow func()
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		b.buf = append(b.buf, p...)
		return len(p), nil
	}
	room := b.limit - len(b.buf)
	if room < len(p) {
		if !b.overflow && b.onOverflow != nil {
			b.onOverflow()
		}
		b.overflow = true
		if room > 0 {
			b.buf = append(b.buf, p[:room]...)
		}
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
