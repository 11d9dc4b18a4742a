package procrun

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerCapturesOutputInDir(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	out, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "pwd; echo oops >&2"},
		Dir:  dir,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out.Stdout), strings.TrimPrefix(dir, "/private")) {
		t.Fatalf("stdout = %q, want dir %q", out.Stdout, dir)
	}
	if strings.TrimSpace(out.Stderr) != "oops" {
		t.Fatalf("stderr = %q", out.Stderr)
	}
}

func TestExecRunnerInheritsEnvironment(t *testing.T) {
	requireShell(t)
	t.Setenv("BOUNTYLINE_PROC_TEST", "inherited")
	out, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $BOUNTYLINE_PROC_TEST $EXTRA"},
		Env:  []string{"EXTRA=added"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "inherited added" {
		t.Fatalf("stdout = %q", out.Stdout)
	}
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	requireShell(t)
	_, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
	})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.ExitCode != 3 || !strings.Contains(exitErr.Error(), "boom") {
		t.Fatalf("exit error = %v", exitErr)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	requireShell(t)
	_, err := ExecRunner{}.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: 50 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestExecRunnerOutputLimit(t *testing.T) {
	requireShell(t)
	out, err := ExecRunner{}.Run(context.Background(), Command{
		Name:      "sh",
		Args:      []string{"-c", "echo 0123456789"},
		MaxOutput: 4,
	})
	if !errors.Is(err, ErrOutputOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if out.Stdout != "0123" {
		t.Fatalf("stdout = %q", out.Stdout)
	}
}

func TestExecRunnerOutputLimitKillsProcess(t *testing.T) {
	requireShell(t)
	start := time.Now()
	out, err := ExecRunner{}.Run(context.Background(), Command{
		Name:      "sh",
		Args:      []string{"-c", "echo 0123456789; exec sleep 5"},
		Timeout:   10 * time.Second,
		MaxOutput: 4,
	})
	if !errors.Is(err, ErrOutputOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("process kept running for %s after overflow", elapsed)
	}
	if out.Stdout != "0123" {
		t.Fatalf("stdout = %q", out.Stdout)
	}
}

func TestCappedBufferReportsOverflowOnce(t *testing.T) {
	calls := 0
	b := &cappedBuffer{limit: 2, onOverflow: func() { calls++ }}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("def"))
	if b.String() != "ab" || !b.overflowed() || calls != 1 {
		t.Fatalf("buffer = %q overflow=%v calls=%d", b.String(), b.overflow, calls)
	}
}

func TestCappedBufferUnbounded(t *testing.T) {
	b := &cappedBuffer{}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("def"))
	if b.String() != "abcdef" || b.overflow {
		t.Fatalf("buffer = %q overflow=%v", b.String(), b.overflow)
	}
}

func TestExecRunnerRejectsEmptyCommand(t *testing.T) {
	if _, err := (ExecRunner{}).Run(context.Background(), Command{}); err == nil {
		t.Fatal("expected error")
	}
}
