package tools_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline/tools"
)

func shell(dir, script string) pipeline.Invocation {
	return pipeline.Invocation{Node: "n", Index: -1, Command: "sh", Args: []string{"-c", script}, Dir: dir}
}

func TestExecRunner_Stdout(t *testing.T) {
	t.Parallel()
	r := &tools.ExecRunner{}
	out, err := r.Run(t.Context(), shell(t.TempDir(), "echo hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(out.Stdout); got != "hello" {
		t.Errorf("stdout = %q, want hello", got)
	}
	if out.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", out.ExitCode)
	}
}

func TestExecRunner_ExitCodeIsNotAnError(t *testing.T) {
	t.Parallel()
	r := &tools.ExecRunner{}
	out, err := r.Run(t.Context(), shell(t.TempDir(), "echo broken >&2; exit 3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", out.ExitCode)
	}
	if got := strings.TrimSpace(out.Stderr); got != "broken" {
		t.Errorf("stderr = %q, want broken", got)
	}
}

func TestExecRunner_WorkingDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := (&tools.ExecRunner{}).Run(t.Context(), shell(dir, "touch marker")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); err != nil {
		t.Errorf("command did not run in %s: %v", dir, err)
	}
}

func TestExecRunner_Env(t *testing.T) {
	t.Parallel()
	r := &tools.ExecRunner{Env: []string{"SCT_FLOW_TEST=42"}}
	out, err := r.Run(t.Context(), shell(t.TempDir(), "echo $SCT_FLOW_TEST"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(out.Stdout); got != "42" {
		t.Errorf("stdout = %q, want 42", got)
	}
}

func TestExecRunner_TailsLongOutput(t *testing.T) {
	t.Parallel()
	out, err := (&tools.ExecRunner{}).Run(t.Context(), shell(t.TempDir(), "i=0; while [ $i -lt 1000 ]; do echo line-$i; i=$((i+1)); done"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Stdout) != 4096 {
		t.Errorf("stdout length = %d, want 4096", len(out.Stdout))
	}
	if !strings.HasSuffix(out.Stdout, "line-999\n") {
		t.Errorf("tail lost the last line: %q", out.Stdout[len(out.Stdout)-20:])
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	t.Parallel()
	r := &tools.ExecRunner{Timeout: 100 * time.Millisecond}
	start := time.Now()
	out, err := r.Run(t.Context(), shell(t.TempDir(), "exec sleep 5"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if out.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", out.ExitCode)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not stop the command")
	}
}

func TestExecRunner_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := (&tools.ExecRunner{}).Run(ctx, shell(t.TempDir(), "exec sleep 5"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExecRunner_Errors(t *testing.T) {
	t.Parallel()
	r := &tools.ExecRunner{}
	if _, err := r.Run(t.Context(), pipeline.Invocation{Node: "n"}); err == nil {
		t.Error("empty command: want error")
	}
	if _, err := r.Run(t.Context(), pipeline.Invocation{Node: "n", Command: "sct_definitely_not_installed", Dir: t.TempDir()}); err == nil {
		t.Error("missing binary: want error")
	}
}
