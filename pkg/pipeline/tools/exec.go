package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// tailBytes bounds how much of each stream is kept in an Outcome.
const tailBytes = 4096

// ExecRunner starts tool binaries with os/exec in the invocation's working
// directory.
type ExecRunner struct {
	// Timeout bounds each invocation. Zero means no limit.
	Timeout time.Duration
	// Env is appended to the inherited environment.
	Env []string
}

// Run implements pipeline.Runner. A non-zero exit is reported in the
// Outcome; an error means the binary could not be started or was stopped
// by ctx.
func (r *ExecRunner) Run(ctx context.Context, inv pipeline.Invocation) (pipeline.Outcome, error) {
	if inv.Command == "" {
		return pipeline.Outcome{}, fmt.Errorf("node %q: empty command", inv.Node)
	}
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()
	out := pipeline.Outcome{
		Stdout:   tail(stdoutBuf.Bytes()),
		Stderr:   tail(stderrBuf.Bytes()),
		Duration: time.Since(start),
	}
	slog.Debug("command finished", "node", inv.Node, "index", inv.Index, "command", inv.Command, "elapsed", out.Duration)

	if runErr == nil {
		return out, nil
	}
	if err := runCtx.Err(); err != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("%s: %w", inv.Command, err)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, fmt.Errorf("%s: %w", inv.Command, runErr)
}

func tail(b []byte) string {
	if len(b) > tailBytes {
		b = b[len(b)-tailBytes:]
	}
	return string(b)
}
