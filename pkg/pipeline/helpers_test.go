package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// touchDef is a compute definition with required path inputs and a single
// output "out" named after the first input. Running it creates the
// predicted file.
func touchDef(name, suffix string, inputs ...string) *pipeline.Definition {
	d := &pipeline.Definition{Name: name, Mode: pipeline.ModeCompute, Compute: touchOutputs}
	for _, in := range inputs {
		d.Inputs = append(d.Inputs, pipeline.InputField{Name: in, Type: pipeline.PathType, Required: true})
	}
	d.Outputs = []pipeline.OutputField{{
		Name: "out",
		Type: pipeline.PathType,
		Rule: pipeline.NamingRule{Source: inputs[0], Suffix: suffix},
	}}
	return d
}

// failDef always fails without writing anything.
func failDef(name string) *pipeline.Definition {
	d := touchDef(name, "_fail.nii.gz", "in")
	d.Compute = func(context.Context, pipeline.Call) error { return errors.New("boom") }
	return d
}

func touchOutputs(_ context.Context, call pipeline.Call) error {
	for _, v := range call.Outputs {
		for _, p := range paths(v) {
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(p, nil, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func paths(v pipeline.Value) []string {
	if v.Kind == pipeline.KindList {
		var out []string
		for _, e := range v.List {
			out = append(out, paths(e)...)
		}
		return out
	}
	return []string{v.Str}
}

// recorder wraps a compute function and remembers which calls started.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) wrap(fn pipeline.ComputeFunc) pipeline.ComputeFunc {
	return func(ctx context.Context, call pipeline.Call) error {
		r.mu.Lock()
		if call.Index >= 0 {
			r.calls = append(r.calls, fmt.Sprintf("%s[%d]", call.Node, call.Index))
		} else {
			r.calls = append(r.calls, call.Node)
		}
		r.mu.Unlock()
		return fn(ctx, call)
	}
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func mustAdd(t *testing.T, w *pipeline.Workflow, def *pipeline.Definition, name string, consts map[string]pipeline.Value) *pipeline.Node {
	t.Helper()
	n, err := w.AddNode(def, name, consts)
	if err != nil {
		t.Fatalf("AddNode(%s): %v", name, err)
	}
	return n
}

func mustConnect(t *testing.T, w *pipeline.Workflow, src, srcField, dst, dstField string) {
	t.Helper()
	if err := w.ConnectNames(src, srcField, dst, dstField); err != nil {
		t.Fatalf("Connect %s.%s -> %s.%s: %v", src, srcField, dst, dstField, err)
	}
}

func mustFreeze(t *testing.T, w *pipeline.Workflow) *pipeline.Plan {
	t.Helper()
	plan, err := w.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return plan
}

func mustExecutor(t *testing.T, opts pipeline.Options) *pipeline.Executor {
	t.Helper()
	noCommands := pipeline.RunnerFunc(func(_ context.Context, inv pipeline.Invocation) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, fmt.Errorf("unexpected command %s", inv.Command)
	})
	e, err := pipeline.NewExecutor(noCommands, opts)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return e
}

func wantState(t *testing.T, r *pipeline.Report, node string, want pipeline.State) *pipeline.NodeResult {
	t.Helper()
	res, ok := r.Node(node)
	if !ok {
		t.Fatalf("report has no node %q", node)
	}
	if res.State != want {
		t.Fatalf("%s state = %s, want %s (cause %q)", node, res.State, want, res.Cause)
	}
	return res
}

func writeFile(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
