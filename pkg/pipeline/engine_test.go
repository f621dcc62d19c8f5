package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// chain builds input_node -> a -> b -> c with a second branch
// input_node -> d. defs overrides the definition of a node by name.
func chain(t *testing.T, defs map[string]*pipeline.Definition) *pipeline.Workflow {
	t.Helper()
	w := pipeline.NewWorkflow("chain", t.TempDir(), pipeline.WithSubject("sub-01"))
	if _, err := w.AddInput("input_node", pipeline.InputField{Name: "image", Type: pipeline.PathType, Required: true}); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := w.SetInput("input_node", "image", pipeline.Path("/data/t2.nii.gz")); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "d", "b", "c"} {
		def, ok := defs[name]
		if !ok {
			def = touchDef(name, "_"+name+".nii.gz", "in")
		}
		mustAdd(t, w, def, name, nil)
	}
	mustConnect(t, w, "input_node", "image", "a", "in")
	mustConnect(t, w, "input_node", "image", "d", "in")
	mustConnect(t, w, "a", "out", "b", "in")
	mustConnect(t, w, "b", "out", "c", "in")
	return w
}

func TestRun_AllSucceed(t *testing.T) {
	t.Parallel()
	w := chain(t, nil)
	plan := mustFreeze(t, w)
	report, err := mustExecutor(t, pipeline.Options{Workers: 2}).Run(t.Context(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, name := range plan.Order() {
		wantState(t, report, name, pipeline.StateSucceeded)
	}
	c, _ := plan.Step("c")
	if _, err := os.Stat(c.Outputs["out"].Str); err != nil {
		t.Errorf("final output missing: %v", err)
	}
	res, _ := report.Node("c")
	if got := res.Outputs["out"]; got != c.Outputs["out"].Str {
		t.Errorf("reported output = %v, want %s", got, c.Outputs["out"].Str)
	}
	if !slices.Equal(report.Order, plan.Order()) {
		t.Errorf("report order = %v, want %v", report.Order, plan.Order())
	}
}

func TestRun_PredecessorsFinishFirst(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	defs := map[string]*pipeline.Definition{}
	for _, name := range []string{"a", "b", "c", "d"} {
		def := touchDef(name, "_"+name+".nii.gz", "in")
		def.Compute = rec.wrap(def.Compute)
		defs[name] = def
	}
	plan := mustFreeze(t, chain(t, defs))
	if _, err := mustExecutor(t, pipeline.Options{Workers: 4}).Run(t.Context(), plan); err != nil {
		t.Fatalf("Run: %v", err)
	}
	seen := rec.seen()
	pos := map[string]int{}
	for i, name := range seen {
		pos[name] = i
	}
	if len(seen) != 4 {
		t.Fatalf("calls = %v, want 4", seen)
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("calls out of dependency order: %v", seen)
	}
}

func TestRun_FailureSkipsDescendants(t *testing.T) {
	t.Parallel()
	w := chain(t, map[string]*pipeline.Definition{"b": failDef("b")})
	plan := mustFreeze(t, w)
	report, err := mustExecutor(t, pipeline.Options{Workers: 2, RunID: "run1"}).Run(t.Context(), plan)
	if !errors.Is(err, pipeline.ErrRunFailed) {
		t.Fatalf("err = %v, want ErrRunFailed", err)
	}
	wantState(t, report, "a", pipeline.StateSucceeded)
	wantState(t, report, "d", pipeline.StateSucceeded)
	b := wantState(t, report, "b", pipeline.StateFailed)
	if b.Cause != "boom" {
		t.Errorf("cause = %q, want boom", b.Cause)
	}
	c := wantState(t, report, "c", pipeline.StateSkipped)
	if c.CausedBy != "b" {
		t.Errorf("c caused by %q, want b", c.CausedBy)
	}
	if want := filepath.Join(w.Dir(), "crash-b-run1.json"); b.CrashFile != want {
		t.Errorf("crash file = %q, want %q", b.CrashFile, want)
	}
	if _, err := os.Stat(b.CrashFile); err != nil {
		t.Errorf("crash file not written: %v", err)
	}
	if got := report.Count(pipeline.StateSucceeded) + report.Count(pipeline.StateFailed) + report.Count(pipeline.StateSkipped); got != len(report.Nodes) {
		t.Errorf("%d of %d nodes reached a final state", got, len(report.Nodes))
	}
}

func TestRun_FailFast(t *testing.T) {
	t.Parallel()
	w := chain(t, map[string]*pipeline.Definition{"a": failDef("a")})
	plan := mustFreeze(t, w)
	report, err := mustExecutor(t, pipeline.Options{Workers: 1, Policy: pipeline.FailFast}).Run(t.Context(), plan)
	if !errors.Is(err, pipeline.ErrRunFailed) {
		t.Fatalf("err = %v, want ErrRunFailed", err)
	}
	wantState(t, report, "a", pipeline.StateFailed)
	for _, name := range []string{"b", "c", "d"} {
		res := wantState(t, report, name, pipeline.StateSkipped)
		if res.CausedBy != "a" {
			t.Errorf("%s caused by %q, want a", name, res.CausedBy)
		}
	}
}

func TestRun_MissingOutput(t *testing.T) {
	t.Parallel()
	lazy := touchDef("a", "_a.nii.gz", "in")
	lazy.Compute = func(context.Context, pipeline.Call) error { return nil }
	plan := mustFreeze(t, chain(t, map[string]*pipeline.Definition{"a": lazy}))
	report, err := mustExecutor(t, pipeline.Options{}).Run(t.Context(), plan)
	if !errors.Is(err, pipeline.ErrRunFailed) {
		t.Fatalf("err = %v, want ErrRunFailed", err)
	}
	res := wantState(t, report, "a", pipeline.StateFailed)
	if res.Cause != "missing output: out" {
		t.Errorf("cause = %q, want missing output: out", res.Cause)
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	plan := mustFreeze(t, chain(t, nil))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	report, err := mustExecutor(t, pipeline.Options{}).Run(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	for _, res := range report.Nodes {
		if res.State != pipeline.StateSkipped {
			t.Errorf("%s = %s, want skipped", res.Node, res.State)
		}
	}
}

// ─── map nodes ────────────────────────────────────────────────────────────────

func mapWorkflow(t *testing.T, def *pipeline.Definition, policy pipeline.ElementPolicy) *pipeline.Workflow {
	t.Helper()
	w := pipeline.NewWorkflow("map", t.TempDir())
	n, err := w.AddMapNode(def, "seg", []string{"in"}, map[string]pipeline.Value{
		"in": pipeline.Paths("/d/sub1.nii.gz", "/d/sub2.nii.gz", "/d/sub3.nii.gz"),
	})
	if err != nil {
		t.Fatalf("AddMapNode: %v", err)
	}
	n.SetPolicy(policy)
	return w
}

func TestRun_MapOutputsStayAligned(t *testing.T) {
	t.Parallel()
	def := touchDef("seg", "_seg.nii.gz", "in")
	// Element 0 finishes last.
	def.Compute = func(ctx context.Context, call pipeline.Call) error {
		time.Sleep(time.Duration(2-call.Index) * 20 * time.Millisecond)
		return touchOutputs(ctx, call)
	}
	w := mapWorkflow(t, def, pipeline.AbortOnFirst)
	plan := mustFreeze(t, w)
	report, err := mustExecutor(t, pipeline.Options{Workers: 1, MapConcurrency: 3}).Run(t.Context(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := wantState(t, report, "seg", pipeline.StateSucceeded)
	out, ok := res.Outputs["out"].([]any)
	if !ok || len(out) != 3 {
		t.Fatalf("outputs = %#v, want three paths", res.Outputs["out"])
	}
	n, _ := w.Node("seg")
	for i, got := range out {
		want := filepath.Join(n.Dir(), fmt.Sprintf("_%d", i), fmt.Sprintf("sub%d_seg.nii.gz", i+1))
		if got != want {
			t.Errorf("out[%d] = %v, want %s", i, got, want)
		}
		if res.Elements[i].Index != i || res.Elements[i].State != pipeline.StateSucceeded {
			t.Errorf("element %d = %+v", i, res.Elements[i])
		}
	}
}

func TestRun_MapCollectAll(t *testing.T) {
	t.Parallel()
	def := touchDef("seg", "_seg.nii.gz", "in")
	def.Compute = func(ctx context.Context, call pipeline.Call) error {
		if call.Index == 1 {
			return errors.New("bad slice")
		}
		return touchOutputs(ctx, call)
	}
	plan := mustFreeze(t, mapWorkflow(t, def, pipeline.CollectAll))
	report, err := mustExecutor(t, pipeline.Options{}).Run(t.Context(), plan)
	if !errors.Is(err, pipeline.ErrRunFailed) {
		t.Fatalf("err = %v, want ErrRunFailed", err)
	}
	res := wantState(t, report, "seg", pipeline.StateFailed)
	states := make([]pipeline.State, len(res.Elements))
	for i, e := range res.Elements {
		states[i] = e.State
	}
	want := []pipeline.State{pipeline.StateSucceeded, pipeline.StateFailed, pipeline.StateSucceeded}
	if !slices.Equal(states, want) {
		t.Errorf("element states = %v, want %v", states, want)
	}
	if !strings.HasPrefix(res.Cause, "element 1: bad slice") {
		t.Errorf("cause = %q", res.Cause)
	}
}

func TestRun_MapAbortOnFirst(t *testing.T) {
	t.Parallel()
	def := touchDef("seg", "_seg.nii.gz", "in")
	def.Compute = func(ctx context.Context, call pipeline.Call) error {
		if call.Index == 0 {
			return errors.New("bad slice")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return touchOutputs(ctx, call)
		}
	}
	plan := mustFreeze(t, mapWorkflow(t, def, pipeline.AbortOnFirst))
	start := time.Now()
	report, err := mustExecutor(t, pipeline.Options{MapConcurrency: 3}).Run(t.Context(), plan)
	if !errors.Is(err, pipeline.ErrRunFailed) {
		t.Fatalf("err = %v, want ErrRunFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("remaining elements were not cancelled (took %s)", elapsed)
	}
	res := wantState(t, report, "seg", pipeline.StateFailed)
	if res.Cause != "element 0: bad slice" {
		t.Errorf("cause = %q, want element 0: bad slice", res.Cause)
	}
	for _, e := range res.Elements[1:] {
		if e.State != pipeline.StateSkipped {
			t.Errorf("element %d = %s, want skipped", e.Index, e.State)
		}
	}
}

// ─── external commands ────────────────────────────────────────────────────────

func fakeTool() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "fake",
		Command: "sct_fake",
		Inputs: []pipeline.InputField{
			{Name: "input_image", Type: pipeline.PathType, Flag: "-i", Required: true},
			{Name: "output_file", Type: pipeline.PathType, Flag: "-o", Role: pipeline.RoleOverride, Emit: "result"},
		},
		Outputs: []pipeline.OutputField{{
			Name: "result",
			Type: pipeline.PathType,
			Rule: pipeline.NamingRule{Source: "input_image", Suffix: "_fake.nii.gz", Override: "output_file"},
		}},
	}
}

func TestRun_CommandNode(t *testing.T) {
	t.Parallel()
	w := pipeline.NewWorkflow("cmd", t.TempDir())
	n := mustAdd(t, w, fakeTool(), "fake", map[string]pipeline.Value{"input_image": pipeline.Path("/data/t2.nii.gz")})
	plan := mustFreeze(t, w)

	var got pipeline.Invocation
	runner := pipeline.RunnerFunc(func(_ context.Context, inv pipeline.Invocation) (pipeline.Outcome, error) {
		got = inv
		out := inv.Args[slices.Index(inv.Args, "-o")+1]
		return pipeline.Outcome{}, os.WriteFile(out, nil, 0o644)
	})
	e, err := pipeline.NewExecutor(runner, pipeline.Options{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	report, err := e.Run(t.Context(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantState(t, report, "fake", pipeline.StateSucceeded)
	wantArgs := []string{"-i", "/data/t2.nii.gz", "-o", filepath.Join(n.Dir(), "t2_fake.nii.gz")}
	if got.Command != "sct_fake" || got.Dir != n.Dir() || !slices.Equal(got.Args, wantArgs) {
		t.Errorf("invocation = %+v, want sct_fake %q in %s", got, wantArgs, n.Dir())
	}
}

func TestRun_CommandExitCode(t *testing.T) {
	t.Parallel()
	w := pipeline.NewWorkflow("cmd", t.TempDir())
	mustAdd(t, w, fakeTool(), "fake", map[string]pipeline.Value{"input_image": pipeline.Path("/data/t2.nii.gz")})
	plan := mustFreeze(t, w)
	runner := pipeline.RunnerFunc(func(context.Context, pipeline.Invocation) (pipeline.Outcome, error) {
		return pipeline.Outcome{ExitCode: 3, Stderr: "license not found"}, nil
	})
	e, _ := pipeline.NewExecutor(runner, pipeline.Options{})
	report, err := e.Run(t.Context(), plan)
	if !errors.Is(err, pipeline.ErrRunFailed) {
		t.Fatalf("err = %v, want ErrRunFailed", err)
	}
	res := wantState(t, report, "fake", pipeline.StateFailed)
	if res.ExitCode != 3 || res.Cause != "exit code 3" {
		t.Errorf("result = %+v", res)
	}
	data, err := os.ReadFile(res.CrashFile)
	if err != nil {
		t.Fatalf("crash file: %v", err)
	}
	if !strings.Contains(string(data), "license not found") {
		t.Errorf("crash file lacks stderr: %s", data)
	}
}

// ─── resume ───────────────────────────────────────────────────────────────────

func TestRun_ResumeReusesSucceededNodes(t *testing.T) {
	t.Parallel()
	for _, ext := range []string{".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			t.Parallel()
			var broken atomic.Bool
			broken.Store(true)
			rec := &recorder{}
			defs := map[string]*pipeline.Definition{}
			for _, name := range []string{"a", "b", "c", "d"} {
				def := touchDef(name, "_"+name+".nii.gz", "in")
				def.Compute = rec.wrap(def.Compute)
				defs[name] = def
			}
			defs["b"].Compute = rec.wrap(func(ctx context.Context, call pipeline.Call) error {
				if broken.Load() {
					return errors.New("boom")
				}
				return touchOutputs(ctx, call)
			})
			w := chain(t, defs)
			plan := mustFreeze(t, w)

			first, err := mustExecutor(t, pipeline.Options{}).Run(t.Context(), plan)
			if !errors.Is(err, pipeline.ErrRunFailed) {
				t.Fatalf("first run err = %v", err)
			}
			path := filepath.Join(w.Dir(), "report"+ext)
			if err := first.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			prev, err := pipeline.LoadReport(path)
			if err != nil {
				t.Fatalf("LoadReport: %v", err)
			}

			broken.Store(false)
			rec.calls = nil
			second, err := mustExecutor(t, pipeline.Options{Previous: prev}).Run(t.Context(), plan)
			if err != nil {
				t.Fatalf("second run: %v", err)
			}
			for _, name := range []string{"input_node", "a", "d"} {
				if res := wantState(t, second, name, pipeline.StateSucceeded); !res.Reused {
					t.Errorf("%s was not reused", name)
				}
			}
			for _, name := range []string{"b", "c"} {
				if res := wantState(t, second, name, pipeline.StateSucceeded); res.Reused {
					t.Errorf("%s reused after failing", name)
				}
			}
			if got := rec.seen(); !slices.Equal(got, []string{"b", "c"}) {
				t.Errorf("second run called %v, want [b c]", got)
			}
		})
	}
}

func TestRun_ResumeRerunsWhenOutputDeleted(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	defs := map[string]*pipeline.Definition{}
	for _, name := range []string{"a", "b", "c", "d"} {
		def := touchDef(name, "_"+name+".nii.gz", "in")
		def.Compute = rec.wrap(def.Compute)
		defs[name] = def
	}
	plan := mustFreeze(t, chain(t, defs))
	first, err := mustExecutor(t, pipeline.Options{}).Run(t.Context(), plan)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, _ := plan.Step("b")
	if err := os.Remove(b.Outputs["out"].Str); err != nil {
		t.Fatal(err)
	}
	rec.calls = nil
	second, err := mustExecutor(t, pipeline.Options{Previous: first}).Run(t.Context(), plan)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res, _ := second.Node("a"); !res.Reused {
		t.Error("a was not reused")
	}
	// c depends on b, so it reruns too.
	if got := rec.seen(); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("second run called %v, want [b c]", got)
	}
}
