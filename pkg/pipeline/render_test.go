package pipeline_test

import (
	"strings"
	"testing"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

func TestRenderDOT(t *testing.T) {
	t.Parallel()
	plan := mustFreeze(t, chain(t, nil))
	out, err := pipeline.RenderDOT(plan, nil)
	if err != nil {
		t.Fatalf("RenderDOT: %v", err)
	}
	for _, want := range []string{"digraph", "rankdir=LR", "input_node", "a->b", "out:in"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "fillcolor") {
		t.Errorf("plan without report is coloured:\n%s", out)
	}
}

func TestRenderDOT_WithReport(t *testing.T) {
	t.Parallel()
	plan := mustFreeze(t, chain(t, map[string]*pipeline.Definition{"b": failDef("b")}))
	report, _ := mustExecutor(t, pipeline.Options{}).Run(t.Context(), plan)
	out, err := pipeline.RenderDOT(plan, report)
	if err != nil {
		t.Fatalf("RenderDOT: %v", err)
	}
	for _, want := range []string{"fillcolor=salmon", "fillcolor=lightgrey", "fillcolor=palegreen", "tooltip=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestRenderDOT_NilPlan(t *testing.T) {
	t.Parallel()
	if _, err := pipeline.RenderDOT(nil, nil); err == nil {
		t.Fatal("want error for nil plan")
	}
}
