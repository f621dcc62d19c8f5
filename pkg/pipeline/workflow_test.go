package pipeline_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

func TestWorkflowDir(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	cases := []struct {
		opts []pipeline.Option
		want string
	}{
		{nil, filepath.Join(base, "pipeline", "SCT_T2")},
		{[]pipeline.Option{pipeline.WithSubject("sub-01")}, filepath.Join(base, "sub-01", "pipeline", "SCT_T2")},
		{[]pipeline.Option{pipeline.WithSubject("sub-01"), pipeline.WithSession("ses-02")}, filepath.Join(base, "sub-01", "pipeline", "SCT_T2_ses-02")},
	}
	for _, tc := range cases {
		w := pipeline.NewWorkflow("SCT_T2", base, tc.opts...)
		if got := w.Dir(); got != tc.want {
			t.Errorf("Dir() = %q, want %q", got, tc.want)
		}
	}
}

func TestWorkflowDir_SubjectsDoNotCollide(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	a := pipeline.NewWorkflow("SCT_T2", base, pipeline.WithSubject("sub-01"))
	b := pipeline.NewWorkflow("SCT_T2", base, pipeline.WithSubject("sub-02"))
	if a.Dir() == b.Dir() {
		t.Fatalf("two subjects share %s", a.Dir())
	}
}

func TestWorkflowClean(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	w := pipeline.NewWorkflow("SCT_T2", base, pipeline.WithSubject("sub-01"))
	writeFile(t, filepath.Join(w.Dir(), "deepseg", "t2_seg.nii.gz"))

	if err := w.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := os.Stat(w.Dir()); !os.IsNotExist(err) {
		t.Errorf("workflow dir still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "sub-01", "pipeline")); !os.IsNotExist(err) {
		t.Errorf("empty pipeline dir still present: %v", err)
	}
	// Cleaning twice is harmless.
	if err := w.Clean(); err != nil {
		t.Fatalf("second Clean: %v", err)
	}
}

func TestWorkflowClean_KeepsSiblings(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	t2 := pipeline.NewWorkflow("SCT_T2", base)
	dti := pipeline.NewWorkflow("SCT_DTI", base)
	writeFile(t, filepath.Join(t2.Dir(), "x"))
	writeFile(t, filepath.Join(dti.Dir(), "y"))

	if err := t2.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dti.Dir(), "y")); err != nil {
		t.Errorf("sibling workflow removed: %v", err)
	}
}

func TestAddNode_DuplicateName(t *testing.T) {
	t.Parallel()
	w := pipeline.NewWorkflow("wf", t.TempDir())
	mustAdd(t, w, touchDef("seg", "_seg.nii.gz", "in"), "seg", nil)
	_, err := w.AddNode(touchDef("seg", "_seg.nii.gz", "in"), "seg", nil)
	if !errors.Is(err, pipeline.ErrDuplicateNode) {
		t.Fatalf("err = %v, want ErrDuplicateNode", err)
	}
}

func TestConnect_Errors(t *testing.T) {
	t.Parallel()
	w := pipeline.NewWorkflow("wf", t.TempDir())
	if _, err := w.AddInput("input_node",
		pipeline.InputField{Name: "image", Type: pipeline.PathType, Required: true},
		pipeline.InputField{Name: "level", Type: pipeline.NumberType, Required: true},
	); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	mustAdd(t, w, touchDef("seg", "_seg.nii.gz", "in"), "seg", map[string]pipeline.Value{
		"in": pipeline.Path("/data/t2.nii.gz"),
	})
	mustAdd(t, w, touchDef("lab", "_lab.nii.gz", "in"), "lab", nil)

	if err := w.ConnectNames("input_node", "level", "lab", "in"); !errors.Is(err, pipeline.ErrTypeMismatch) {
		t.Errorf("number -> path: err = %v, want ErrTypeMismatch", err)
	}
	if err := w.ConnectNames("input_node", "image", "seg", "in"); !errors.Is(err, pipeline.ErrDuplicateBinding) {
		t.Errorf("edge onto constant: err = %v, want ErrDuplicateBinding", err)
	}
	if err := w.ConnectNames("input_node", "nope", "lab", "in"); !errors.Is(err, pipeline.ErrUnknownField) {
		t.Errorf("unknown output: err = %v, want ErrUnknownField", err)
	}
	if err := w.ConnectNames("ghost", "out", "lab", "in"); !errors.Is(err, pipeline.ErrUnknownNode) {
		t.Errorf("unknown node: err = %v, want ErrUnknownNode", err)
	}
	mustConnect(t, w, "input_node", "image", "lab", "in")
	if err := w.ConnectNames("seg", "out", "lab", "in"); !errors.Is(err, pipeline.ErrDuplicateBinding) {
		t.Errorf("second edge: err = %v, want ErrDuplicateBinding", err)
	}
}

func TestSetInput(t *testing.T) {
	t.Parallel()
	w := pipeline.NewWorkflow("wf", t.TempDir())
	if _, err := w.AddInput("input_node", pipeline.InputField{Name: "image", Type: pipeline.PathType, Required: true}); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := w.SetInput("input_node", "image", pipeline.Text("/data/t2.nii.gz")); err != nil {
		t.Fatalf("SetInput: %v", err)
	}
	n, _ := w.Node("input_node")
	if got := n.Constants()["image"]; got.Kind != pipeline.KindPath {
		t.Errorf("text constant not coerced to path: %v", got.Kind)
	}
	if err := w.SetInput("nowhere", "image", pipeline.Path("/x")); !errors.Is(err, pipeline.ErrUnknownNode) {
		t.Errorf("err = %v, want ErrUnknownNode", err)
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()
	sub := pipeline.NewWorkflow("sub", t.TempDir())
	mustAdd(t, sub, touchDef("a", "_a.nii.gz", "in"), "a", map[string]pipeline.Value{"in": pipeline.Path("/d/x.nii.gz")})
	mustAdd(t, sub, touchDef("b", "_b.nii.gz", "in"), "b", nil)
	mustConnect(t, sub, "a", "out", "b", "in")

	w := pipeline.NewWorkflow("outer", t.TempDir())
	if err := w.Embed("prep", sub); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	mustAdd(t, w, touchDef("c", "_c.nii.gz", "in"), "c", nil)
	mustConnect(t, w, "prep.b", "out", "c", "in")

	plan := mustFreeze(t, w)
	if got, want := plan.Order(), []string{"prep.a", "prep.b", "c"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	n, _ := w.Node("prep.b")
	if want := filepath.Join(w.Dir(), "prep", "b"); n.Dir() != want {
		t.Errorf("embedded node dir = %q, want %q", n.Dir(), want)
	}
}
