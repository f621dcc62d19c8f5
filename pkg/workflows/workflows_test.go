package workflows_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline/tools"
	"github.com/ravi-parthasarathy/sctflow/pkg/workflows"
)

func bind(t *testing.T, w *pipeline.Workflow, inputs map[string]pipeline.Value) {
	t.Helper()
	for field, v := range inputs {
		require.NoError(t, w.SetInput("input_node", field, v), field)
	}
}

// touchAll creates every path in outputs.
func touchAll(outputs map[string]pipeline.Value) error {
	for _, v := range outputs {
		for _, p := range flatten(v) {
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

func flatten(v pipeline.Value) []string {
	if v.Kind != pipeline.KindList {
		return []string{v.Str}
	}
	var out []string
	for _, e := range v.List {
		out = append(out, flatten(e)...)
	}
	return out
}

// fakeTools answers every command invocation by creating the outputs the
// plan predicted for it.
func fakeTools(plan *pipeline.Plan) pipeline.Runner {
	return pipeline.RunnerFunc(func(_ context.Context, inv pipeline.Invocation) (pipeline.Outcome, error) {
		st, ok := plan.Step(inv.Node)
		if !ok {
			return pipeline.Outcome{ExitCode: 127}, nil
		}
		call := st.Calls[max(inv.Index, 0)]
		return pipeline.Outcome{}, touchAll(call.Outputs)
	})
}

func run(t *testing.T, plan *pipeline.Plan) *pipeline.Report {
	t.Helper()
	e, err := pipeline.NewExecutor(fakeTools(plan), pipeline.Options{Workers: 4})
	require.NoError(t, err)
	report, err := e.Run(t.Context(), plan)
	require.NoError(t, err)
	return report
}

func TestNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"dti", "mtr", "spine_template", "t2"}, workflows.Names())
	for _, name := range workflows.Names() {
		c, err := workflows.Lookup(name)
		require.NoError(t, err)
		assert.NotNil(t, c)
	}
	_, err := workflows.Lookup("flair")
	assert.ErrorContains(t, err, "unknown workflow")
}

func TestT2(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	w, err := workflows.T2(tools.Builtin(), workflows.Params{BaseDir: base, Subject: "sub-01", Vertebrae: "2:3"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "sub-01", "pipeline", "SCT_T2"), w.Dir())

	bind(t, w, map[string]pipeline.Value{"t2_image": pipeline.Path("/data/sub-01_T2w.nii.gz")})
	plan, err := w.Freeze()
	require.NoError(t, err)

	csa, ok := plan.Step("compute_csa")
	require.True(t, ok)
	assert.Equal(t, "2:3", csa.Inputs["vertebrae"].Str)
	seg, _ := plan.Step("spine_segmentation")
	assert.Equal(t, seg.Outputs["spine_segmentation"], csa.Inputs["input_image"])

	report := run(t, plan)
	assert.Equal(t, len(plan.Order()), report.Count(pipeline.StateSucceeded))
}

func TestT2_UnboundInput(t *testing.T) {
	t.Parallel()

	w, err := workflows.T2(tools.Builtin(), workflows.Params{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = w.Freeze()
	assert.ErrorIs(t, err, pipeline.ErrMissingInput)
}

func TestDTI(t *testing.T) {
	t.Parallel()

	w, err := workflows.DTI(tools.Builtin(), workflows.Params{BaseDir: t.TempDir(), Subject: "sub-01", Session: "ses-01"})
	require.NoError(t, err)
	assert.Equal(t, "SCT_DTI_ses-01", w.Name())

	bind(t, w, map[string]pipeline.Value{
		"dwi_image": pipeline.Path("/data/dwi.nii.gz"),
		"bvals":     pipeline.Path("/data/dwi.bval"),
		"bvecs":     pipeline.Path("/data/dwi.bvec"),
	})
	plan, err := w.Freeze()
	require.NoError(t, err)

	mask, _ := plan.Step("create_mask")
	assert.True(t, mask.Inputs["size"].Equal(pipeline.Number(35)))
	moco, _ := plan.Step("dmri_moco")
	assert.Equal(t, mask.Outputs["mask_file"], moco.Inputs["mask"])
	assert.Contains(t, plan.Predecessors(moco), "create_mask")

	report := run(t, plan)
	assert.Equal(t, len(plan.Order()), report.Count(pipeline.StateSucceeded))
}

func TestMTR(t *testing.T) {
	t.Parallel()

	inputs := map[string]pipeline.Value{
		"mt_on_image":      pipeline.Path("/data/mt1.nii.gz"),
		"mt_off_image":     pipeline.Path("/data/mt0.nii.gz"),
		"vertebral_labels": pipeline.Path("/data/labels.nii.gz"),
	}

	w, err := workflows.MTR(tools.Builtin(), workflows.Params{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, ok := w.Node("compute_csa")
	assert.False(t, ok, "CSA node without ComputeCSA")

	w, err = workflows.MTR(tools.Builtin(), workflows.Params{BaseDir: t.TempDir(), ComputeCSA: true, Vertebrae: "2:5"})
	require.NoError(t, err)
	bind(t, w, inputs)
	plan, err := w.Freeze()
	require.NoError(t, err)

	reg, _ := plan.Step("register_mt_off")
	mtr, _ := plan.Step("compute_mtr")
	assert.Equal(t, reg.Outputs["warped_input_image"], mtr.Inputs["mt_off_image"])
	extract, _ := plan.Step("extract_mtr")
	assert.Equal(t, "2:5", extract.Inputs["vertebrae"].Str)

	report := run(t, plan)
	assert.Equal(t, len(plan.Order()), report.Count(pipeline.StateSucceeded))
}

func TestSpineTemplate(t *testing.T) {
	t.Parallel()

	cat := tools.Builtin()
	touch := func(_ context.Context, call pipeline.Call) error { return touchAll(call.Outputs) }
	require.NoError(t, cat.Implement("threshold_labels", touch))
	require.NoError(t, cat.Implement("generate_template", touch))

	w, err := workflows.SpineTemplate(cat, workflows.Params{BaseDir: t.TempDir(), TemplateIndex: 1})
	require.NoError(t, err)
	bind(t, w, map[string]pipeline.Value{
		"spine_files": pipeline.Paths("/data/sub-01_T2w.nii.gz", "/data/sub-02_T2w.nii.gz", "/data/sub-03_T2w.nii.gz"),
	})
	plan, err := w.Freeze()
	require.NoError(t, err)

	for _, name := range []string{"spine_segmentation", "straighten_spinalcord", "merge_moving_images", "affine_registration", "nonlinear_registration"} {
		st, ok := plan.Step(name)
		require.True(t, ok, name)
		assert.Len(t, st.Calls, 3, name)
	}

	straight, _ := plan.Step("straighten_spinalcord")
	pick, _ := plan.Step("select_init_template")
	assert.Equal(t, straight.Outputs["straightened_input"].List[1], pick.Outputs["out"])

	thresh, _ := plan.Step("threshold_labels")
	assert.Equal(t, 3, thresh.Outputs["thresholded_label_files"].Len())

	tmpl, _ := plan.Step("nonlinear_template")
	assert.Equal(t, "nonlinear_template.nii.gz", filepath.Base(tmpl.Outputs["template_file"].Str))

	report := run(t, plan)
	assert.Equal(t, len(plan.Order()), report.Count(pipeline.StateSucceeded))
}

func TestSpineTemplate_IndexOutOfRange(t *testing.T) {
	t.Parallel()

	w, err := workflows.SpineTemplate(tools.Builtin(), workflows.Params{BaseDir: t.TempDir(), TemplateIndex: 5})
	require.NoError(t, err)
	bind(t, w, map[string]pipeline.Value{
		"spine_files": pipeline.Paths("/data/a.nii.gz", "/data/b.nii.gz"),
	})
	_, err = w.Freeze()
	assert.ErrorIs(t, err, pipeline.ErrArityMismatch)
}

func TestSpineTemplate_ComputeStepsNeedImplementations(t *testing.T) {
	t.Parallel()

	w, err := workflows.SpineTemplate(tools.Builtin(), workflows.Params{BaseDir: t.TempDir()})
	require.NoError(t, err)
	bind(t, w, map[string]pipeline.Value{
		"spine_files": pipeline.Paths("/data/a.nii.gz", "/data/b.nii.gz"),
	})
	_, err = w.Freeze()
	require.ErrorIs(t, err, pipeline.ErrNotImplemented)

	var ve *pipeline.ValidationError
	require.ErrorAs(t, err, &ve)
	var nodes []string
	for _, p := range ve.Problems {
		nodes = append(nodes, p.Node)
	}
	assert.ElementsMatch(t, []string{"threshold_labels", "affine_template", "nonlinear_template"}, nodes)
}

func TestConstructorReportsMissingDefinitions(t *testing.T) {
	t.Parallel()

	_, err := workflows.T2(pipeline.NewCatalog(), workflows.Params{BaseDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no definition registered")
}
