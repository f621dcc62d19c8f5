package tools

import "github.com/ravi-parthasarathy/sctflow/pkg/pipeline"

// Builtin returns a fresh catalog holding every built-in tool definition
// plus the pure path reshaping nodes merge2, merge3, select and slice.
// Each call returns an independent catalog, so callers may Implement or
// Replace entries without affecting others.
func Builtin() *pipeline.Catalog {
	c := pipeline.NewCatalog()
	c.MustRegister(
		// segmentation
		DeepSeg(),
		PropSeg(),
		LabelVertebrae(),
		CreateMask(),
		GetCenterline(),
		// registration
		RegisterToTemplate(),
		WarpTemplate(),
		RegisterMultimodal(),
		StraightenSpinalcord(),
		ApplyTransform(),
		AntsRegistrationQuick(),
		// diffusion
		MotionCorrection(),
		ComputeDTI(),
		// metrics and utilities
		Mean(),
		LabelUtils(),
		ProcessSegmentation(),
		ExtractMetric(),
		ComputeMTR(),
		ConcatVolumes(),
		ThresholdLabels(),
		GenerateTemplate(),
		// reshaping
		pipeline.MergeDefinition("merge2", 2, pipeline.PathType),
		pipeline.MergeDefinition("merge3", 3, pipeline.PathType),
		pipeline.SelectDefinition("select", pipeline.PathType),
		pipeline.SliceDefinition("slice", pipeline.PathType),
	)
	return c
}
