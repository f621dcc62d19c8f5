package tools

import (
	"fmt"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// Mean averages an image along one dimension with sct_maths.
func Mean() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "mean",
		Command: "sct_maths",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "input image")),
			required(enumIn("dimension", "-mean", "dimension averaged over", "t", "x", "y", "dwi")),
			overrideIn("output_file", "-o", "mean_image"),
		},
		Outputs: []pipeline.OutputField{
			overridden(suffixed("mean_image", "input_image", "_mean.nii.gz", "mean image"), "output_file"),
		},
	}
}

// LabelUtils creates a label at the mid-point of a segmentation.
func LabelUtils() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "label_utils",
		Command: "sct_label_utils",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "input segmentation")),
			numberIn("create_seg_mid", "-create-seg-mid", "label value placed at the segmentation mid-point"),
			overrideIn("output_file", "-o", "label_image"),
		},
		Outputs: []pipeline.OutputField{
			overridden(fixed("label_image", "labels.nii.gz", "label image"), "output_file"),
		},
	}
}

// ProcessSegmentation computes cord morphometrics such as CSA.
func ProcessSegmentation() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "process_segmentation",
		Command: "sct_process_segmentation",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "cord segmentation")),
			textIn("slices", "-z", "slice range start:end"),
			boolIn("per_slice", "-perslice", "report one row per slice"),
			overrideIn("output_filename", "-o", "output_csv"),
			textIn("vertebrae", "-vert", "vertebral levels, e.g. 2:3"),
			pathIn("vertebrae_image", "-vertfile", "vertebral labeling"),
		},
		Outputs: []pipeline.OutputField{
			overridden(fixed("output_csv", "csa.csv", "morphometrics"), "output_filename"),
		},
	}
}

// ExtractMetric averages a metric map within labels.
func ExtractMetric() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "extract_metric",
		Command: "sct_extract_metric",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "metric image")),
			pathIn("label_image", "-f", "label or mask image"),
			textIn("slices", "-z", "slice range start:end"),
			boolIn("per_slice", "-perslice", "report one row per slice"),
			overrideIn("output_filename", "-o", "output_csv"),
			textIn("vertebrae", "-vert", "vertebral levels, e.g. 2:3"),
			required(pathIn("vertebrae_image", "-vertfile", "vertebral labeling")),
		},
		Outputs: []pipeline.OutputField{
			overridden(fixed("output_csv", "extract_metric.csv", "extracted metric"), "output_filename"),
		},
	}
}

// ComputeMTR computes the magnetization transfer ratio.
func ComputeMTR() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "compute_mtr",
		Command: "sct_compute_mtr",
		Inputs: []pipeline.InputField{
			required(pathIn("mt_on_image", "-mt1", "image with MT saturation")),
			required(pathIn("mt_off_image", "-mt0", "image without MT saturation")),
			overrideIn("output_file", "-o", "mtr_image"),
		},
		Outputs: []pipeline.OutputField{
			overridden(fixed("mtr_image", "mtr.nii.gz", "MTR map"), "output_file"),
		},
	}
}

// ConcatVolumes stacks images into one 4-D volume with sct_image.
func ConcatVolumes() *pipeline.Definition {
	files := required(pipeline.InputField{
		Name: "in_files",
		Type: pipeline.ListOf(pipeline.PathType),
		Flag: "-i",
		Sep:  ",",
		Doc:  "volumes to stack",
	})
	return &pipeline.Definition{
		Name:    "concat_volumes",
		Command: "sct_image",
		Inputs: []pipeline.InputField{
			files,
			withDefault(enumIn("dimension", "-concat", "dimension stacked along", "t", "x", "y", "z"), pipeline.Enum("t")),
			overrideIn("output_file", "-o", "merged_file"),
		},
		Outputs: []pipeline.OutputField{
			overridden(computed("merged_file", func(in map[string]pipeline.Value) (string, error) {
				v := in["in_files"]
				if v.Len() == 0 {
					return "", fmt.Errorf("in_files is empty")
				}
				return pipeline.BaseName(v.List[0].Str) + "_merged.nii.gz", nil
			}, "stacked volume"), "output_file"),
		},
	}
}

// ThresholdLabels removes labels above the highest label common to every
// input, optionally binarising the result. The computation runs in
// process; attach it with Catalog.Implement.
func ThresholdLabels() *pipeline.Definition {
	return &pipeline.Definition{
		Name: "threshold_labels",
		Mode: pipeline.ModeCompute,
		Inputs: []pipeline.InputField{
			required(pipeline.InputField{Name: "label_files", Type: pipeline.ListOf(pipeline.PathType), Doc: "vertebral label images"}),
			withDefault(boolIn("threshold", "", "binarise the remaining labels"), pipeline.Bool(false)),
			withDefault(atLeast(numberIn("num_additional_labels_removed", "", "extra labels removed below the common maximum"), 0), pipeline.Number(0)),
		},
		Outputs: []pipeline.OutputField{{
			Name: "thresholded_label_files",
			Type: pipeline.ListOf(pipeline.PathType),
			Rule: pipeline.NamingRule{Source: "label_files", Suffix: "_thresh.nii.gz", Each: true},
			Doc:  "thresholded labels, one per input",
		}},
	}
}

// GenerateTemplate averages a 4-D volume along its last axis, optionally
// symmetrised by flipping one axis (-1 disables flipping). The computation
// runs in process; attach it with Catalog.Implement.
func GenerateTemplate() *pipeline.Definition {
	return &pipeline.Definition{
		Name: "generate_template",
		Mode: pipeline.ModeCompute,
		Inputs: []pipeline.InputField{
			required(pathIn("input_file", "", "4-D volume")),
			withDefault(between(numberIn("flip_axis", "", "axis flipped before averaging"), -1, 2), pipeline.Number(0)),
			textIn("output_name", "", "template file name without extension"),
		},
		Outputs: []pipeline.OutputField{
			computed("template_file", func(in map[string]pipeline.Value) (string, error) {
				if name := in["output_name"].Str; name != "" {
					return name + ".nii.gz", nil
				}
				return "template.nii.gz", nil
			}, "template volume"),
		},
	}
}
