package tools

import "github.com/ravi-parthasarathy/sctflow/pkg/pipeline"

// DeepSeg segments the spinal cord with sct_deepseg_sc.
func DeepSeg() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "deepseg",
		Command: "sct_deepseg_sc",
		Doc:     "Spinal cord segmentation with a convolutional network.",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "input spine image")),
			required(enumIn("contrast", "-c", "input image contrast", contrasts...)),
			between(numberIn("threshold", "-thr", "binarisation threshold, -1 for soft segmentation"), -1, 1),
			outDirIn("-ofolder"),
		},
		Outputs: []pipeline.OutputField{
			suffixed("spine_segmentation", "input_image", "_seg.nii.gz", "cord segmentation"),
		},
	}
}

// PropSeg segments the spinal cord with sct_propseg. It also writes a
// binary centerline next to the segmentation.
func PropSeg() *pipeline.Definition {
	centerline := boolIn("centerline_binary", "-centerline-binary", "also write the binary centerline")
	centerline.Switch = true
	centerline.Default = pipeline.Bool(true)
	return &pipeline.Definition{
		Name:    "propseg",
		Command: "sct_propseg",
		Doc:     "Spinal cord segmentation by surface propagation.",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "input spine image")),
			required(enumIn("contrast", "-c", "input image contrast", contrasts...)),
			outDirIn("-ofolder"),
			centerline,
		},
		Outputs: []pipeline.OutputField{
			suffixed("spine_segmentation", "input_image", "_seg.nii.gz", "hard segmentation"),
			suffixed("centerline_file", "input_image", "_centerline.nii.gz", "binary centerline"),
		},
	}
}

// LabelVertebrae labels vertebral levels along a cord segmentation.
func LabelVertebrae() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "label_vertebrae",
		Command: "sct_label_vertebrae",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "input spine image")),
			required(pathIn("spine_segmentation", "-s", "cord segmentation")),
			required(enumIn("contrast", "-c", "input image contrast", "t1", "t2")),
			pathIn("initial_label", "-initlabel", "file holding a single disc label"),
			pathIn("template_directory", "-t", "template directory"),
			outDirIn("-ofolder"),
		},
		Outputs: []pipeline.OutputField{
			suffixed("labels", "spine_segmentation", "_labeled.nii.gz", "labeled segmentation"),
			suffixed("disc_labels", "spine_segmentation", "_labeled_discs.nii.gz", "single-voxel disc labels"),
		},
	}
}

// CreateMask builds a mask around the cord centerline.
func CreateMask() *pipeline.Definition {
	centerline := required(pathIn("centerline_image", "-p", "binary centerline the mask is centred on"))
	centerline.Format = "centerline,%s"
	return &pipeline.Definition{
		Name:    "create_mask",
		Command: "sct_create_mask",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "image the mask is created in")),
			centerline,
			withDefault(atLeast(numberIn("size", "-size", "mask size in voxels"), 1), pipeline.Number(41)),
			withDefault(enumIn("shape", "-f", "mask shape", "cylinder", "box", "gaussian"), pipeline.Enum("cylinder")),
			overrideIn("output_file", "-o", "mask_file"),
		},
		Outputs: []pipeline.OutputField{
			overridden(pipeline.OutputField{
				Name: "mask_file",
				Type: pipeline.PathType,
				Rule: pipeline.NamingRule{Source: "input_image", Prefix: "mask_", Suffix: ".nii.gz"},
				Doc:  "mask",
			}, "output_file"),
		},
	}
}

// GetCenterline extracts the cord centerline.
func GetCenterline() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "get_centerline",
		Command: "sct_get_centerline",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "input spine image")),
			enumIn("contrast", "-c", "input image contrast", contrasts...),
			overrideIn("output_file", "-o", "centerline_file"),
		},
		Outputs: []pipeline.OutputField{
			overridden(suffixed("centerline_file", "input_image", "_centerline.nii.gz", "centerline"), "output_file"),
		},
	}
}
