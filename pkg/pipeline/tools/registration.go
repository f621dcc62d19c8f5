package tools

import (
	"fmt"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// RegisterToTemplate registers an anatomical image to the PAM50 template.
func RegisterToTemplate() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "register_to_template",
		Command: "sct_register_to_template",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "anatomical image")),
			required(pathIn("spine_segmentation", "-s", "cord segmentation")),
			enumIn("contrast", "-c", "template contrast", "t1", "t2", "t2s"),
			required(pathIn("disc_labels", "-ldisc", "disc labels")),
			enumIn("reference", "-ref", "space the registration is done in", "template", "subject"),
			textIn("param", "-param", "registration steps"),
			outDirIn("-ofolder"),
		},
		Outputs: []pipeline.OutputField{
			fixed("anat2template", "anat2template.nii.gz", "anatomical image in template space"),
			fixed("template2anat", "template2anat.nii.gz", "template in anatomical space"),
			fixed("warp_anat2template", "warp_anat2template.nii.gz", "forward warping field"),
			fixed("warp_template2anat", "warp_template2anat.nii.gz", "inverse warping field"),
		},
	}
}

// WarpTemplate brings template objects into subject space. The tool always
// writes under label/template in its working directory.
func WarpTemplate() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "warp_template",
		Command: "sct_warp_template",
		Inputs: []pipeline.InputField{
			required(pathIn("destination_image", "-d", "subject image")),
			required(pathIn("warping_field", "-w", "template to subject warping field")),
			boolIn("warp_white_matter", "-a", "warp the white matter atlas"),
			boolIn("warp_spinal_levels", "-s", "warp the spinal levels"),
		},
		Outputs: []pipeline.OutputField{
			fixed("cord", "label/template/PAM50_cord.nii.gz", "cord mask"),
			fixed("levels", "label/template/PAM50_levels.nii.gz", "vertebral levels"),
			fixed("gm", "label/template/PAM50_gm.nii.gz", "grey matter"),
			fixed("wm", "label/template/PAM50_wm.nii.gz", "white matter"),
		},
	}
}

// RegisterMultimodal registers one image onto another. Output names depend
// on both base names; equal bases get _src_reg and _dest_reg suffixes.
func RegisterMultimodal() *pipeline.Definition {
	bases := func(in map[string]pipeline.Value) (string, string) {
		return pipeline.BaseName(in["input_image"].Str), pipeline.BaseName(in["destination_image"].Str)
	}
	return &pipeline.Definition{
		Name:    "register_multimodal",
		Command: "sct_register_multimodal",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "moving image")),
			required(pathIn("destination_image", "-d", "fixed image")),
			pathIn("input_segmentation", "-iseg", "moving segmentation"),
			pathIn("destination_segmentation", "-dseg", "fixed segmentation"),
			pathIn("input_label", "-ilabel", "moving labels"),
			pathIn("destination_label", "-dlabel", "fixed labels"),
			pathIn("mask", "-m", "registration mask"),
			textIn("param", "-param", "registration steps"),
			enumIn("interpolation", "-x", "final interpolation", "linear", "nn", "spline"),
			outDirIn("-ofolder"),
		},
		Outputs: []pipeline.OutputField{
			computed("warped_input_image", func(in map[string]pipeline.Value) (string, error) {
				src, dst := bases(in)
				if src == dst {
					return src + "_src_reg.nii.gz", nil
				}
				return src + "_reg.nii.gz", nil
			}, "moving image in fixed space"),
			computed("warped_destination_image", func(in map[string]pipeline.Value) (string, error) {
				src, dst := bases(in)
				if src == dst {
					return dst + "_dest_reg.nii.gz", nil
				}
				return dst + "_reg.nii.gz", nil
			}, "fixed image in moving space"),
			computed("warpfield_input_to_destination", func(in map[string]pipeline.Value) (string, error) {
				src, dst := bases(in)
				return fmt.Sprintf("warp_%s2%s.nii.gz", src, dst), nil
			}, "forward warping field"),
			computed("warpfield_destination_to_input", func(in map[string]pipeline.Value) (string, error) {
				src, dst := bases(in)
				return fmt.Sprintf("warp_%s2%s.nii.gz", dst, src), nil
			}, "inverse warping field"),
		},
	}
}

// StraightenSpinalcord straightens the cord along its centerline.
func StraightenSpinalcord() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "straighten_spinalcord",
		Command: "sct_straighten_spinalcord",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "input spine image")),
			required(pathIn("segmentation_image", "-s", "cord segmentation or centerline")),
			outDirIn("-ofolder"),
		},
		Outputs: []pipeline.OutputField{
			suffixed("straightened_input", "input_image", "_straight.nii.gz", "straightened image"),
			fixed("warp_curve2straight", "warp_curve2straight.nii.gz", "curved to straight warping field"),
			fixed("warp_straight2curve", "warp_straight2curve.nii.gz", "straight to curved warping field"),
		},
	}
}

// ApplyTransform applies a warping field to an image.
func ApplyTransform() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "apply_transform",
		Command: "sct_apply_transfo",
		Inputs: []pipeline.InputField{
			required(pathIn("input_image", "-i", "image to warp")),
			required(pathIn("destination_image", "-d", "destination space")),
			required(pathIn("transforms", "-w", "warping field")),
			enumIn("interpolation", "-x", "interpolation", "spline", "linear", "nn", "label"),
			overrideIn("output_name", "-o", "output_file"),
		},
		Outputs: []pipeline.OutputField{
			overridden(suffixed("output_file", "input_image", "_reg.nii.gz", "warped image"), "output_name"),
		},
	}
}

// AntsRegistrationQuick runs a quick ANTs registration with one or more
// fixed/moving image pairs.
func AntsRegistrationQuick() *pipeline.Definition {
	prefixed := func(suffix string) pipeline.NameFunc {
		return func(in map[string]pipeline.Value) (string, error) {
			return in["output_prefix"].Str + suffix, nil
		}
	}
	return &pipeline.Definition{
		Name:    "ants_registration_quick",
		Command: "antsRegistrationSyNQuick.sh",
		Inputs: []pipeline.InputField{
			withDefault(numberIn("dimension", "-d", "image dimension"), pipeline.Number(3)),
			required(pipeline.InputField{Name: "fixed_images", Type: pipeline.ListOf(pipeline.PathType), Flag: "-f", Doc: "fixed images"}),
			required(pipeline.InputField{Name: "moving_images", Type: pipeline.ListOf(pipeline.PathType), Flag: "-m", Doc: "moving images"}),
			withDefault(enumIn("transform", "-t", "transform type", "t", "r", "a", "s", "sr", "so", "b", "br", "bo"), pipeline.Enum("a")),
			withDefault(textIn("output_prefix", "-o", "output prefix"), pipeline.Text("transform")),
		},
		Outputs: []pipeline.OutputField{
			computed("warped_image", prefixed("Warped.nii.gz"), "moving image in fixed space"),
			computed("affine_transform", prefixed("0GenericAffine.mat"), "affine transform"),
		},
	}
}
