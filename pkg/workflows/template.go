package workflows

import (
	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

const nonlinearParam = "step=0,type=im,algo=affine,deformation=1x1x1,iter=100:" +
	"step=1,type=im,algo=affine,deformation=1x1x1,iter=100,metric=MI:" +
	"step=2,type=im,algo=syn,deformation=1x1x1,iter=10,metric=MI"

// SpineTemplate builds a population spinal-cord template. Every subject is
// segmented, labeled and straightened; labels are cut to the levels all
// subjects share. Subjects are registered affinely to the subject at
// Params.TemplateIndex, averaged into a template, then registered
// nonlinearly to that template and averaged again.
//
// Inputs on node "input_node": spine_files (list of paths).
//
// threshold_labels and generate_template are in-process definitions; the
// catalog must carry implementations for the workflow to freeze.
func SpineTemplate(cat *pipeline.Catalog, p Params) (*pipeline.Workflow, error) {
	b := newBuilder(cat, "spine_template", p)
	index := map[string]pipeline.Value{"index": pipeline.Number(float64(p.TemplateIndex))}
	t2 := map[string]pipeline.Value{"contrast": pipeline.Enum("t2")}

	b.input("input_node", pipeline.InputField{Name: "spine_files", Type: pipeline.ListOf(pipeline.PathType), Required: true})

	b.mapNode("deepseg", "spine_segmentation", []string{"input_image"}, t2)
	b.mapNode("label_vertebrae", "label_vertebrae", []string{"input_image", "spine_segmentation"}, t2)
	b.mapNode("straighten_spinalcord", "straighten_spinalcord", []string{"input_image", "segmentation_image"}, nil)
	b.mapNode("apply_transform", "straighten_segmentation", []string{"input_image", "destination_image", "transforms"},
		map[string]pipeline.Value{"interpolation": pipeline.Enum("linear")})
	b.mapNode("apply_transform", "straighten_labels", []string{"input_image", "destination_image", "transforms"},
		map[string]pipeline.Value{"interpolation": pipeline.Enum("nn")})
	b.node("threshold_labels", "threshold_labels", map[string]pipeline.Value{
		"threshold":                     pipeline.Bool(true),
		"num_additional_labels_removed": pipeline.Number(1),
	})

	b.connect("input_node", "spine_files", "spine_segmentation", "input_image")
	b.connect("input_node", "spine_files", "label_vertebrae", "input_image")
	b.connect("spine_segmentation", "spine_segmentation", "label_vertebrae", "spine_segmentation")
	b.connect("input_node", "spine_files", "straighten_spinalcord", "input_image")
	b.connect("spine_segmentation", "spine_segmentation", "straighten_spinalcord", "segmentation_image")
	b.connect("spine_segmentation", "spine_segmentation", "straighten_segmentation", "input_image")
	b.connect("straighten_spinalcord", "straightened_input", "straighten_segmentation", "destination_image")
	b.connect("straighten_spinalcord", "warp_curve2straight", "straighten_segmentation", "transforms")
	b.connect("label_vertebrae", "labels", "straighten_labels", "input_image")
	b.connect("straighten_spinalcord", "straightened_input", "straighten_labels", "destination_image")
	b.connect("straighten_spinalcord", "warp_curve2straight", "straighten_labels", "transforms")
	b.connect("straighten_labels", "output_file", "threshold_labels", "label_files")

	// Initial template: one subject's straightened image, segmentation and labels.
	b.node("select", "select_init_template", index)
	b.node("select", "select_init_label", index)
	b.node("select", "select_init_seg", index)
	b.connect("straighten_spinalcord", "straightened_input", "select_init_template", "inlist")
	b.connect("threshold_labels", "thresholded_label_files", "select_init_label", "inlist")
	b.connect("straighten_segmentation", "output_file", "select_init_seg", "inlist")

	b.mapNode("merge3", "merge_moving_images", []string{"in1", "in2", "in3"}, nil)
	b.node("merge3", "merge_fixed_images", nil)
	b.connect("straighten_spinalcord", "straightened_input", "merge_moving_images", "in1")
	b.connect("straighten_segmentation", "output_file", "merge_moving_images", "in2")
	b.connect("threshold_labels", "thresholded_label_files", "merge_moving_images", "in3")
	b.connect("select_init_template", "out", "merge_fixed_images", "in1")
	b.connect("select_init_seg", "out", "merge_fixed_images", "in2")
	b.connect("select_init_label", "out", "merge_fixed_images", "in3")

	// Affine stage.
	b.mapNode("ants_registration_quick", "affine_registration", []string{"moving_images"},
		map[string]pipeline.Value{"transform": pipeline.Enum("a")})
	b.node("concat_volumes", "affine_4d_template", nil)
	b.node("generate_template", "affine_template", map[string]pipeline.Value{"output_name": pipeline.Text("affine_template")})
	b.connect("merge_moving_images", "out", "affine_registration", "moving_images")
	b.connect("merge_fixed_images", "out", "affine_registration", "fixed_images")
	b.connect("affine_registration", "warped_image", "affine_4d_template", "in_files")
	b.connect("affine_4d_template", "merged_file", "affine_template", "input_file")

	// Nonlinear stage.
	b.mapNode("register_multimodal", "nonlinear_registration", []string{"input_image"},
		map[string]pipeline.Value{"param": pipeline.Text(nonlinearParam)})
	b.node("concat_volumes", "nonlinear_4d_template", nil)
	b.node("generate_template", "nonlinear_template", map[string]pipeline.Value{"output_name": pipeline.Text("nonlinear_template")})
	b.connect("straighten_spinalcord", "straightened_input", "nonlinear_registration", "input_image")
	b.connect("affine_template", "template_file", "nonlinear_registration", "destination_image")
	b.connect("nonlinear_registration", "warped_input_image", "nonlinear_4d_template", "in_files")
	b.connect("nonlinear_4d_template", "merged_file", "nonlinear_template", "input_file")
	return b.done()
}
