package workflows

import (
	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// T2 segments a T2 image, labels the vertebrae, registers the subject to
// the PAM50 template, warps the template back and computes CSA.
//
// Inputs on node "input_node": t2_image.
func T2(cat *pipeline.Catalog, p Params) (*pipeline.Workflow, error) {
	b := newBuilder(cat, "SCT_T2", p)
	t2 := map[string]pipeline.Value{"contrast": pipeline.Enum("t2")}

	b.input("input_node", path("t2_image"))
	b.node("deepseg", "spine_segmentation", t2)
	b.node("label_vertebrae", "label_vertebrae", t2)
	b.node("register_to_template", "register_to_template", t2)
	b.node("warp_template", "warp_template", nil)
	b.node("process_segmentation", "compute_csa", levels(p))

	b.connect("input_node", "t2_image", "spine_segmentation", "input_image")
	b.connect("input_node", "t2_image", "label_vertebrae", "input_image")
	b.connect("spine_segmentation", "spine_segmentation", "label_vertebrae", "spine_segmentation")
	b.connect("input_node", "t2_image", "register_to_template", "input_image")
	b.connect("spine_segmentation", "spine_segmentation", "register_to_template", "spine_segmentation")
	b.connect("label_vertebrae", "disc_labels", "register_to_template", "disc_labels")
	b.connect("input_node", "t2_image", "warp_template", "destination_image")
	b.connect("register_to_template", "warp_template2anat", "warp_template", "warping_field")
	b.connect("spine_segmentation", "spine_segmentation", "compute_csa", "input_image")
	b.connect("label_vertebrae", "labels", "compute_csa", "vertebrae_image")
	return b.done()
}

// DTI builds a rough mask from the mean diffusion volume, motion corrects
// the series, re-segments the corrected mean and fits the tensor.
//
// Inputs on node "input_node": dwi_image, bvals, bvecs.
func DTI(cat *pipeline.Catalog, p Params) (*pipeline.Workflow, error) {
	b := newBuilder(cat, "SCT_DTI", p)
	dwi := map[string]pipeline.Value{"contrast": pipeline.Enum("dwi")}

	b.input("input_node", path("dwi_image"), path("bvals"), path("bvecs"))
	b.node("mean", "mean_dwi", map[string]pipeline.Value{"dimension": pipeline.Enum("t")})
	b.node("propseg", "initial_spine_segmentation", dwi)
	b.node("create_mask", "create_mask", map[string]pipeline.Value{"size": pipeline.Number(35)})
	b.node("dmri_moco", "dmri_moco", nil)
	b.node("deepseg", "spine_segmentation", dwi)
	b.node("dmri_compute_dti", "compute_dti", nil)

	b.connect("input_node", "dwi_image", "mean_dwi", "input_image")
	b.connect("mean_dwi", "mean_image", "initial_spine_segmentation", "input_image")
	b.connect("mean_dwi", "mean_image", "create_mask", "input_image")
	b.connect("initial_spine_segmentation", "centerline_file", "create_mask", "centerline_image")
	b.connect("input_node", "dwi_image", "dmri_moco", "dwi_image")
	b.connect("input_node", "bvecs", "dmri_moco", "bvec")
	b.connect("input_node", "bvals", "dmri_moco", "bval")
	b.connect("create_mask", "mask_file", "dmri_moco", "mask")
	b.connect("dmri_moco", "mean_moco_dwi", "spine_segmentation", "input_image")
	b.connect("dmri_moco", "moco_dwi", "compute_dti", "dwi_image")
	b.connect("input_node", "bvecs", "compute_dti", "bvec")
	b.connect("input_node", "bvals", "compute_dti", "bval")
	b.connect("spine_segmentation", "spine_segmentation", "compute_dti", "mask")
	return b.done()
}

// MTR segments the MT-on image, registers MT-off onto it within a mask
// around the cord, computes the MTR map and extracts it per vertebral
// level. With Params.ComputeCSA the segmentation is also measured.
//
// Inputs on node "input_node": mt_on_image, mt_off_image, vertebral_labels.
func MTR(cat *pipeline.Catalog, p Params) (*pipeline.Workflow, error) {
	b := newBuilder(cat, "SCT_MTR", p)

	b.input("input_node", path("mt_on_image"), path("mt_off_image"), path("vertebral_labels"))
	b.node("deepseg", "spine_segmentation", map[string]pipeline.Value{"contrast": pipeline.Enum("t2")})
	b.node("create_mask", "create_mask", map[string]pipeline.Value{
		"size":  pipeline.Number(35),
		"shape": pipeline.Enum("cylinder"),
	})
	b.node("register_multimodal", "register_mt_off", map[string]pipeline.Value{
		"param": pipeline.Text("step=1,type=im,algo=slicereg,metric=CC"),
	})
	b.node("compute_mtr", "compute_mtr", nil)
	b.node("extract_metric", "extract_mtr", levels(p))

	b.connect("input_node", "mt_on_image", "spine_segmentation", "input_image")
	b.connect("input_node", "mt_on_image", "create_mask", "input_image")
	b.connect("spine_segmentation", "spine_segmentation", "create_mask", "centerline_image")
	b.connect("input_node", "mt_off_image", "register_mt_off", "input_image")
	b.connect("input_node", "mt_on_image", "register_mt_off", "destination_image")
	b.connect("create_mask", "mask_file", "register_mt_off", "mask")
	b.connect("input_node", "mt_on_image", "compute_mtr", "mt_on_image")
	b.connect("register_mt_off", "warped_input_image", "compute_mtr", "mt_off_image")
	b.connect("compute_mtr", "mtr_image", "extract_mtr", "input_image")
	b.connect("spine_segmentation", "spine_segmentation", "extract_mtr", "label_image")
	b.connect("input_node", "vertebral_labels", "extract_mtr", "vertebrae_image")

	if p.ComputeCSA {
		b.node("process_segmentation", "compute_csa", levels(p))
		b.connect("spine_segmentation", "spine_segmentation", "compute_csa", "input_image")
		b.connect("input_node", "vertebral_labels", "compute_csa", "vertebrae_image")
	}
	return b.done()
}

func levels(p Params) map[string]pipeline.Value {
	if p.Vertebrae == "" {
		return nil
	}
	return map[string]pipeline.Value{"vertebrae": pipeline.Text(p.Vertebrae)}
}
