package tools

import "github.com/ravi-parthasarathy/sctflow/pkg/pipeline"

// MotionCorrection runs sct_dmri_moco on a diffusion series.
func MotionCorrection() *pipeline.Definition {
	return &pipeline.Definition{
		Name:    "dmri_moco",
		Command: "sct_dmri_moco",
		Inputs: []pipeline.InputField{
			required(pathIn("dwi_image", "-i", "4-D diffusion image")),
			required(pathIn("bvec", "-bvec", "b-vectors")),
			pathIn("bval", "-bval", "b-values"),
			pathIn("mask", "-m", "mask restricting the motion estimate"),
			numberIn("bvalmin", "-bvalmin", "b-values below this count as b=0"),
			enumIn("interpolation", "-x", "final interpolation", "spline", "nn", "linear"),
			outDirIn("-ofolder"),
		},
		Outputs: []pipeline.OutputField{
			suffixed("moco_dwi", "dwi_image", "_moco.nii.gz", "motion corrected series"),
			suffixed("mean_moco_dwi", "dwi_image", "_moco_dwi_mean.nii.gz", "mean of the corrected diffusion volumes"),
		},
	}
}

// ComputeDTI fits diffusion tensors and writes FA, MD and RD maps named
// after the output prefix.
func ComputeDTI() *pipeline.Definition {
	prefixed := func(suffix string) pipeline.NameFunc {
		return func(in map[string]pipeline.Value) (string, error) {
			return in["output_prefix"].Str + suffix, nil
		}
	}
	return &pipeline.Definition{
		Name:    "dmri_compute_dti",
		Command: "sct_dmri_compute_dti",
		Inputs: []pipeline.InputField{
			required(pathIn("dwi_image", "-i", "4-D diffusion image")),
			required(pathIn("bvec", "-bvec", "b-vectors")),
			required(pathIn("bval", "-bval", "b-values")),
			pathIn("mask", "-m", "fit mask"),
			enumIn("method", "-method", "tensor estimation method", "standard", "restore"),
			boolIn("eigenvalue", "-evecs", "also write eigenvalues and eigenvectors"),
			withDefault(textIn("output_prefix", "-o", "output file prefix"), pipeline.Text("dti_")),
		},
		Outputs: []pipeline.OutputField{
			computed("fa", prefixed("FA.nii.gz"), "fractional anisotropy"),
			computed("md", prefixed("MD.nii.gz"), "mean diffusivity"),
			computed("rd", prefixed("RD.nii.gz"), "radial diffusivity"),
		},
	}
}
