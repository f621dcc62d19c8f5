package pipeline

import (
	"path/filepath"
	"strings"
)

// Extensions stripped when deriving a base name. Compound extensions come
// first so that ".nii.gz" is removed as a unit.
var knownExtensions = []string{
	".nii.gz",
	".tar.gz",
	".niml.dset",
	".nii",
	".mgz",
	".mgh",
	".img",
	".hdr",
	".gz",
	".csv",
	".txt",
	".json",
	".mat",
	".bval",
	".bvec",
}

// BaseName returns the file name of p without its directory and with all
// recognized extensions removed, so "/data/subj01_t2.nii.gz" becomes
// "subj01_t2".
func BaseName(p string) string {
	name := filepath.Base(p)
	for {
		stripped := false
		lower := strings.ToLower(name)
		for _, ext := range knownExtensions {
			if len(name) > len(ext) && strings.HasSuffix(lower, ext) {
				name = name[:len(name)-len(ext)]
				stripped = true
				break
			}
		}
		if !stripped {
			return name
		}
	}
}

// resolveIn joins a relative name onto dir. Absolute names are kept.
func resolveIn(dir, name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(dir, filepath.FromSlash(name))
}
