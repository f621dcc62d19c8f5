// Package toolspec loads tool definitions from HCL files.
//
//	tool "binarize" {
//	  command = "sct_maths"
//
//	  input "input_image" {
//	    type     = "path"
//	    flag     = "-i"
//	    required = true
//	  }
//	  input "threshold" {
//	    type    = "number"
//	    flag    = "-thr"
//	    default = 0.5
//	  }
//
//	  output "binary_image" {
//	    type   = "path"
//	    source = "input_image"
//	    suffix = "_bin.nii.gz"
//	  }
//	}
package toolspec

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// fileRoot is the top level of a tool file.
type fileRoot struct {
	Tools []*toolBlock `hcl:"tool,block"`
}

type toolBlock struct {
	Name        string         `hcl:"name,label"`
	Command     string         `hcl:"command,optional"`
	Mode        string         `hcl:"mode,optional"`
	Description string         `hcl:"description,optional"`
	Inputs      []*inputBlock  `hcl:"input,block"`
	Outputs     []*outputBlock `hcl:"output,block"`
}

type inputBlock struct {
	Name        string     `hcl:"name,label"`
	Type        string     `hcl:"type"`
	Required    bool       `hcl:"required,optional"`
	Flag        string     `hcl:"flag,optional"`
	Allowed     []string   `hcl:"allowed,optional"`
	Min         *float64   `hcl:"min,optional"`
	Max         *float64   `hcl:"max,optional"`
	Sep         string     `hcl:"sep,optional"`
	Format      string     `hcl:"format,optional"`
	Switch      bool       `hcl:"switch,optional"`
	Default     *cty.Value `hcl:"default,optional"`
	Role        string     `hcl:"role,optional"`
	Emit        string     `hcl:"emit,optional"`
	Description string     `hcl:"description,optional"`
}

type outputBlock struct {
	Name        string `hcl:"name,label"`
	Type        string `hcl:"type"`
	Source      string `hcl:"source,optional"`
	Prefix      string `hcl:"prefix,optional"`
	Suffix      string `hcl:"suffix,optional"`
	Fixed       string `hcl:"fixed,optional"`
	Override    string `hcl:"override,optional"`
	OverrideExt string `hcl:"override_ext,optional"`
	Each        bool   `hcl:"each,optional"`
	Description string `hcl:"description,optional"`
}

// Load reads every .hcl file under the given paths. Directories are walked
// recursively and files are read in lexical order.
func Load(paths ...string) ([]*pipeline.Definition, error) {
	files, err := findHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	parser := hclparse.NewParser()
	var defs []*pipeline.Definition
	seen := map[string]string{}
	for _, path := range files {
		f, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
		}
		got, err := decode(f.Body, path)
		if err != nil {
			return nil, err
		}
		for _, d := range got {
			if prev, ok := seen[d.Name]; ok {
				return nil, fmt.Errorf("tool %q in %s already defined in %s", d.Name, path, prev)
			}
			seen[d.Name] = path
		}
		defs = append(defs, got...)
		slog.Debug("loaded tool definitions", "file", path, "tools", len(got))
	}
	return defs, nil
}

// Parse decodes tool definitions from src. filename is used in diagnostics.
func Parse(src []byte, filename string) ([]*pipeline.Definition, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return decode(f.Body, filename)
}

// Register adds defs to cat. With replace set, definitions of the same name
// are swapped out; otherwise duplicates are an error.
func Register(cat *pipeline.Catalog, defs []*pipeline.Definition, replace bool) error {
	for _, d := range defs {
		var err error
		if replace {
			err = cat.Replace(d)
		} else {
			err = cat.Register(d)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decode(body hcl.Body, filename string) ([]*pipeline.Definition, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	defs := make([]*pipeline.Definition, 0, len(root.Tools))
	for _, tb := range root.Tools {
		d, err := tb.definition()
		if err != nil {
			return nil, fmt.Errorf("%s: tool %q: %w", filename, tb.Name, err)
		}
		if err := d.Check(); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func (tb *toolBlock) definition() (*pipeline.Definition, error) {
	d := &pipeline.Definition{Name: tb.Name, Command: tb.Command, Doc: tb.Description}
	switch strings.ToLower(tb.Mode) {
	case "", "command":
		d.Mode = pipeline.ModeCommand
	case "compute":
		d.Mode = pipeline.ModeCompute
	default:
		return nil, fmt.Errorf("unknown mode %q: use command or compute", tb.Mode)
	}
	for _, ib := range tb.Inputs {
		f, err := ib.field()
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", ib.Name, err)
		}
		d.Inputs = append(d.Inputs, f)
	}
	for _, ob := range tb.Outputs {
		t, err := pipeline.ParseType(ob.Type)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", ob.Name, err)
		}
		d.Outputs = append(d.Outputs, pipeline.OutputField{
			Name: ob.Name,
			Type: t,
			Rule: pipeline.NamingRule{
				Source:      ob.Source,
				Prefix:      ob.Prefix,
				Suffix:      ob.Suffix,
				Fixed:       ob.Fixed,
				Override:    ob.Override,
				OverrideExt: ob.OverrideExt,
				Each:        ob.Each,
			},
			Doc: ob.Description,
		})
	}
	return d, nil
}

func (ib *inputBlock) field() (pipeline.InputField, error) {
	t, err := pipeline.ParseType(ib.Type)
	if err != nil {
		return pipeline.InputField{}, err
	}
	f := pipeline.InputField{
		Name:     ib.Name,
		Type:     t,
		Required: ib.Required,
		Flag:     ib.Flag,
		Allowed:  ib.Allowed,
		Min:      ib.Min,
		Max:      ib.Max,
		Sep:      ib.Sep,
		Format:   ib.Format,
		Switch:   ib.Switch,
		Emit:     ib.Emit,
		Doc:      ib.Description,
	}
	switch strings.ToLower(ib.Role) {
	case "":
	case "output_dir":
		f.Role = pipeline.RoleOutputDir
	case "override":
		f.Role = pipeline.RoleOverride
	default:
		return f, fmt.Errorf("unknown role %q: use output_dir or override", ib.Role)
	}
	if ib.Default != nil && !ib.Default.IsNull() {
		v, err := valueFromCty(t, *ib.Default)
		if err != nil {
			return f, fmt.Errorf("default: %w", err)
		}
		f.Default = v
	}
	return f, nil
}

func findHCLFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("tool path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}
