// Package job reads YAML job files that pick a workflow, place it on disk
// and bind its input fields.
//
//	workflow: t2
//	base_dir: /data/scans
//	subject: sub-01
//	session: ses-01
//	params:
//	  vertebrae: "2:3"
//	inputs:
//	  t2_image: anat/sub-01_T2w.nii.gz
//
// A job may name a DOT graph instead of a built-in workflow:
//
//	graph: pipelines/custom.dot
package job

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
	"github.com/ravi-parthasarathy/sctflow/pkg/workflows"
)

// DefaultInputNode is the node inputs bind to when InputNode is empty.
const DefaultInputNode = "input_node"

// Job is one invocation of a workflow on one subject.
type Job struct {
	Workflow  string         `yaml:"workflow"`
	Graph     string         `yaml:"graph"`
	BaseDir   string         `yaml:"base_dir"`
	Subject   string         `yaml:"subject"`
	Session   string         `yaml:"session"`
	InputNode string         `yaml:"input_node"`
	Inputs    map[string]any `yaml:"inputs"`
	Params    Params         `yaml:"params"`

	// dir is the directory of the job file; relative paths resolve
	// against it.
	dir string
}

// Params mirror workflows.Params.
type Params struct {
	Vertebrae     string `yaml:"vertebrae"`
	ComputeCSA    bool   `yaml:"compute_csa"`
	TemplateIndex int    `yaml:"template_index"`
}

// Load reads and validates a job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	j, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", path, err)
	}
	if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
		j.dir = abs
	}
	return j, nil
}

// Parse decodes a job from YAML. Relative paths resolve against the
// current directory.
func Parse(data []byte) (*Job, error) {
	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

func (j *Job) validate() error {
	switch {
	case j.Workflow == "" && j.Graph == "":
		return fmt.Errorf("job names neither a workflow nor a graph")
	case j.Workflow != "" && j.Graph != "":
		return fmt.Errorf("job names both workflow %q and graph %q", j.Workflow, j.Graph)
	case j.Params.TemplateIndex < 0:
		return fmt.Errorf("template_index must be >= 0, got %d", j.Params.TemplateIndex)
	}
	return nil
}

func (j *Job) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || j.dir == "" {
		return p
	}
	return filepath.Join(j.dir, p)
}

func (j *Job) params() workflows.Params {
	base := j.BaseDir
	if base == "" {
		base = "."
	}
	return workflows.Params{
		BaseDir:       j.resolve(base),
		Subject:       j.Subject,
		Session:       j.Session,
		Vertebrae:     j.Params.Vertebrae,
		ComputeCSA:    j.Params.ComputeCSA,
		TemplateIndex: j.Params.TemplateIndex,
	}
}

// Build constructs the workflow from cat and binds the job's inputs.
func (j *Job) Build(cat *pipeline.Catalog) (*pipeline.Workflow, error) {
	w, err := j.construct(cat)
	if err != nil {
		return nil, err
	}
	if err := j.Bind(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (j *Job) construct(cat *pipeline.Catalog) (*pipeline.Workflow, error) {
	if j.Workflow != "" {
		ctor, err := workflows.Lookup(j.Workflow)
		if err != nil {
			return nil, err
		}
		return ctor(cat, j.params())
	}

	src, err := os.ReadFile(j.resolve(j.Graph))
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var opts []pipeline.Option
	if j.BaseDir != "" {
		opts = append(opts, pipeline.WithBaseDir(j.resolve(j.BaseDir)))
	}
	if j.Subject != "" {
		opts = append(opts, pipeline.WithSubject(j.Subject))
	}
	if j.Session != "" {
		opts = append(opts, pipeline.WithSession(j.Session))
	}
	w, err := pipeline.ParseDOT(string(src), cat, opts...)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", j.Graph, err)
	}
	return w, nil
}

// Bind sets every job input on the input node of w. Values are converted
// to the declared field type; relative paths resolve against the job file.
func (j *Job) Bind(w *pipeline.Workflow) error {
	name := j.InputNode
	if name == "" {
		name = DefaultInputNode
	}
	if len(j.Inputs) == 0 {
		return nil
	}
	n, ok := w.Node(name)
	if !ok {
		return fmt.Errorf("input node %q not in workflow %q", name, w.Name())
	}

	keys := make([]string, 0, len(j.Inputs))
	for k := range j.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var problems []pipeline.Problem
	for _, k := range keys {
		f, ok := n.Def.Input(k)
		if !ok {
			problems = append(problems, pipeline.Problem{Kind: pipeline.ErrUnknownField, Node: name, Field: k,
				Message: fmt.Sprintf("input node %q has no field %q", name, k)})
			continue
		}
		v, err := pipeline.ValueFromAny(f.Type, j.Inputs[k])
		if err != nil {
			problems = append(problems, pipeline.Problem{Kind: pipeline.ErrTypeMismatch, Node: name, Field: k, Message: err.Error()})
			continue
		}
		if err := w.SetInput(name, k, j.resolveValue(v)); err != nil {
			return err
		}
		slog.Debug("bound job input", "node", name, "field", k, "value", v.String())
	}
	if len(problems) > 0 {
		return &pipeline.ValidationError{Problems: problems}
	}
	return nil
}

func (j *Job) resolveValue(v pipeline.Value) pipeline.Value {
	switch v.Kind {
	case pipeline.KindPath:
		return pipeline.Path(j.resolve(v.Str))
	case pipeline.KindList:
		out := make([]pipeline.Value, len(v.List))
		for i, e := range v.List {
			out[i] = j.resolveValue(e)
		}
		return pipeline.List(out...)
	}
	return v
}
