// Package workflows builds the standard spinal-cord workflows from a tool
// catalog.
package workflows

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// Params place a workflow and tune the few choices the standard workflows
// expose.
type Params struct {
	// BaseDir is the scan directory the pipeline tree is created under.
	BaseDir string
	Subject string
	Session string
	// Vertebrae restricts CSA and metric extraction to a level range such
	// as "2:3". Empty means all levels.
	Vertebrae string
	// ComputeCSA adds cord morphometrics to the MTR workflow.
	ComputeCSA bool
	// TemplateIndex picks the subject that seeds the spine template.
	TemplateIndex int
}

func (p Params) options() []pipeline.Option {
	var opts []pipeline.Option
	if p.Subject != "" {
		opts = append(opts, pipeline.WithSubject(p.Subject))
	}
	if p.Session != "" {
		opts = append(opts, pipeline.WithSession(p.Session))
	}
	return opts
}

// Constructor builds a workflow from the definitions in cat.
type Constructor func(cat *pipeline.Catalog, p Params) (*pipeline.Workflow, error)

var constructors = map[string]Constructor{
	"t2":             T2,
	"dti":            DTI,
	"mtr":            MTR,
	"spine_template": SpineTemplate,
}

// Lookup returns the constructor registered under name.
func Lookup(name string) (Constructor, error) {
	c, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q: use one of %v", name, Names())
	}
	return c, nil
}

// Names lists the built-in workflows.
func Names() []string {
	out := make([]string, 0, len(constructors))
	for name := range constructors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// builder collects construction errors so that a workflow body reads as a
// flat list of nodes and edges.
type builder struct {
	w    *pipeline.Workflow
	cat  *pipeline.Catalog
	errs []error
}

func newBuilder(cat *pipeline.Catalog, name string, p Params) *builder {
	return &builder{w: pipeline.NewWorkflow(name, p.BaseDir, p.options()...), cat: cat}
}

func (b *builder) input(name string, fields ...pipeline.InputField) {
	if _, err := b.w.AddInput(name, fields...); err != nil {
		b.errs = append(b.errs, err)
	}
}

func (b *builder) node(def, name string, consts map[string]pipeline.Value) {
	d, err := b.cat.Get(def)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("node %q: %w", name, err))
		return
	}
	if _, err := b.w.AddNode(d, name, consts); err != nil {
		b.errs = append(b.errs, err)
	}
}

func (b *builder) mapNode(def, name string, iter []string, consts map[string]pipeline.Value) {
	d, err := b.cat.Get(def)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("node %q: %w", name, err))
		return
	}
	if _, err := b.w.AddMapNode(d, name, iter, consts); err != nil {
		b.errs = append(b.errs, err)
	}
}

func (b *builder) connect(src, srcField, dst, dstField string) {
	if len(b.errs) > 0 {
		return
	}
	if err := b.w.ConnectNames(src, srcField, dst, dstField); err != nil {
		b.errs = append(b.errs, err)
	}
}

func (b *builder) done() (*pipeline.Workflow, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("build workflow %q: %w", b.w.Name(), err)
	}
	return b.w, nil
}

func path(name string) pipeline.InputField {
	return pipeline.InputField{Name: name, Type: pipeline.PathType, Required: true}
}
