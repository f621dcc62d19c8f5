package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Workflow is a named, directory-scoped graph of nodes and field-level edges.
// It is mutable until Freeze succeeds; a frozen Plan is what runs.
type Workflow struct {
	name    string
	baseDir string
	subject string
	session string

	nodes map[string]*Node
	order []*Node
	edges []*Edge
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithSubject splices a subject identifier into the working directory.
func WithSubject(id string) Option {
	return func(w *Workflow) { w.subject = id }
}

// WithSession appends a session identifier to the workflow name.
func WithSession(id string) Option {
	return func(w *Workflow) { w.session = id }
}

// WithBaseDir replaces the scan directory the working directory hangs off.
func WithBaseDir(dir string) Option {
	return func(w *Workflow) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		w.baseDir = dir
	}
}

// NewWorkflow creates an empty workflow whose working directory is
// <baseDir>/<subject>/pipeline/<name>[_<session>].
func NewWorkflow(name, baseDir string, opts ...Option) *Workflow {
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	w := &Workflow{name: name, baseDir: baseDir, nodes: make(map[string]*Node)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name is the workflow name including the session suffix.
func (w *Workflow) Name() string {
	if w.session != "" {
		return w.name + "_" + w.session
	}
	return w.name
}

// Subject returns the subject identifier, if any.
func (w *Workflow) Subject() string { return w.subject }

// Session returns the session identifier, if any.
func (w *Workflow) Session() string { return w.session }

// Dir is the workflow's working directory.
func (w *Workflow) Dir() string {
	return filepath.Join(w.baseDir, w.subject, "pipeline", w.Name())
}

// Clean removes the working directory tree, then the enclosing "pipeline"
// directory if nothing else is left in it.
func (w *Workflow) Clean() error {
	dir := w.Dir()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	parent := filepath.Dir(dir)
	if filepath.Base(parent) != "pipeline" {
		return nil
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", parent, err)
	}
	if len(entries) == 0 {
		if err := os.Remove(parent); err != nil {
			return fmt.Errorf("remove %s: %w", parent, err)
		}
	}
	return nil
}

// Node returns the node called name.
func (w *Workflow) Node(name string) (*Node, bool) {
	n, ok := w.nodes[name]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (w *Workflow) Nodes() []*Node {
	out := make([]*Node, len(w.order))
	copy(out, w.order)
	return out
}

// Edges returns all edges in the order they were connected.
func (w *Workflow) Edges() []*Edge {
	out := make([]*Edge, len(w.edges))
	copy(out, w.edges)
	return out
}

// AddNode binds def under name with optional constant inputs.
func (w *Workflow) AddNode(def *Definition, name string, constants map[string]Value) (*Node, error) {
	return w.add(def, name, nil, constants)
}

// AddMapNode binds def as a Map node iterating jointly over iterfields.
func (w *Workflow) AddMapNode(def *Definition, name string, iterfields []string, constants map[string]Value) (*Node, error) {
	if len(iterfields) == 0 {
		return nil, &ValidationError{Problems: []Problem{problemf(ErrArityMismatch, name, "", "map node needs at least one iterated field")}}
	}
	return w.add(def, name, iterfields, constants)
}

// AddInput adds an identity node exposing fields as workflow inputs.
func (w *Workflow) AddInput(name string, fields ...InputField) (*Node, error) {
	return w.AddNode(InputDefinition(name, fields...), name, nil)
}

func (w *Workflow) add(def *Definition, name string, iterfields []string, constants map[string]Value) (*Node, error) {
	if def == nil {
		return nil, fmt.Errorf("node %q: nil definition", name)
	}
	if name == "" {
		return nil, fmt.Errorf("node name must not be empty")
	}
	if _, ok := w.nodes[name]; ok {
		return nil, &ValidationError{Problems: []Problem{problemf(ErrDuplicateNode, name, "", "name already used in workflow %q", w.Name())}}
	}
	var problems []Problem
	for _, f := range iterfields {
		if _, ok := def.Input(f); !ok {
			problems = append(problems, problemf(ErrUnknownField, name, f, "cannot iterate over undeclared input"))
		}
	}
	if err := validationErr(problems); err != nil {
		return nil, err
	}
	n := &Node{
		Name:   name,
		Def:    def,
		wf:     w,
		index:  len(w.order),
		consts: make(map[string]Value),
		in:     make(map[string]*Edge),
		iter:   append([]string(nil), iterfields...),
		shared: make(map[string]bool),
	}
	for _, field := range sortedKeys(constants) {
		if err := n.Set(field, constants[field]); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				problems = append(problems, ve.Problems...)
				continue
			}
			return nil, err
		}
	}
	if err := validationErr(problems); err != nil {
		return nil, err
	}
	w.nodes[name] = n
	w.order = append(w.order, n)
	return n, nil
}

// SetInput binds a constant to node.field, addressed by name.
func (w *Workflow) SetInput(node, field string, v Value) error {
	n, ok := w.nodes[node]
	if !ok {
		return &ValidationError{Problems: []Problem{problemf(ErrUnknownNode, node, field, "not in workflow %q", w.Name())}}
	}
	return n.Set(field, v)
}

// Connect feeds dst.dstField from src.srcField. It fails when the field is
// already bound or the types are incompatible. A scalar source feeding an
// iterated field is promoted to a singleton list.
func (w *Workflow) Connect(src *Node, srcField string, dst *Node, dstField string) error {
	if src == nil || dst == nil || src.wf != w || dst.wf != w {
		return &ValidationError{Problems: []Problem{problemf(ErrUnknownNode, "", "", "both nodes must belong to workflow %q", w.Name())}}
	}
	srcT, ok := src.OutputType(srcField)
	if !ok {
		return &ValidationError{Problems: []Problem{problemf(ErrUnknownField, src.Name, srcField, "definition %q has no such output", src.Def.Name)}}
	}
	f, ok := dst.Def.Input(dstField)
	if !ok {
		return &ValidationError{Problems: []Problem{problemf(ErrUnknownField, dst.Name, dstField, "definition %q has no such input", dst.Def.Name)}}
	}
	if err := dst.checkFree(dstField); err != nil {
		return err
	}
	promote := false
	if want := dst.inputType(f); !compatible(srcT, want) {
		if !dst.isIterated(dstField) || !compatible(srcT, f.Type) {
			return &ValidationError{Problems: []Problem{problemf(ErrTypeMismatch, dst.Name, dstField,
				"%s.%s produces %s, field accepts %s", src.Name, srcField, srcT, want)}}
		}
		promote = true
	}
	e := &Edge{From: src.Name, FromField: srcField, To: dst.Name, ToField: dstField, Promote: promote}
	w.edges = append(w.edges, e)
	dst.in[dstField] = e
	return nil
}

// ConnectNames is Connect addressed by node name.
func (w *Workflow) ConnectNames(src, srcField, dst, dstField string) error {
	var problems []Problem
	s, ok := w.nodes[src]
	if !ok {
		problems = append(problems, problemf(ErrUnknownNode, src, "", "not in workflow %q", w.Name()))
	}
	d, ok := w.nodes[dst]
	if !ok {
		problems = append(problems, problemf(ErrUnknownNode, dst, "", "not in workflow %q", w.Name()))
	}
	if err := validationErr(problems); err != nil {
		return err
	}
	return w.Connect(s, srcField, d, dstField)
}

// Embed copies every node and edge of sub into w under "<prefix>.<name>".
// The embedded nodes can then be connected like any other node.
func (w *Workflow) Embed(prefix string, sub *Workflow) error {
	if prefix == "" {
		return fmt.Errorf("embed %q: empty prefix", sub.Name())
	}
	var problems []Problem
	for _, n := range sub.order {
		if _, ok := w.nodes[prefix+"."+n.Name]; ok {
			problems = append(problems, problemf(ErrDuplicateNode, prefix+"."+n.Name, "", "name already used in workflow %q", w.Name()))
		}
	}
	if err := validationErr(problems); err != nil {
		return err
	}
	for _, n := range sub.order {
		cp := &Node{
			Name:   prefix + "." + n.Name,
			Def:    n.Def,
			wf:     w,
			index:  len(w.order),
			consts: n.Constants(),
			in:     make(map[string]*Edge),
			iter:   n.Iterated(),
			policy: n.policy,
			shared: make(map[string]bool, len(n.shared)),
		}
		for f := range n.shared {
			cp.shared[f] = true
		}
		w.nodes[cp.Name] = cp
		w.order = append(w.order, cp)
	}
	for _, e := range sub.edges {
		cp := &Edge{
			From:      prefix + "." + e.From,
			FromField: e.FromField,
			To:        prefix + "." + e.To,
			ToField:   e.ToField,
			Promote:   e.Promote,
		}
		w.edges = append(w.edges, cp)
		w.nodes[cp.To].in[cp.ToField] = cp
	}
	return nil
}
