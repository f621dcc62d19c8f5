package pipeline

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ElementPolicy controls how a Map node reacts to a failed element.
type ElementPolicy int

const (
	// AbortOnFirst cancels the remaining elements after the first failure.
	AbortOnFirst ElementPolicy = iota
	// CollectAll runs every element and reports all failures.
	CollectAll
)

func (p ElementPolicy) String() string {
	if p == CollectAll {
		return "collect"
	}
	return "abort"
}

// ParseElementPolicy accepts "abort" or "collect".
func ParseElementPolicy(s string) (ElementPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort", "abort_on_first":
		return AbortOnFirst, nil
	case "collect", "collect_all", "best_effort":
		return CollectAll, nil
	}
	return 0, fmt.Errorf("unknown element policy %q: use abort or collect", s)
}

// Node is a Definition bound into a Workflow under a unique name.
type Node struct {
	Name string
	Def  *Definition

	wf     *Workflow
	index  int
	consts map[string]Value
	in     map[string]*Edge
	iter   []string
	policy ElementPolicy
	shared map[string]bool
}

// Edge binds one node's output field to another node's input field.
type Edge struct {
	From      string
	FromField string
	To        string
	ToField   string
	// Promote wraps a scalar source into a singleton list for an iterated field.
	Promote bool
}

func (e *Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.From, e.FromField, e.To, e.ToField)
}

// IsMap reports whether the node fans out over iterated fields.
func (n *Node) IsMap() bool { return len(n.iter) > 0 }

// Iterated returns the iterated field names.
func (n *Node) Iterated() []string { return slices.Clone(n.iter) }

// Policy returns the element failure policy of a Map node.
func (n *Node) Policy() ElementPolicy { return n.policy }

// SetPolicy sets the element failure policy of a Map node.
func (n *Node) SetPolicy(p ElementPolicy) { n.policy = p }

// Dir is the node's working directory inside its workflow. Names of embedded
// nodes ("sub.node") nest.
func (n *Node) Dir() string {
	return filepath.Join(n.wf.Dir(), filepath.FromSlash(strings.ReplaceAll(n.Name, ".", "/")))
}

// Constants returns a copy of the constant bindings.
func (n *Node) Constants() map[string]Value {
	out := make(map[string]Value, len(n.consts))
	for k, v := range n.consts {
		out[k] = v
	}
	return out
}

// Source returns the edge feeding field, if any.
func (n *Node) Source(field string) (*Edge, bool) {
	e, ok := n.in[field]
	return e, ok
}

// Set binds a constant to an input field.
func (n *Node) Set(field string, v Value) error {
	f, ok := n.Def.Input(field)
	if !ok {
		return &ValidationError{Problems: []Problem{problemf(ErrUnknownField, n.Name, field, "definition %q has no such input", n.Def.Name)}}
	}
	if err := n.checkFree(field); err != nil {
		return err
	}
	want := n.inputType(f)
	cv, err := Coerce(v, want)
	if err != nil && n.isIterated(field) {
		// scalar constant on an iterated field: singleton promotion
		cv, err = Coerce(List(v), want)
	}
	if err != nil {
		return &ValidationError{Problems: []Problem{problemf(ErrTypeMismatch, n.Name, field, "%v", err)}}
	}
	n.consts[field] = cv
	return nil
}

// Share marks output fields whose predicted paths may be shared with another
// node that also marks them.
func (n *Node) Share(fields ...string) error {
	for _, f := range fields {
		if _, ok := n.Def.Output(f); !ok {
			return &ValidationError{Problems: []Problem{problemf(ErrUnknownField, n.Name, f, "definition %q has no such output", n.Def.Name)}}
		}
		n.shared[f] = true
	}
	return nil
}

// Shared reports whether field is marked shared.
func (n *Node) Shared(field string) bool { return n.shared[field] }

func (n *Node) checkFree(field string) error {
	if _, ok := n.consts[field]; ok {
		return &ValidationError{Problems: []Problem{problemf(ErrDuplicateBinding, n.Name, field, "already bound to a constant")}}
	}
	if e, ok := n.in[field]; ok {
		return &ValidationError{Problems: []Problem{problemf(ErrDuplicateBinding, n.Name, field, "already fed by %s", e)}}
	}
	return nil
}

func (n *Node) isIterated(field string) bool { return slices.Contains(n.iter, field) }

// inputType is the type a node accepts on field: list of the declared type
// for iterated fields.
func (n *Node) inputType(f InputField) Type {
	if n.isIterated(f.Name) {
		return ListOf(f.Type)
	}
	return f.Type
}

// OutputType is the type a node produces on field: Map nodes produce lists.
func (n *Node) OutputType(field string) (Type, bool) {
	o, ok := n.Def.Output(field)
	if !ok {
		return Type{}, false
	}
	if n.IsMap() {
		return ListOf(o.Type), true
	}
	return o.Type, true
}
