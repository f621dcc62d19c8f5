package pipeline

import (
	"fmt"
	"strings"
)

// Expand splits the node's resolved values into one binding set per
// element. Every iterated field must hold a list and all of them must have
// the same length; non-iterated values are shared by every element. An
// unbound iterated field with a declared default gives every element that
// default, and a map node whose iterated fields are all defaulted expands
// to a single element. A scalar node expands to a single element.
func (n *Node) Expand(values map[string]Value) ([]map[string]Value, error) {
	if !n.IsMap() {
		return []map[string]Value{values}, nil
	}
	length := -1
	mismatch := false
	var problems []Problem
	lens := make([]string, 0, len(n.iter))
	for _, f := range n.iter {
		v, ok := values[f]
		if !ok {
			if in, _ := n.Def.Input(f); !in.Default.IsSet() {
				problems = append(problems, problemf(ErrMissingInput, n.Name, f, "iterated field is not bound"))
			}
			continue
		}
		if v.Kind != KindList {
			return nil, &ValidationError{Problems: []Problem{problemf(ErrTypeMismatch, n.Name, f, "iterated field holds %s, not a list", v.Kind)}}
		}
		lens = append(lens, fmt.Sprintf("%s=%d", f, len(v.List)))
		switch {
		case length < 0:
			length = len(v.List)
		case len(v.List) != length:
			mismatch = true
		}
	}
	if mismatch {
		problems = append(problems, problemf(ErrArityMismatch, n.Name, "", "iterated fields have unequal lengths (%s)", strings.Join(lens, ", ")))
	}
	if err := validationErr(problems); err != nil {
		return nil, err
	}
	if length < 0 {
		length = 1
	}
	out := make([]map[string]Value, length)
	for i := range out {
		elem := make(map[string]Value, len(values))
		for k, v := range values {
			elem[k] = v
		}
		for _, f := range n.iter {
			if v, ok := values[f]; ok {
				elem[f] = v.List[i]
			}
		}
		out[i] = elem
	}
	return out, nil
}
