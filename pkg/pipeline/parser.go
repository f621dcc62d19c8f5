package pipeline

import (
	"errors"
	"fmt"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// Node attributes with a meaning of their own. Every other attribute that
// is not a Graphviz presentation attribute binds a constant input.
const (
	attrDef     = "def"
	attrFields  = "fields"
	attrIterate = "iterate"
	attrShared  = "shared"
	attrOnError = "on_element_error"

	// defInput declares an identity node; its "fields" attribute lists
	// name:type pairs.
	defInput = "input"
)

var presentationAttrs = map[string]bool{
	"label": true, "shape": true, "color": true, "style": true,
	"fillcolor": true, "tooltip": true, "fontname": true, "fontcolor": true,
}

// ParseDOT builds a Workflow from a Graphviz DOT description. Definitions
// are looked up in cat. Graph attributes base_dir, subject and session
// place the working directory; opts are applied afterwards and win.
//
//	digraph t2 {
//	  base_dir="/data"
//	  input_node [def=input, fields="t2_image:path"]
//	  seg        [def=deepseg, contrast=t2]
//	  input_node -> seg [from=t2_image, to=input_image]
//	}
func ParseDOT(src string, cat *Catalog, opts ...Option) (*Workflow, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog must not be nil")
	}
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	baseDir := collector.graphAttrs["base_dir"]
	if baseDir == "" {
		baseDir = "."
	}
	var wfOpts []Option
	if s := collector.graphAttrs["subject"]; s != "" {
		wfOpts = append(wfOpts, WithSubject(s))
	}
	if s := collector.graphAttrs["session"]; s != "" {
		wfOpts = append(wfOpts, WithSession(s))
	}
	w := NewWorkflow(collector.name, baseDir, append(wfOpts, opts...)...)

	var errs []error
	for _, id := range collector.order {
		if err := addDOTNode(w, cat, id, collector.nodes[id]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, flatten(errs)
	}
	for _, e := range collector.edges {
		from, to := e.attrs["from"], e.attrs["to"]
		if from == "" || to == "" {
			errs = append(errs, fmt.Errorf("edge %s -> %s: from and to field attributes are required", e.from, e.to))
			continue
		}
		if err := w.ConnectNames(e.from, from, e.to, to); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, flatten(errs)
	}
	return w, nil
}

func addDOTNode(w *Workflow, cat *Catalog, id string, attrs map[string]string) error {
	defName := attrs[attrDef]
	if defName == "" {
		return fmt.Errorf("node %q: missing %q attribute", id, attrDef)
	}

	var def *Definition
	if defName == defInput {
		fields, err := parseFieldList(attrs[attrFields])
		if err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
		def = InputDefinition(id, fields...)
	} else {
		d, err := cat.Get(defName)
		if err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
		def = d
	}

	var iter []string
	if raw := attrs[attrIterate]; raw != "" {
		iter = splitList(raw)
	}
	constants := map[string]Value{}
	for _, k := range sortedKeys(attrs) {
		switch k {
		case attrDef, attrFields, attrIterate, attrShared, attrOnError:
			continue
		}
		f, ok := def.Input(k)
		if !ok {
			// Presentation attributes only apply when the definition has
			// no input of the same name.
			if presentationAttrs[k] {
				continue
			}
			return &ValidationError{Problems: []Problem{problemf(ErrUnknownField, id, k, "definition %q has no such input", def.Name)}}
		}
		t := f.Type
		for _, it := range iter {
			if it == k {
				t = ListOf(f.Type)
			}
		}
		v, err := ParseValue(t, attrs[k])
		if err != nil {
			return &ValidationError{Problems: []Problem{problemf(ErrTypeMismatch, id, k, "%v", err)}}
		}
		constants[k] = v
	}

	var (
		n   *Node
		err error
	)
	if len(iter) > 0 {
		n, err = w.AddMapNode(def, id, iter, constants)
	} else {
		n, err = w.AddNode(def, id, constants)
	}
	if err != nil {
		return err
	}
	if raw := attrs[attrShared]; raw != "" {
		if err := n.Share(splitList(raw)...); err != nil {
			return err
		}
	}
	if raw := attrs[attrOnError]; raw != "" {
		p, err := ParseElementPolicy(raw)
		if err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
		n.SetPolicy(p)
	}
	return nil
}

// parseFieldList parses "name:type, name:type". A trailing "?" on the name
// makes the field optional.
func parseFieldList(raw string) ([]InputField, error) {
	var out []InputField
	for _, item := range splitTopLevel(raw) {
		name, typ, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("field %q: want name:type", item)
		}
		t, err := ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		name = strings.TrimSpace(name)
		required := !strings.HasSuffix(name, "?")
		out = append(out, InputField{Name: strings.TrimSuffix(name, "?"), Type: t, Required: required})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("input node declares no fields")
	}
	return out, nil
}

// splitTopLevel splits on commas outside parentheses so that list(path)
// survives.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// flatten merges validation errors into one ValidationError and joins the
// rest.
func flatten(errs []error) error {
	var problems []Problem
	var other []error
	for _, err := range errs {
		var ve *ValidationError
		if errors.As(err, &ve) {
			problems = append(problems, ve.Problems...)
			continue
		}
		other = append(other, err)
	}
	if len(other) == 0 {
		return validationErr(problems)
	}
	if len(problems) > 0 {
		other = append(other, &ValidationError{Problems: problems})
	}
	return errors.Join(other...)
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, to string
	attrs    map[string]string
}

// dotCollector implements gographviz.Interface without attribute validation
// and remembers the order nodes were declared in.
type dotCollector struct {
	name       string
	nodes      map[string]map[string]string
	order      []string
	edges      []rawEdge
	graphAttrs map[string]string
}

func newDOTCollector() *dotCollector {
	return &dotCollector{
		nodes:      make(map[string]map[string]string),
		graphAttrs: make(map[string]string),
	}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, attrs map[string]string) error {
	e := rawEdge{from: unquote(src), to: unquote(dst), attrs: make(map[string]string, len(attrs))}
	for k, v := range attrs {
		e.attrs[k] = unquote(v)
	}
	c.edges = append(c.edges, e)
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, field, value string) error {
	c.graphAttrs[field] = unquote(value)
	return nil
}

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// unquote strips surrounding double-quotes from a DOT attribute value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
