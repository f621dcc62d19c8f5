package pipeline

import (
	"container/heap"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Freeze validates the whole workflow and, if it is sound, returns the
// resolved Plan. All problems are reported together: cycles (with the
// offending node sequence), unbound required inputs, enum and range
// violations, map arity and selection bounds, colliding output paths and
// compute nodes without an implementation.
// A workflow that fails Freeze has no Plan and cannot run.
func (w *Workflow) Freeze() (*Plan, error) {
	g := newAdjacency(w)
	problems := w.completeness()

	if cycle := g.findCycle(); cycle != nil {
		problems = append(problems, Problem{
			Kind:    ErrCycle,
			Message: strings.Join(cycle, " -> "),
			Cycle:   cycle,
		})
		return nil, validationErr(problems)
	}

	incomplete := map[string]bool{}
	for _, p := range problems {
		incomplete[p.Node] = true
	}

	plan := &Plan{wf: w, byName: make(map[string]*Step, len(w.order))}
	for _, i := range g.topoOrder() {
		n := w.order[i]
		st := &Step{Node: n, pos: len(plan.steps)}
		plan.steps = append(plan.steps, st)
		plan.byName[n.Name] = st

		values, ok := plan.gather(n)
		if !ok || incomplete[n.Name] {
			st.unresolved = true
			continue
		}
		if ps := st.resolve(values); len(ps) > 0 {
			problems = append(problems, ps...)
			st.unresolved = true
		}
	}
	plan.link(g)
	problems = append(problems, plan.collisions()...)
	problems = append(problems, w.unimplemented()...)

	if err := validationErr(problems); err != nil {
		return nil, err
	}
	return plan, nil
}

// completeness reports required inputs that have neither an edge, a
// constant nor a default.
func (w *Workflow) completeness() []Problem {
	var problems []Problem
	for _, n := range w.order {
		for _, f := range n.Def.Inputs {
			if !f.Required || f.Default.IsSet() {
				continue
			}
			if _, ok := n.consts[f.Name]; ok {
				continue
			}
			if _, ok := n.in[f.Name]; ok {
				continue
			}
			problems = append(problems, problemf(ErrMissingInput, n.Name, f.Name, "no edge or constant bound"))
		}
	}
	return problems
}

// unimplemented reports compute nodes whose definition was never given a
// Go function with Catalog.Implement.
func (w *Workflow) unimplemented() []Problem {
	var problems []Problem
	for _, n := range w.order {
		if n.Def.Mode == ModeCompute && n.Def.Compute == nil {
			problems = append(problems, problemf(ErrNotImplemented, n.Name, "", "definition %q needs Catalog.Implement or a command replacement", n.Def.Name))
		}
	}
	return problems
}

// gather collects constants and upstream outputs feeding n. It returns
// false if an upstream step could not be resolved.
func (p *Plan) gather(n *Node) (map[string]Value, bool) {
	values := n.Constants()
	for _, field := range sortedKeys(n.in) {
		e := n.in[field]
		src, ok := p.byName[e.From]
		if !ok || src.unresolved {
			return nil, false
		}
		v, ok := src.Outputs[e.FromField]
		if !ok {
			// Optional input fields left unset produce nothing.
			continue
		}
		if e.Promote {
			v = List(v)
		}
		values[field] = v
	}
	return values, true
}

// resolve expands, validates and predicts every call of the step.
func (st *Step) resolve(values map[string]Value) []Problem {
	n := st.Node
	if !n.IsMap() {
		resolved, ps := n.Def.resolve(n.Name, values)
		if len(ps) > 0 {
			return ps
		}
		outputs, err := n.Def.predict(resolved, n.Dir())
		if err != nil {
			return []Problem{predictProblem(n.Name, err)}
		}
		st.Inputs = resolved
		st.Outputs = outputs
		st.Calls = []Call{{Node: n.Name, Index: -1, Dir: n.Dir(), Inputs: resolved, Outputs: outputs}}
		return nil
	}

	elems, err := n.Expand(values)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ve.Problems
		}
		return []Problem{predictProblem(n.Name, err)}
	}
	var problems []Problem
	st.Inputs = values
	st.Calls = make([]Call, len(elems))
	for i, elem := range elems {
		resolved, ps := n.Def.resolve(n.Name, elem)
		for _, p := range ps {
			p.Message = fmt.Sprintf("element %d: %s", i, p.Message)
			problems = append(problems, p)
		}
		if len(ps) > 0 {
			continue
		}
		dir := filepath.Join(n.Dir(), fmt.Sprintf("_%d", i))
		outputs, err := n.Def.predict(resolved, dir)
		if err != nil {
			problems = append(problems, predictProblem(n.Name, fmt.Errorf("element %d: %w", i, err)))
			continue
		}
		st.Calls[i] = Call{Node: n.Name, Index: i, Dir: dir, Inputs: resolved, Outputs: outputs}
	}
	if len(problems) > 0 {
		return problems
	}
	st.Outputs = make(map[string]Value, len(n.Def.Outputs))
	for _, o := range n.Def.Outputs {
		list := make([]Value, len(st.Calls))
		for i, c := range st.Calls {
			list[i] = c.Outputs[o.Name]
		}
		st.Outputs[o.Name] = Value{Kind: KindList, List: list}
	}
	return nil
}

func predictProblem(node string, err error) Problem {
	kind := ErrTypeMismatch
	if errors.Is(err, ErrArityMismatch) {
		kind = ErrArityMismatch
	}
	msg := err.Error()
	if kind == ErrArityMismatch {
		msg = strings.TrimPrefix(msg, ErrArityMismatch.Error()+": ")
	}
	return Problem{Kind: kind, Node: node, Message: msg}
}

type pathClaim struct {
	step  *Step
	call  int
	field string
}

// collisions reports file outputs predicted by more than one producer.
// Shared marks on both sides, or two calls of the same definition with
// identical inputs, are accepted.
func (p *Plan) collisions() []Problem {
	var problems []Problem
	seen := map[string]pathClaim{}
	for _, st := range p.steps {
		if st.unresolved || st.Node.Def.Mode == ModePure || st.Node.Def.Mode == ModeInput {
			continue
		}
		for ci, call := range st.Calls {
			for _, o := range st.Node.Def.Outputs {
				for _, path := range flattenPaths(nil, call.Outputs[o.Name]) {
					prev, ok := seen[path]
					if !ok {
						seen[path] = pathClaim{step: st, call: ci, field: o.Name}
						continue
					}
					if prev.step.Node.Shared(prev.field) && st.Node.Shared(o.Name) {
						continue
					}
					sameCall := prev.step == st && prev.call == ci
					if sameCall {
						// The tool would overwrite one of its own outputs.
						problems = append(problems, problemf(ErrDuplicateOutput, st.Node.Name, o.Name,
							"%s is also predicted for %s of the same invocation", path, prev.field))
						continue
					}
					if prev.step.Node.Def == st.Node.Def && sameInputs(prev.step.Calls[prev.call].Inputs, call.Inputs) {
						continue
					}
					problems = append(problems, problemf(ErrDuplicateOutput, st.Node.Name, o.Name,
						"%s is also predicted for %s.%s", path, prev.step.Node.Name, prev.field))
				}
			}
		}
	}
	return problems
}

func sameInputs(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		o, ok := b[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

// adjacency is the node graph shared by cycle detection and ordering.
// Indices are insertion positions.
type adjacency struct {
	names    []string
	outgoing [][]int
	incoming [][]int
}

func newAdjacency(w *Workflow) *adjacency {
	g := &adjacency{
		names:    make([]string, len(w.order)),
		outgoing: make([][]int, len(w.order)),
		incoming: make([][]int, len(w.order)),
	}
	seen := map[[2]int]bool{}
	for i, n := range w.order {
		g.names[i] = n.Name
	}
	for _, e := range w.edges {
		from, to := w.nodes[e.From].index, w.nodes[e.To].index
		if seen[[2]int{from, to}] {
			continue
		}
		seen[[2]int{from, to}] = true
		g.outgoing[from] = append(g.outgoing[from], to)
		g.incoming[to] = append(g.incoming[to], from)
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}
	return g
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// topoOrder is Kahn's algorithm with ties broken by insertion index.
func (g *adjacency) topoOrder() []int {
	indeg := make([]int, len(g.names))
	for i := range g.incoming {
		indeg[i] = len(g.incoming[i])
	}
	ready := &indexHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle runs a white/gray/black DFS in insertion order and returns the
// first cycle found as node names, first node repeated last, or nil.
func (g *adjacency) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.names))
	parent := make([]int, len(g.names))
	for i := range parent {
		parent[i] = -1
	}
	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// back edge u -> v closes v ... u -> v
				for cur := u; cur != v && cur != -1; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range g.names {
		if color[i] == white && dfs(i) {
			break
		}
	}
	if cycle == nil {
		return nil
	}
	out := make([]string, 0, len(cycle)+1)
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.names[cycle[i]])
	}
	return append(out, out[0])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
