package pipeline

// Plan is a frozen workflow: nodes in execution order with every input and
// predicted output resolved.
type Plan struct {
	wf     *Workflow
	steps  []*Step
	byName map[string]*Step
}

// Step is one node of a Plan.
type Step struct {
	Node *Node
	// Inputs are the node-level values. For Map nodes iterated fields hold
	// the full lists.
	Inputs map[string]Value
	// Outputs are the predicted outputs. Map nodes hold index-aligned lists.
	Outputs map[string]Value
	// Calls holds one entry for a scalar node, one per element for a Map node.
	Calls []Call

	pos        int
	preds      []int
	succs      []int
	unresolved bool
}

// Workflow returns the workflow the plan was frozen from.
func (p *Plan) Workflow() *Workflow { return p.wf }

// Order returns node names in execution order: Kahn's algorithm with ties
// broken by insertion order.
func (p *Plan) Order() []string {
	out := make([]string, len(p.steps))
	for i, st := range p.steps {
		out[i] = st.Node.Name
	}
	return out
}

// Steps returns the steps in execution order.
func (p *Plan) Steps() []*Step {
	out := make([]*Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Step returns the step for node name.
func (p *Plan) Step(name string) (*Step, bool) {
	st, ok := p.byName[name]
	return st, ok
}

// Predecessors returns the names of nodes feeding st.
func (p *Plan) Predecessors(st *Step) []string {
	return p.names(st.preds)
}

// Successors returns the names of nodes fed by st.
func (p *Plan) Successors(st *Step) []string {
	return p.names(st.succs)
}

func (p *Plan) names(idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = p.steps[j].Node.Name
	}
	return out
}

// link translates insertion-index adjacency into plan positions.
func (p *Plan) link(g *adjacency) {
	for _, st := range p.steps {
		for _, j := range g.incoming[st.Node.index] {
			st.preds = append(st.preds, p.byName[g.names[j]].pos)
		}
		for _, j := range g.outgoing[st.Node.index] {
			st.succs = append(st.succs, p.byName[g.names[j]].pos)
		}
	}
}
