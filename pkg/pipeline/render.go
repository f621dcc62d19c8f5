package pipeline

import (
	"fmt"

	gographviz "github.com/awalterschulze/gographviz"
)

var stateColors = map[State]string{
	StatePending:   "white",
	StateReady:     "white",
	StateRunning:   "lightblue",
	StateSucceeded: "palegreen",
	StateFailed:    "salmon",
	StateSkipped:   "lightgrey",
}

// RenderDOT draws plan as a Graphviz digraph in execution order. When
// report is non-nil nodes are filled by their final state.
func RenderDOT(plan *Plan, report *Report) (string, error) {
	if plan == nil {
		return "", fmt.Errorf("plan must not be nil")
	}
	g := gographviz.NewEscape()
	name := plan.Workflow().Name()
	if name == "" {
		name = "workflow"
	}
	if err := g.SetName(name); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(name, "rankdir", "LR"); err != nil {
		return "", err
	}

	for _, st := range plan.steps {
		n := st.Node
		label := fmt.Sprintf(`%s\n(%s)`, n.Name, n.Def.Name)
		shape := "box"
		switch {
		case n.Def.Mode == ModeInput:
			shape = "ellipse"
		case n.IsMap():
			shape = "box3d"
			label += fmt.Sprintf(` x%d`, len(st.Calls))
		case n.Def.Mode == ModePure:
			shape = "hexagon"
		}
		attrs := map[string]string{"label": label, "shape": shape}
		if report != nil {
			if res, ok := report.Node(n.Name); ok {
				attrs["style"] = "filled"
				attrs["fillcolor"] = stateColors[res.State]
				if res.Cause != "" {
					attrs["tooltip"] = res.Cause
				}
			}
		}
		if err := g.AddNode(name, n.Name, attrs); err != nil {
			return "", fmt.Errorf("node %q: %w", n.Name, err)
		}
	}

	for _, e := range plan.wf.edges {
		attrs := map[string]string{"label": e.FromField + ":" + e.ToField}
		if e.Promote {
			attrs["style"] = "dashed"
		}
		if err := g.AddEdge(e.From, e.To, true, attrs); err != nil {
			return "", fmt.Errorf("edge %s: %w", e, err)
		}
	}
	return g.String(), nil
}
