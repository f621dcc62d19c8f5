package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

func graphCmd() *cobra.Command {
	var (
		format     string
		reportPath string
		toolPaths  []string
	)

	cmd := &cobra.Command{
		Use:   "graph <job.yaml>",
		Short: "Print the frozen plan of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadJob(args[0], toolPaths)
			if err != nil {
				return err
			}
			plan, err := w.Freeze()
			if err != nil {
				return err
			}
			var report *pipeline.Report
			if reportPath != "" {
				if report, err = pipeline.LoadReport(reportPath); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "dot":
				s, err := pipeline.RenderDOT(plan, report)
				if err != nil {
					return err
				}
				fmt.Fprint(out, s)
			case "text", "":
				fmt.Fprint(out, renderText(plan))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	cmd.Flags().StringVar(&reportPath, "report", "", "colour nodes by the states in this report (dot only)")
	cmd.Flags().StringSliceVar(&toolPaths, "tools", nil, "HCL tool definition files or directories (repeatable)")
	return cmd
}

// truncate shortens s to maxLen chars, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// renderText lists nodes in execution order with their predicted outputs,
// followed by the field-level edges.
func renderText(plan *pipeline.Plan) string {
	var sb strings.Builder

	w := plan.Workflow()
	steps := plan.Steps()
	edges := w.Edges()
	fmt.Fprintf(&sb, "Workflow: %s  (%d nodes, %d edges)\n", w.Name(), len(steps), len(edges))
	fmt.Fprintf(&sb, "Dir:      %s\n", w.Dir())

	maxIDLen := 4
	for _, st := range steps {
		if len(st.Node.Name) > maxIDLen {
			maxIDLen = len(st.Node.Name)
		}
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, st := range steps {
		def := st.Node.Def.Name
		if st.Node.IsMap() {
			def += fmt.Sprintf(" x%d", len(st.Calls))
		}
		keys := make([]string, 0, len(st.Outputs))
		for k := range st.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, k+"="+truncate(st.Outputs[k].String(), 60))
		}
		fmt.Fprintf(&sb, "  %-*s  %-24s  %s\n", maxIDLen, st.Node.Name, def, strings.Join(parts, " "))
	}

	fmt.Fprintf(&sb, "\nEdges:\n")
	maxFromLen := 4
	for _, e := range edges {
		if n := len(e.From) + len(e.FromField) + 1; n > maxFromLen {
			maxFromLen = n
		}
	}
	for _, e := range edges {
		from := e.From + "." + e.FromField
		to := e.To + "." + e.ToField
		if e.Promote {
			fmt.Fprintf(&sb, "  %-*s  →  %s  [promoted]\n", maxFromLen, from, to)
		} else {
			fmt.Fprintf(&sb, "  %-*s  →  %s\n", maxFromLen, from, to)
		}
	}

	return sb.String()
}
