package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// stateString pads and colours a node state for the status table.
func stateString(r *pipeline.NodeResult) string {
	s := fmt.Sprintf("%-9s", r.State)
	switch r.State {
	case pipeline.StateSucceeded:
		if r.Reused {
			return color.CyanString("%-9s", "reused")
		}
		return color.GreenString("%s", s)
	case pipeline.StateFailed:
		return color.RedString("%s", s)
	case pipeline.StateSkipped:
		return color.YellowString("%s", s)
	}
	return color.WhiteString("%s", s)
}

// printReport writes one line per node followed by a summary.
func printReport(w io.Writer, r *pipeline.Report) {
	maxIDLen := 4
	for _, n := range r.Nodes {
		if len(n.Node) > maxIDLen {
			maxIDLen = len(n.Node)
		}
	}

	fmt.Fprintf(w, "\n%s  %s\n", color.HiWhiteString("%s", r.Workflow), color.BlueString("%s", r.Dir))
	for _, n := range r.Nodes {
		detail := ""
		switch n.State {
		case pipeline.StateFailed:
			detail = truncate(firstLine(n.Cause), 80)
			if n.CrashFile != "" {
				detail += "  " + color.MagentaString("%s", n.CrashFile)
			}
		case pipeline.StateSkipped:
			if n.CausedBy != "" {
				detail = "upstream " + n.CausedBy + " failed"
			} else {
				detail = truncate(firstLine(n.Cause), 80)
			}
		case pipeline.StateSucceeded:
			if !n.Finished.IsZero() && !n.Started.IsZero() {
				detail = n.Finished.Sub(n.Started).Round(1e6).String()
			}
		}
		if len(n.Elements) > 0 {
			detail = fmt.Sprintf("[%d elements] %s", len(n.Elements), detail)
		}
		fmt.Fprintf(w, "  %-*s  %s  %s\n", maxIDLen, n.Node, stateString(n), detail)
	}

	summary := fmt.Sprintf("%d succeeded, %d failed, %d skipped",
		r.Count(pipeline.StateSucceeded), r.Count(pipeline.StateFailed), r.Count(pipeline.StateSkipped))
	if r.Count(pipeline.StateFailed) > 0 {
		fmt.Fprintln(w, color.RedString("%s", summary))
	} else {
		fmt.Fprintln(w, color.GreenString("%s", summary))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
