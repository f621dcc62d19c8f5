package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

func toolsCmd() *cobra.Command {
	var toolPaths []string

	cmd := &cobra.Command{
		Use:   "tools [name]",
		Short: "List tool definitions, or describe one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := buildCatalog(toolPaths)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				listTools(out, cat)
				return nil
			}
			d, err := cat.Get(args[0])
			if err != nil {
				return err
			}
			describeTool(out, d)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&toolPaths, "tools", nil, "HCL tool definition files or directories (repeatable)")
	return cmd
}

func listTools(w io.Writer, cat *pipeline.Catalog) {
	names := cat.Names()
	maxLen := 4
	for _, n := range names {
		if len(n) > maxLen {
			maxLen = len(n)
		}
	}
	for _, n := range names {
		d, err := cat.Get(n)
		if err != nil {
			continue
		}
		run := d.Command
		if d.Mode != pipeline.ModeCommand {
			run = "(" + d.Mode.String() + ")"
		}
		fmt.Fprintf(w, "  %-*s  %-32s  %s\n", maxLen, n, run, truncate(d.Doc, 60))
	}
}

func describeTool(w io.Writer, d *pipeline.Definition) {
	fmt.Fprintf(w, "%s", color.HiWhiteString("%s", d.Name))
	if d.Command != "" {
		fmt.Fprintf(w, "  %s", color.BlueString("%s", d.Command))
	}
	fmt.Fprintf(w, "  [%s]\n", d.Mode)
	if d.Doc != "" {
		fmt.Fprintf(w, "  %s\n", d.Doc)
	}

	fmt.Fprintf(w, "\nInputs:\n")
	for _, f := range d.Inputs {
		var attrs []string
		if f.Required {
			attrs = append(attrs, color.YellowString("required"))
		}
		if f.Flag != "" {
			attrs = append(attrs, "flag="+f.Flag)
		}
		if len(f.Allowed) > 0 {
			attrs = append(attrs, "one of "+strings.Join(f.Allowed, "|"))
		}
		if f.Default.IsSet() {
			attrs = append(attrs, "default="+f.Default.String())
		}
		fmt.Fprintf(w, "  %-28s  %-12s  %s  %s\n", f.Name, f.Type, strings.Join(attrs, " "), f.Doc)
	}

	fmt.Fprintf(w, "\nOutputs:\n")
	for _, o := range d.Outputs {
		fmt.Fprintf(w, "  %-28s  %-12s  %s  %s\n", o.Name, o.Type, describeRule(o.Rule), o.Doc)
	}
}

func describeRule(r pipeline.NamingRule) string {
	var s string
	switch {
	case r.Name != nil:
		s = "computed"
	case r.Fixed != "":
		s = r.Fixed
	case r.Source != "":
		s = r.Prefix + "<" + r.Source + ">" + r.Suffix
		if r.Each {
			s += " per element"
		}
	}
	if r.Override != "" {
		s += " (override: " + r.Override + ")"
	}
	return s
}
