package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/sctflow/pkg/job"
	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline/tools"
	"github.com/ravi-parthasarathy/sctflow/pkg/toolspec"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func rootCmd() *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:   "sctflow",
		Short: "sctflow: spinal cord MRI workflow runner",
		Long: `sctflow runs task graphs of Spinal Cord Toolbox commands.

A job file picks a workflow (t2, dti, mtr, spine_template, or a DOT graph),
places it under <base_dir>/<subject>/pipeline/ and binds its inputs. Every
output path is predicted before anything runs.

spine_template uses the in-process steps threshold_labels and
generate_template; supply command replacements for them with --tools.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initLogger(logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(runCmd())
	root.AddCommand(resumeCmd())
	root.AddCommand(lintCmd())
	root.AddCommand(graphCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(cleanCmd())
	return root
}

// initLogger installs the default slog handler.
func initLogger(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q: use debug, info, warn or error", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// ─── run ──────────────────────────────────────────────────────────────────────

type runFlags struct {
	toolPaths  []string
	workers    int
	mapWorkers int
	policy     string
	reportPath string
	timeout    time.Duration
	quiet      bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.toolPaths, "tools", nil, "HCL tool definition files or directories (repeatable)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrently running nodes (default: CPU count)")
	cmd.Flags().IntVar(&f.mapWorkers, "map-workers", 0, "concurrently running elements of one map node (default: --workers)")
	cmd.Flags().StringVar(&f.policy, "policy", "best_effort", "failure policy: best_effort or fail_fast")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "report path, .json or .yaml (default: <workflow dir>/report.json)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-command timeout (0 = none)")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "do not print the status table")
}

func runCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Execute a job from the beginning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), args[0], flags, nil)
		},
	}
	flags.register(cmd)
	return cmd
}

// ─── resume ───────────────────────────────────────────────────────────────────

func resumeCmd() *cobra.Command {
	var (
		flags runFlags
		from  string
	)

	cmd := &cobra.Command{
		Use:   "resume <job.yaml>",
		Short: "Re-run a job, reusing nodes that succeeded in an earlier report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := from
			if path == "" {
				// Default to the report run would have written.
				w, err := loadJob(args[0], flags.toolPaths)
				if err != nil {
					return err
				}
				path = defaultReportPath(w)
			}
			prev, err := pipeline.LoadReport(path)
			if err != nil {
				return fmt.Errorf("load report: %w", err)
			}
			fmt.Printf("[sctflow] resuming run %s (%d of %d nodes succeeded)\n",
				prev.RunID, prev.Count(pipeline.StateSucceeded), len(prev.Nodes))
			return execute(cmd.Context(), args[0], flags, prev)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&from, "from", "", "report of the earlier run (default: <workflow dir>/report.json)")
	return cmd
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	var toolPaths []string

	cmd := &cobra.Command{
		Use:   "lint <job.yaml>",
		Short: "Build and freeze a job without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			w, err := loadJob(args[0], toolPaths)
			if err != nil {
				return err
			}
			plan, err := w.Freeze()
			if err != nil {
				return err
			}
			fmt.Printf("OK: workflow %q is valid (%d nodes, %d edges)\n  dir: %s\n",
				w.Name(), len(plan.Steps()), len(w.Edges()), w.Dir())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&toolPaths, "tools", nil, "HCL tool definition files or directories (repeatable)")
	return cmd
}

// ─── clean ────────────────────────────────────────────────────────────────────

func cleanCmd() *cobra.Command {
	var toolPaths []string

	cmd := &cobra.Command{
		Use:   "clean <job.yaml>",
		Short: "Remove the working directory of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			w, err := loadJob(args[0], toolPaths)
			if err != nil {
				return err
			}
			if err := w.Clean(); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", w.Dir())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&toolPaths, "tools", nil, "HCL tool definition files or directories (repeatable)")
	return cmd
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func execute(ctx context.Context, jobPath string, flags runFlags, prev *pipeline.Report) error {
	policy, err := pipeline.ParsePolicy(flags.policy)
	if err != nil {
		return err
	}
	w, err := loadJob(jobPath, flags.toolPaths)
	if err != nil {
		return err
	}
	plan, err := w.Freeze()
	if err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	exec, err := pipeline.NewExecutor(&tools.ExecRunner{Timeout: flags.timeout}, pipeline.Options{
		Workers:        flags.workers,
		MapConcurrency: flags.mapWorkers,
		Policy:         policy,
		Previous:       prev,
	})
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	report, runErr := exec.Run(signalContext(ctx), plan)
	if report == nil {
		return runErr
	}
	reportPath := flags.reportPath
	if reportPath == "" {
		reportPath = defaultReportPath(w)
	}
	if err := report.Save(reportPath); err != nil {
		slog.Error("failed to save report", "path", reportPath, "error", err)
	} else {
		slog.Info("report written", "path", reportPath)
	}
	if !flags.quiet {
		printReport(os.Stdout, report)
	}
	return runErr
}

// loadJob reads the job file, builds the catalog and constructs the bound
// workflow.
func loadJob(path string, toolPaths []string) (*pipeline.Workflow, error) {
	j, err := job.Load(path)
	if err != nil {
		return nil, err
	}
	cat, err := buildCatalog(toolPaths)
	if err != nil {
		return nil, err
	}
	w, err := j.Build(cat)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// buildCatalog returns the built-in catalog with any HCL tool definitions
// layered on top. HCL definitions replace built-ins of the same name.
func buildCatalog(toolPaths []string) (*pipeline.Catalog, error) {
	cat := tools.Builtin()
	if len(toolPaths) == 0 {
		return cat, nil
	}
	defs, err := toolspec.Load(toolPaths...)
	if err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}
	if err := toolspec.Register(cat, defs, true); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return cat, nil
}

func defaultReportPath(w *pipeline.Workflow) string {
	return filepath.Join(w.Dir(), "report.json")
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[sctflow] interrupted, cancelling workflow")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pipeline.ErrRunFailed):
		return 2
	default:
		return 1
	}
}
