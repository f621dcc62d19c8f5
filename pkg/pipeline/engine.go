package pipeline

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Policy decides what happens to the rest of a run when a node fails.
type Policy int

const (
	// BestEffort lets independent branches finish and reports every failure.
	BestEffort Policy = iota
	// FailFast cancels in-flight work and starts nothing new.
	FailFast
)

func (p Policy) String() string {
	if p == FailFast {
		return "fail_fast"
	}
	return "best_effort"
}

// ParsePolicy accepts "best_effort" or "fail_fast".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best_effort", "best-effort":
		return BestEffort, nil
	case "fail_fast", "fail-fast":
		return FailFast, nil
	}
	return 0, fmt.Errorf("unknown failure policy %q: use best_effort or fail_fast", s)
}

// Options configure an Executor.
type Options struct {
	// Workers bounds concurrently running nodes. Defaults to the CPU count.
	Workers int
	// MapConcurrency bounds concurrently running elements of one Map node.
	// Defaults to Workers.
	MapConcurrency int
	Policy         Policy
	// Previous seeds nodes that succeeded in an earlier run, provided their
	// predicted outputs are unchanged and still on disk.
	Previous *Report
	// RunID labels the report and crash files. Defaults to a random UUID.
	RunID string
}

// Executor runs frozen Plans on a worker pool.
type Executor struct {
	runner Runner
	opts   Options
}

// NewExecutor creates an Executor that starts external commands via runner.
func NewExecutor(runner Runner, opts Options) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner must not be nil")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MapConcurrency <= 0 {
		opts.MapConcurrency = opts.Workers
	}
	return &Executor{runner: runner, opts: opts}, nil
}

type run struct {
	id       string
	crashDir string
}

type stepDone struct {
	pos      int
	err      error
	cause    string
	exitCode int
	crash    string
	elements []ElementResult
}

// Run executes plan. A node starts only after all of its predecessors have
// succeeded. The returned report always lists every node; the error wraps
// ErrRunFailed when any node failed.
func (e *Executor) Run(ctx context.Context, plan *Plan) (*Report, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan must not be nil")
	}
	wf := plan.Workflow()
	r := run{id: e.opts.RunID, crashDir: wf.Dir()}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	steps := plan.steps
	report := &Report{
		RunID:    r.id,
		Workflow: wf.Name(),
		Dir:      wf.Dir(),
		Started:  time.Now(),
		Order:    plan.Order(),
		Nodes:    make([]*NodeResult, len(steps)),
	}
	for i, st := range steps {
		report.Nodes[i] = &NodeResult{Node: st.Node.Name, Definition: st.Node.Def.Name, State: StatePending}
	}
	if err := os.MkdirAll(wf.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create workflow dir: %w", err)
	}
	slog.Info("starting workflow", "workflow", wf.Name(), "run", r.id, "nodes", len(steps), "dir", wf.Dir())

	remaining := make([]int, len(steps))
	for i, st := range steps {
		remaining[i] = len(st.preds)
	}
	for i, ok := range e.reusable(plan) {
		if !ok {
			continue
		}
		res := report.Nodes[i]
		res.State = StateSucceeded
		res.Reused = true
		res.Outputs = nativeOutputs(steps[i].Outputs)
		res.Elements = succeededElements(steps[i])
		for _, s := range steps[i].succs {
			remaining[s]--
		}
		slog.Info("reusing node", "node", res.Node)
	}
	ready := &indexHeap{}
	for i, res := range report.Nodes {
		if res.State == StatePending && remaining[i] == 0 {
			res.State = StateReady
			heap.Push(ready, i)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := e.opts.Workers
	workCh := make(chan int)
	doneCh := make(chan stepDone)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				doneCh <- e.runStep(runCtx, r, steps[i])
			}
		}()
	}

	inflight := 0
	abortedBy := ""
	for {
		for ready.Len() > 0 && inflight < workers && abortedBy == "" && ctx.Err() == nil {
			i := heap.Pop(ready).(int)
			res := report.Nodes[i]
			res.State = StateRunning
			res.Started = time.Now()
			slog.Info("executing node", "node", res.Node, "definition", res.Definition, "calls", len(steps[i].Calls))
			workCh <- i
			inflight++
		}
		if inflight == 0 {
			break
		}
		d := <-doneCh
		inflight--

		res := report.Nodes[d.pos]
		res.Finished = time.Now()
		res.Elements = d.elements
		if d.err == nil {
			res.State = StateSucceeded
			res.Outputs = nativeOutputs(steps[d.pos].Outputs)
			slog.Info("node succeeded", "node", res.Node, "elapsed", res.Finished.Sub(res.Started))
			for _, s := range steps[d.pos].succs {
				remaining[s]--
				if remaining[s] == 0 && report.Nodes[s].State == StatePending {
					report.Nodes[s].State = StateReady
					heap.Push(ready, s)
				}
			}
			continue
		}

		res.State = StateFailed
		res.Cause = d.cause
		res.ExitCode = d.exitCode
		res.CrashFile = d.crash
		if abortedBy != "" && errors.Is(d.err, context.Canceled) {
			res.CausedBy = abortedBy
		}
		slog.Error("node failed", "node", res.Node, "cause", d.cause, "crash_file", d.crash)
		skipDescendants(plan, report, d.pos)
		if e.opts.Policy == FailFast && abortedBy == "" {
			abortedBy = res.Node
			cancel()
		}
	}
	close(workCh)
	wg.Wait()

	for _, res := range report.Nodes {
		if res.State.Terminal() {
			continue
		}
		res.State = StateSkipped
		switch {
		case abortedBy != "":
			res.CausedBy = abortedBy
			res.Cause = fmt.Sprintf("run aborted after %s failed", abortedBy)
		case ctx.Err() != nil:
			res.Cause = "cancelled: " + ctx.Err().Error()
		}
	}
	report.Finished = time.Now()
	slog.Info("workflow finished", "workflow", wf.Name(), "run", r.id,
		"succeeded", report.Count(StateSucceeded), "failed", report.Count(StateFailed), "skipped", report.Count(StateSkipped))

	if err := report.Err(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("workflow %q cancelled: %w", wf.Name(), err)
	}
	return report, nil
}

// skipDescendants marks every transitive successor of pos as skipped with
// the failed node as cause. Earlier causes are kept.
func skipDescendants(plan *Plan, report *Report, pos int) {
	root := report.Nodes[pos].Node
	queue := append([]int(nil), plan.steps[pos].succs...)
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		res := report.Nodes[i]
		if res.State.Terminal() {
			continue
		}
		res.State = StateSkipped
		res.CausedBy = root
		res.Cause = fmt.Sprintf("upstream node %s failed", root)
		queue = append(queue, plan.steps[i].succs...)
	}
}

// reusable decides, in execution order, which nodes can be taken from
// Options.Previous. A node is reused only if all of its predecessors are.
func (e *Executor) reusable(plan *Plan) []bool {
	out := make([]bool, len(plan.steps))
	prev := e.opts.Previous
	if prev == nil {
		return out
	}
	for i, st := range plan.steps {
		r, ok := prev.Node(st.Node.Name)
		if !ok || r.State != StateSucceeded {
			continue
		}
		predsOK := true
		for _, p := range st.preds {
			predsOK = predsOK && out[p]
		}
		if !predsOK || !sameOutputs(r.Outputs, st.Outputs) {
			continue
		}
		if st.Node.Def.Mode == ModeCommand || st.Node.Def.Mode == ModeCompute {
			if _, missing := missingOutput(st.Node.Def, st.Outputs); missing {
				continue
			}
		}
		out[i] = true
	}
	return out
}

func sameOutputs(prev map[string]any, cur map[string]Value) bool {
	if len(prev) != len(cur) {
		return false
	}
	for k, v := range cur {
		p, ok := prev[k]
		if !ok || !sameData(valueFromNative(p), v) {
			return false
		}
	}
	return true
}

func succeededElements(st *Step) []ElementResult {
	if !st.Node.IsMap() {
		return nil
	}
	out := make([]ElementResult, len(st.Calls))
	for i, c := range st.Calls {
		out[i] = ElementResult{Index: i, State: StateSucceeded, Outputs: nativeOutputs(c.Outputs)}
	}
	return out
}

// runStep executes every call of a step. Map elements run concurrently on
// an errgroup bounded by MapConcurrency.
func (e *Executor) runStep(ctx context.Context, r run, st *Step) stepDone {
	d := stepDone{pos: st.pos}
	n := st.Node
	if !n.IsMap() {
		cr := e.runCall(ctx, r, n.Def, st.Calls[0])
		if cr.err != nil {
			d.err, d.cause, d.exitCode, d.crash = cr.err, cr.cause, cr.exitCode, cr.crash
		}
		return d
	}

	elements := make([]ElementResult, len(st.Calls))
	errs := make([]error, len(st.Calls))
	g, gctx := new(errgroup.Group), ctx
	if n.Policy() == AbortOnFirst {
		g, gctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(e.opts.MapConcurrency)
	for i, call := range st.Calls {
		elements[i] = ElementResult{Index: i, State: StatePending}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				elements[i].State = StateSkipped
				elements[i].Cause = "not started: " + err.Error()
				return nil
			}
			elements[i].State = StateRunning
			cr := e.runCall(gctx, r, n.Def, call)
			if cr.err != nil {
				elements[i].State = StateFailed
				elements[i].Cause = cr.cause
				elements[i].ExitCode = cr.exitCode
				errs[i] = cr.err
				if n.Policy() == AbortOnFirst {
					return cr.err
				}
				return nil
			}
			elements[i].State = StateSucceeded
			elements[i].Outputs = nativeOutputs(call.Outputs)
			return nil
		})
	}
	first := g.Wait()
	d.elements = elements

	var rootIdx = -1
	var ee *ExecutionError
	if errors.As(first, &ee) {
		rootIdx = ee.Index
	}
	failed := 0
	for i := range elements {
		if elements[i].State != StateFailed {
			continue
		}
		if rootIdx >= 0 && i != rootIdx && errors.Is(errs[i], context.Canceled) && ctx.Err() == nil {
			elements[i].State = StateSkipped
			elements[i].Cause = fmt.Sprintf("aborted after element %d failed", rootIdx)
			errs[i] = nil
			continue
		}
		failed++
		if rootIdx < 0 {
			rootIdx = i
		}
	}
	if failed == 0 {
		return d
	}
	root := elements[rootIdx]
	d.err = errs[rootIdx]
	d.exitCode = root.ExitCode
	d.cause = fmt.Sprintf("element %d: %s", rootIdx, root.Cause)
	if failed > 1 {
		d.cause = fmt.Sprintf("%d of %d elements failed; first: %s", failed, len(elements), d.cause)
	}
	return d
}

type callResult struct {
	err      error
	cause    string
	exitCode int
	crash    string
}

// runCall executes one call and checks that every predicted file exists.
func (e *Executor) runCall(ctx context.Context, r run, def *Definition, call Call) callResult {
	if def.Mode == ModeInput || def.Mode == ModePure {
		return callResult{}
	}
	fail := func(ee *ExecutionError, inv Invocation, out Outcome) callResult {
		cr := callResult{err: ee, cause: ee.Cause(), exitCode: ee.ExitCode}
		path, err := writeCrash(r.crashDir, crashDump{
			RunID:    r.id,
			Node:     call.Node,
			Index:    call.Index,
			Cause:    cr.cause,
			Command:  inv.Command,
			Args:     inv.Args,
			Dir:      call.Dir,
			ExitCode: ee.ExitCode,
			Stderr:   out.Stderr,
			Time:     time.Now(),
		})
		if err != nil {
			slog.Warn("could not write crash file", "node", call.Node, "error", err)
		}
		cr.crash = path
		return cr
	}
	newErr := func() *ExecutionError { return &ExecutionError{Node: call.Node, Index: call.Index} }

	outDir, err := def.outputDir(call.Inputs, call.Dir)
	if err == nil {
		err = os.MkdirAll(outDir, 0o755)
	}
	if err == nil {
		err = os.MkdirAll(call.Dir, 0o755)
	}
	if err != nil {
		ee := newErr()
		ee.Err = fmt.Errorf("create node dir: %w", err)
		return fail(ee, Invocation{}, Outcome{})
	}

	var (
		inv Invocation
		out Outcome
	)
	switch def.Mode {
	case ModeCompute:
		if def.Compute == nil {
			ee := newErr()
			ee.Err = fmt.Errorf("definition %q has no implementation", def.Name)
			return fail(ee, inv, out)
		}
		if err := def.Compute(ctx, call); err != nil {
			ee := newErr()
			ee.Err = err
			return fail(ee, inv, out)
		}
	case ModeCommand:
		args, err := def.buildArgs(call.Inputs, call.Dir)
		if err != nil {
			ee := newErr()
			ee.Err = fmt.Errorf("build args: %w", err)
			return fail(ee, inv, out)
		}
		inv = Invocation{Node: call.Node, Index: call.Index, Command: def.Command, Args: args, Dir: call.Dir}
		slog.Debug("starting command", "node", call.Node, "index", call.Index, "command", def.Command, "args", args)
		out, err = e.runner.Run(ctx, inv)
		if err != nil {
			ee := newErr()
			ee.Err = err
			return fail(ee, inv, out)
		}
		if out.ExitCode != 0 {
			ee := newErr()
			ee.ExitCode = out.ExitCode
			return fail(ee, inv, out)
		}
	}
	if field, missing := missingOutput(def, call.Outputs); missing {
		ee := newErr()
		ee.MissingOutput = field
		return fail(ee, inv, out)
	}
	return callResult{}
}

// missingOutput returns the first declared output with a predicted path
// that does not exist.
func missingOutput(def *Definition, outputs map[string]Value) (string, bool) {
	for _, o := range def.Outputs {
		for _, p := range flattenPaths(nil, outputs[o.Name]) {
			if _, err := os.Stat(p); err != nil {
				return o.Name, true
			}
		}
	}
	return "", false
}
