package pipeline

import (
	"context"
	"time"
)

// Invocation is one external command the executor asks a Runner to start.
type Invocation struct {
	Node    string
	Index   int
	Command string
	Args    []string
	Dir     string
}

// Outcome is what a Runner observed. Stdout and Stderr hold the tail of
// each stream.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner starts external collaborators. Implementations live in the tools
// sub-package; the interface is defined here so that Executor can use it
// without creating an import cycle.
type Runner interface {
	// Run blocks until the command exits. A non-zero exit is reported in
	// Outcome, not as an error; errors mean the command could not run.
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, inv Invocation) (Outcome, error)

func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (Outcome, error) { return f(ctx, inv) }

// Call is a single resolved invocation of a definition: the whole node for
// scalar nodes, one element for Map nodes (Index >= 0).
type Call struct {
	Node    string
	Index   int
	Dir     string
	Inputs  map[string]Value
	Outputs map[string]Value
}
