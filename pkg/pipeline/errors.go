package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Problem kinds. A Problem matches its kind with errors.Is; enum, range and
// not-implemented problems additionally match ErrConfiguration.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrMissingInput     = errors.New("missing required input")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrDuplicateBinding = errors.New("duplicate binding")
	ErrCycle            = errors.New("cycle detected")
	ErrDuplicateOutput  = errors.New("duplicate output path")
	ErrArityMismatch    = errors.New("arity mismatch")
	ErrInvalidEnum      = errors.New("invalid enum value")
	ErrInvalidRange     = errors.New("value out of range")
	ErrUnknownField     = errors.New("unknown field")
	ErrUnknownNode      = errors.New("unknown node")
	ErrDuplicateNode    = errors.New("duplicate node")
	ErrNotImplemented   = errors.New("compute definition has no implementation")
)

// ErrRunFailed is returned by Executor.Run when at least one node failed.
var ErrRunFailed = errors.New("workflow run failed")

// Problem describes one validation failure.
type Problem struct {
	Kind    error
	Node    string
	Field   string
	Message string
	// Cycle lists the participants of a cycle, first node repeated last.
	Cycle []string
}

func (p Problem) Error() string {
	var sb strings.Builder
	if p.Node != "" {
		fmt.Fprintf(&sb, "node %q: ", p.Node)
	}
	if p.Field != "" {
		fmt.Fprintf(&sb, "field %q: ", p.Field)
	}
	sb.WriteString(p.Kind.Error())
	if p.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(p.Message)
	}
	return sb.String()
}

func (p Problem) Unwrap() []error {
	if p.Kind == ErrInvalidEnum || p.Kind == ErrInvalidRange || p.Kind == ErrNotImplemented {
		return []error{p.Kind, ErrConfiguration}
	}
	return []error{p.Kind}
}

func problemf(kind error, node, field, format string, args ...any) Problem {
	return Problem{Kind: kind, Node: node, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationError aggregates every problem found while authoring or freezing
// a workflow.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0].Error()
	}
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("workflow validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

func (e *ValidationError) Unwrap() []error {
	out := make([]error, len(e.Problems))
	for i, p := range e.Problems {
		out[i] = p
	}
	return out
}

// Filter returns the problems matching kind.
func (e *ValidationError) Filter(kind error) []Problem {
	var out []Problem
	for _, p := range e.Problems {
		if errors.Is(p, kind) {
			out = append(out, p)
		}
	}
	return out
}

// validationErr returns nil for an empty list.
func validationErr(problems []Problem) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// ExecutionError is the cause recorded for a node or map element whose
// collaborator failed or did not produce a declared output.
type ExecutionError struct {
	Node          string
	Index         int
	ExitCode      int
	MissingOutput string
	Err           error
}

func (e *ExecutionError) Error() string {
	prefix := fmt.Sprintf("node %q", e.Node)
	if e.Index >= 0 {
		prefix = fmt.Sprintf("node %q element %d", e.Node, e.Index)
	}
	return prefix + ": " + e.Cause()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Cause is the short form stored in run reports.
func (e *ExecutionError) Cause() string {
	switch {
	case e.MissingOutput != "":
		return "missing output: " + e.MissingOutput
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("exit code %d", e.ExitCode)
	}
}
