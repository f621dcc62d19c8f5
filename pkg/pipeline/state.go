package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// State is the lifecycle state of a node in a run.
type State string

const (
	StatePending   State = "pending"
	StateReady     State = "ready"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// ElementResult is the outcome of one Map node element.
type ElementResult struct {
	Index    int            `json:"index" yaml:"index"`
	State    State          `json:"state" yaml:"state"`
	Cause    string         `json:"cause,omitempty" yaml:"cause,omitempty"`
	ExitCode int            `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// NodeResult is the final state of one node. Skipped nodes name the failed
// node that caused them in CausedBy.
type NodeResult struct {
	Node       string          `json:"node" yaml:"node"`
	Definition string          `json:"definition" yaml:"definition"`
	State      State           `json:"state" yaml:"state"`
	Cause      string          `json:"cause,omitempty" yaml:"cause,omitempty"`
	CausedBy   string          `json:"caused_by,omitempty" yaml:"caused_by,omitempty"`
	ExitCode   int             `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Reused     bool            `json:"reused,omitempty" yaml:"reused,omitempty"`
	CrashFile  string          `json:"crash_file,omitempty" yaml:"crash_file,omitempty"`
	Started    time.Time       `json:"started,omitzero" yaml:"started,omitempty"`
	Finished   time.Time       `json:"finished,omitzero" yaml:"finished,omitempty"`
	Outputs    map[string]any  `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Elements   []ElementResult `json:"elements,omitempty" yaml:"elements,omitempty"`
}

// Report lists every node of a run with its final state.
type Report struct {
	RunID    string        `json:"run_id" yaml:"run_id"`
	Workflow string        `json:"workflow" yaml:"workflow"`
	Dir      string        `json:"dir" yaml:"dir"`
	Started  time.Time     `json:"started" yaml:"started"`
	Finished time.Time     `json:"finished" yaml:"finished"`
	Order    []string      `json:"order" yaml:"order"`
	Nodes    []*NodeResult `json:"nodes" yaml:"nodes"`
}

// Node returns the result for name.
func (r *Report) Node(name string) (*NodeResult, bool) {
	for _, n := range r.Nodes {
		if n.Node == name {
			return n, true
		}
	}
	return nil, false
}

// Count returns how many nodes ended in state s.
func (r *Report) Count(s State) int {
	c := 0
	for _, n := range r.Nodes {
		if n.State == s {
			c++
		}
	}
	return c
}

// Failed returns the nodes that failed, in execution order.
func (r *Report) Failed() []*NodeResult {
	var out []*NodeResult
	for _, n := range r.Nodes {
		if n.State == StateFailed {
			out = append(out, n)
		}
	}
	return out
}

// Err summarises failures as an error wrapping ErrRunFailed, or nil.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	msgs := make([]string, len(failed))
	for i, n := range failed {
		msgs[i] = fmt.Sprintf("%s: %s", n.Node, n.Cause)
	}
	return fmt.Errorf("%w: %d of %d nodes failed:\n  %s", ErrRunFailed, len(failed), len(r.Nodes), strings.Join(msgs, "\n  "))
}

// Save writes the report as YAML for .yaml/.yml paths and JSON otherwise.
func (r *Report) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(r)
	} else {
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("report marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("report write: %w", err)
	}
	return nil
}

// LoadReport reads a report written by Save.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report read: %w", err)
	}
	var r Report
	if isYAML(path) {
		err = yaml.Unmarshal(data, &r)
	} else {
		err = json.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, fmt.Errorf("report unmarshal: %w", err)
	}
	return &r, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func nativeOutputs(m map[string]Value) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Native()
	}
	return out
}

// crashDump is written next to the workflow when a node fails.
type crashDump struct {
	RunID    string    `json:"run_id"`
	Node     string    `json:"node"`
	Index    int       `json:"index"`
	Cause    string    `json:"cause"`
	Command  string    `json:"command,omitempty"`
	Args     []string  `json:"args,omitempty"`
	Dir      string    `json:"dir"`
	ExitCode int       `json:"exit_code,omitempty"`
	Stderr   string    `json:"stderr,omitempty"`
	Time     time.Time `json:"time"`
}

func writeCrash(dir string, c crashDump) (string, error) {
	name := "crash-" + strings.ReplaceAll(c.Node, string(filepath.Separator), "_")
	if c.Index >= 0 {
		name += fmt.Sprintf("-%d", c.Index)
	}
	path := filepath.Join(dir, name+"-"+c.RunID+".json")
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("crash marshal: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("crash dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("crash write: %w", err)
	}
	return path, nil
}
