package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Role marks input fields that steer output placement.
type Role int

const (
	RoleNone Role = iota
	// RoleOutputDir fields name the directory outputs are written to.
	RoleOutputDir
	// RoleOverride fields carry an explicit output file name.
	RoleOverride
)

// InputField declares one input of a Definition.
type InputField struct {
	Name     string
	Type     Type
	Required bool
	// Allowed restricts enum values. Empty means unrestricted.
	Allowed []string
	Min     *float64
	Max     *float64
	// Flag precedes the rendered value on the command line. An empty flag
	// renders the value positionally.
	Flag string
	// Sep joins list elements into one argument. Empty repeats the flag per
	// element.
	Sep string
	// Format wraps each rendered value, e.g. "centerline,%s".
	Format string
	// Switch renders a bool as its bare flag when true and nothing when
	// false.
	Switch  bool
	Default Value
	Role    Role
	// Emit names an output whose predicted path is rendered when the field
	// is unbound, for tools that need an explicit output argument.
	Emit string
	Doc  string
}

// NameFunc computes an output file name from resolved inputs. Relative
// names are placed in the output directory.
type NameFunc func(inputs map[string]Value) (string, error)

// NamingRule predicts where an output lands before the tool runs.
// Exactly one of Name, Fixed or Source is used; Override, when bound,
// wins over all of them.
type NamingRule struct {
	Source      string
	Prefix      string
	Suffix      string
	Fixed       string
	Override    string
	OverrideExt string
	Name        NameFunc
	// Each derives one name per element of a list-typed Source.
	Each bool
}

// OutputField declares one output of a Definition.
type OutputField struct {
	Name string
	Type Type
	Rule NamingRule
	Doc  string
}

// Mode says how a Definition is executed.
type Mode int

const (
	// ModeCommand runs an external binary.
	ModeCommand Mode = iota
	// ModeCompute runs an in-process ComputeFunc that writes the predicted outputs.
	ModeCompute
	// ModePure reshapes values without touching the file system.
	ModePure
	// ModeInput exposes workflow inputs; outputs mirror inputs.
	ModeInput
)

func (m Mode) String() string {
	switch m {
	case ModeCommand:
		return "command"
	case ModeCompute:
		return "compute"
	case ModePure:
		return "pure"
	case ModeInput:
		return "input"
	default:
		return "unknown"
	}
}

// PureFunc maps resolved inputs to outputs.
type PureFunc func(inputs map[string]Value) (map[string]Value, error)

// ComputeFunc performs an in-process computation for one call. It must
// create every path in call.Outputs.
type ComputeFunc func(ctx context.Context, call Call) error

// Definition is the immutable contract of a tool: typed inputs, predicted
// outputs and how to execute it.
type Definition struct {
	Name    string
	Command string
	Mode    Mode
	Inputs  []InputField
	Outputs []OutputField
	Pure    PureFunc
	Compute ComputeFunc
	Doc     string
}

// Input returns the input field called name.
func (d *Definition) Input(name string) (InputField, bool) {
	for _, f := range d.Inputs {
		if f.Name == name {
			return f, true
		}
	}
	return InputField{}, false
}

// Output returns the output field called name.
func (d *Definition) Output(name string) (OutputField, bool) {
	for _, f := range d.Outputs {
		if f.Name == name {
			return f, true
		}
	}
	return OutputField{}, false
}

// Check reports inconsistencies in the definition itself.
func (d *Definition) Check() error {
	if d.Name == "" {
		return fmt.Errorf("definition has no name")
	}
	seen := map[string]bool{}
	outDirs := 0
	for _, f := range d.Inputs {
		if f.Name == "" || seen[f.Name] {
			return fmt.Errorf("definition %q: empty or duplicate input %q", d.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Type.Kind == KindInvalid {
			return fmt.Errorf("definition %q: input %q has no type", d.Name, f.Name)
		}
		if f.Role == RoleOutputDir {
			outDirs++
		}
		if f.Switch && f.Type.Kind != KindBool {
			return fmt.Errorf("definition %q: switch input %q must be bool", d.Name, f.Name)
		}
	}
	if outDirs > 1 {
		return fmt.Errorf("definition %q: more than one output directory input", d.Name)
	}
	switch d.Mode {
	case ModeCommand:
		if d.Command == "" {
			return fmt.Errorf("definition %q: command mode requires a command", d.Name)
		}
	case ModePure:
		if d.Pure == nil {
			return fmt.Errorf("definition %q: pure mode requires a function", d.Name)
		}
	}
	outs := map[string]bool{}
	for _, o := range d.Outputs {
		if o.Name == "" || outs[o.Name] {
			return fmt.Errorf("definition %q: empty or duplicate output %q", d.Name, o.Name)
		}
		outs[o.Name] = true
		if d.Mode == ModePure || d.Mode == ModeInput {
			continue
		}
		if err := d.checkRule(o); err != nil {
			return fmt.Errorf("definition %q: output %q: %w", d.Name, o.Name, err)
		}
	}
	for _, f := range d.Inputs {
		if f.Emit != "" && !outs[f.Emit] {
			return fmt.Errorf("definition %q: input %q emits undeclared output %q", d.Name, f.Name, f.Emit)
		}
	}
	return nil
}

func (d *Definition) checkRule(o OutputField) error {
	if o.Type.ElemType().Kind != KindPath {
		return fmt.Errorf("file outputs must be path typed, got %s", o.Type)
	}
	r := o.Rule
	if r.Override != "" {
		if _, ok := d.Input(r.Override); !ok {
			return fmt.Errorf("override input %q not declared", r.Override)
		}
	}
	sources := 0
	if r.Name != nil {
		sources++
	}
	if r.Fixed != "" {
		sources++
	}
	if r.Source != "" {
		sources++
		src, ok := d.Input(r.Source)
		if !ok {
			return fmt.Errorf("source input %q not declared", r.Source)
		}
		if !src.Required && !src.Default.IsSet() {
			return fmt.Errorf("source input %q must be required", r.Source)
		}
		if r.Each != src.Type.IsList() {
			return fmt.Errorf("per-element naming needs a list source and a list output")
		}
	}
	if sources != 1 {
		return fmt.Errorf("naming rule needs exactly one of name, fixed or source")
	}
	if r.Each != o.Type.IsList() {
		return fmt.Errorf("list outputs need per-element naming")
	}
	return nil
}

// Validate checks bindings against the declared inputs: unknown fields,
// missing required inputs, type mismatches, enum membership and ranges.
func (d *Definition) Validate(bindings map[string]Value) error {
	_, problems := d.resolve("", bindings)
	return validationErr(problems)
}

// resolve applies defaults, coerces values to their declared types and
// checks them. The returned map holds every input that has a value.
func (d *Definition) resolve(node string, bindings map[string]Value) (map[string]Value, []Problem) {
	var problems []Problem
	for name := range bindings {
		if _, ok := d.Input(name); !ok {
			problems = append(problems, problemf(ErrUnknownField, node, name, "definition %q has no such input", d.Name))
		}
	}
	out := make(map[string]Value, len(d.Inputs))
	for _, f := range d.Inputs {
		v, ok := bindings[f.Name]
		if !ok || !v.IsSet() {
			if !f.Default.IsSet() {
				if f.Required {
					problems = append(problems, problemf(ErrMissingInput, node, f.Name, "no edge or constant bound"))
				}
				continue
			}
			v = f.Default
		}
		cv, err := Coerce(v, f.Type)
		if err != nil {
			problems = append(problems, problemf(ErrTypeMismatch, node, f.Name, "%v", err))
			continue
		}
		problems = append(problems, f.check(node, cv)...)
		out[f.Name] = cv
	}
	return out, problems
}

func (f InputField) check(node string, v Value) []Problem {
	if v.Kind == KindList {
		var out []Problem
		for _, e := range v.List {
			out = append(out, f.check(node, e)...)
		}
		return out
	}
	switch v.Kind {
	case KindEnum:
		if len(f.Allowed) > 0 && !slices.Contains(f.Allowed, v.Str) {
			return []Problem{problemf(ErrInvalidEnum, node, f.Name, "%q not in {%s}", v.Str, strings.Join(f.Allowed, ", "))}
		}
	case KindNumber:
		if f.Min != nil && v.Num < *f.Min {
			return []Problem{problemf(ErrInvalidRange, node, f.Name, "%g below minimum %g", v.Num, *f.Min)}
		}
		if f.Max != nil && v.Num > *f.Max {
			return []Problem{problemf(ErrInvalidRange, node, f.Name, "%g above maximum %g", v.Num, *f.Max)}
		}
	}
	return nil
}

// PredictOutputs computes every output of the definition from bound inputs
// without running anything. Relative locations resolve against the bound
// output directory, or defaultDir when none is bound. The call is pure:
// equal inputs always yield equal outputs.
func (d *Definition) PredictOutputs(inputs map[string]Value, defaultDir string) (map[string]Value, error) {
	resolved, problems := d.resolve("", inputs)
	if err := validationErr(problems); err != nil {
		return nil, err
	}
	return d.predict(resolved, defaultDir)
}

func (d *Definition) predict(inputs map[string]Value, defaultDir string) (map[string]Value, error) {
	switch d.Mode {
	case ModeInput:
		out := make(map[string]Value, len(d.Outputs))
		for _, o := range d.Outputs {
			if v, ok := inputs[o.Name]; ok {
				out[o.Name] = v
			}
		}
		return out, nil
	case ModePure:
		return d.Pure(inputs)
	}
	dir, err := d.outputDir(inputs, defaultDir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(d.Outputs))
	for _, o := range d.Outputs {
		v, err := predictOutput(o, inputs, dir)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", o.Name, err)
		}
		out[o.Name] = v
	}
	return out, nil
}

func predictOutput(o OutputField, inputs map[string]Value, dir string) (Value, error) {
	r := o.Rule
	if r.Override != "" {
		if ov, ok := inputs[r.Override]; ok && ov.Str != "" {
			return Path(resolveIn(dir, ov.Str+r.OverrideExt)), nil
		}
	}
	if r.Each {
		src := inputs[r.Source]
		if src.Kind != KindList {
			return Value{}, fmt.Errorf("source %q is not a list", r.Source)
		}
		names := make([]Value, len(src.List))
		for i, e := range src.List {
			names[i] = Path(resolveIn(dir, r.Prefix+BaseName(e.Str)+r.Suffix))
		}
		return List(names...), nil
	}
	var name string
	switch {
	case r.Name != nil:
		n, err := r.Name(inputs)
		if err != nil {
			return Value{}, err
		}
		name = n
	case r.Fixed != "":
		name = r.Fixed
	default:
		src, ok := inputs[r.Source]
		if !ok {
			return Value{}, fmt.Errorf("source input %q is not bound", r.Source)
		}
		name = r.Prefix + BaseName(src.Str) + r.Suffix
	}
	return Path(resolveIn(dir, name)), nil
}

func (d *Definition) outputDir(inputs map[string]Value, defaultDir string) (string, error) {
	dir := defaultDir
	for _, f := range d.Inputs {
		if f.Role != RoleOutputDir {
			continue
		}
		if v, ok := inputs[f.Name]; ok && v.Str != "" {
			dir = v.Str
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("output directory %q: %w", dir, err)
	}
	return abs, nil
}

// BuildArgs renders bound inputs as command-line arguments in declared
// order. Path overrides are rendered as the predicted absolute path so the
// tool writes where PredictOutputs says it will.
func (d *Definition) BuildArgs(inputs map[string]Value, defaultDir string) ([]string, error) {
	resolved, problems := d.resolve("", inputs)
	if err := validationErr(problems); err != nil {
		return nil, err
	}
	return d.buildArgs(resolved, defaultDir)
}

func (d *Definition) buildArgs(inputs map[string]Value, defaultDir string) ([]string, error) {
	dir, err := d.outputDir(inputs, defaultDir)
	if err != nil {
		return nil, err
	}
	var (
		args      []string
		predicted map[string]Value
	)
	for _, f := range d.Inputs {
		v, ok := inputs[f.Name]
		if !ok {
			if f.Emit == "" {
				continue
			}
			if predicted == nil {
				if predicted, err = d.predict(inputs, defaultDir); err != nil {
					return nil, err
				}
			}
			v = predicted[f.Emit]
		}
		switch {
		case f.Role == RoleOutputDir:
			v = Path(dir)
		case f.Role == RoleOverride && v.Kind == KindPath:
			v = Path(resolveIn(dir, v.Str))
		}
		if f.Switch {
			if v.Bool {
				args = append(args, f.Flag)
			}
			continue
		}
		if v.Kind != KindList {
			s, err := f.render(v)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", f.Name, err)
			}
			args = appendArg(args, f.Flag, s)
			continue
		}
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			s, err := f.render(e)
			if err != nil {
				return nil, fmt.Errorf("input %q element %d: %w", f.Name, i, err)
			}
			parts[i] = s
		}
		if f.Sep != "" {
			args = appendArg(args, f.Flag, strings.Join(parts, f.Sep))
			continue
		}
		for _, s := range parts {
			args = appendArg(args, f.Flag, s)
		}
	}
	return args, nil
}

func (f InputField) render(v Value) (string, error) {
	s, err := formatArg(v)
	if err != nil || f.Format == "" {
		return s, err
	}
	return fmt.Sprintf(f.Format, s), nil
}

func appendArg(args []string, flag, value string) []string {
	if flag != "" {
		args = append(args, flag)
	}
	return append(args, value)
}

// InputDefinition declares an identity node that exposes workflow inputs.
// Each field is both an input and an output of the node.
func InputDefinition(name string, fields ...InputField) *Definition {
	d := &Definition{Name: name, Mode: ModeInput, Inputs: fields}
	for _, f := range fields {
		d.Outputs = append(d.Outputs, OutputField{Name: f.Name, Type: f.Type, Doc: f.Doc})
	}
	return d
}

// withCompute returns a copy of d carrying fn.
func (d *Definition) withCompute(fn ComputeFunc) *Definition {
	cp := *d
	cp.Compute = fn
	return &cp
}
