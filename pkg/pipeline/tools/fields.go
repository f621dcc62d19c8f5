package tools

import "github.com/ravi-parthasarathy/sctflow/pkg/pipeline"

var contrasts = []string{"t1", "t2", "t2s", "dwi"}

func pathIn(name, flag, doc string) pipeline.InputField {
	return pipeline.InputField{Name: name, Type: pipeline.PathType, Flag: flag, Doc: doc}
}

func textIn(name, flag, doc string) pipeline.InputField {
	return pipeline.InputField{Name: name, Type: pipeline.TextType, Flag: flag, Doc: doc}
}

func enumIn(name, flag, doc string, allowed ...string) pipeline.InputField {
	return pipeline.InputField{Name: name, Type: pipeline.EnumType, Flag: flag, Allowed: allowed, Doc: doc}
}

func numberIn(name, flag, doc string) pipeline.InputField {
	return pipeline.InputField{Name: name, Type: pipeline.NumberType, Flag: flag, Doc: doc}
}

func boolIn(name, flag, doc string) pipeline.InputField {
	return pipeline.InputField{Name: name, Type: pipeline.BoolType, Flag: flag, Doc: doc}
}

// outDirIn declares the directory a tool writes its outputs to.
func outDirIn(flag string) pipeline.InputField {
	return pipeline.InputField{
		Name: "output_directory",
		Type: pipeline.PathType,
		Flag: flag,
		Role: pipeline.RoleOutputDir,
		Doc:  "output directory",
	}
}

// overrideIn declares an explicit output file name. When emit is set the
// predicted name of that output is passed if the field is unbound.
func overrideIn(name, flag, emit string) pipeline.InputField {
	return pipeline.InputField{
		Name: name,
		Type: pipeline.PathType,
		Flag: flag,
		Role: pipeline.RoleOverride,
		Emit: emit,
		Doc:  "output file name",
	}
}

func required(f pipeline.InputField) pipeline.InputField {
	f.Required = true
	return f
}

func withDefault(f pipeline.InputField, v pipeline.Value) pipeline.InputField {
	f.Default = v
	return f
}

func between(f pipeline.InputField, lo, hi float64) pipeline.InputField {
	f.Min, f.Max = &lo, &hi
	return f
}

func atLeast(f pipeline.InputField, lo float64) pipeline.InputField {
	f.Min = &lo
	return f
}

// suffixed names an output after the base name of source plus suffix.
func suffixed(name, source, suffix, doc string) pipeline.OutputField {
	return pipeline.OutputField{
		Name: name,
		Type: pipeline.PathType,
		Rule: pipeline.NamingRule{Source: source, Suffix: suffix},
		Doc:  doc,
	}
}

// fixed names an output with a name the tool always uses.
func fixed(name, file, doc string) pipeline.OutputField {
	return pipeline.OutputField{
		Name: name,
		Type: pipeline.PathType,
		Rule: pipeline.NamingRule{Fixed: file},
		Doc:  doc,
	}
}

func computed(name string, fn pipeline.NameFunc, doc string) pipeline.OutputField {
	return pipeline.OutputField{
		Name: name,
		Type: pipeline.PathType,
		Rule: pipeline.NamingRule{Name: fn},
		Doc:  doc,
	}
}

func overridden(o pipeline.OutputField, input string) pipeline.OutputField {
	o.Rule.Override = input
	return o
}
