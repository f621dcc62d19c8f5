package pipeline

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind is the semantic type tag of a field or value.
type Kind int

const (
	KindInvalid Kind = iota
	KindPath
	KindText
	KindEnum
	KindNumber
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindText:
		return "text"
	case KindEnum:
		return "enum"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Type is a field type. Elem is set only for lists.
type Type struct {
	Kind Kind
	Elem *Type
}

var (
	PathType   = Type{Kind: KindPath}
	TextType   = Type{Kind: KindText}
	EnumType   = Type{Kind: KindEnum}
	NumberType = Type{Kind: KindNumber}
	BoolType   = Type{Kind: KindBool}
)

// ListOf returns the list type with element type elem.
func ListOf(elem Type) Type {
	e := elem
	return Type{Kind: KindList, Elem: &e}
}

// IsList reports whether t is a list type.
func (t Type) IsList() bool { return t.Kind == KindList }

// ElemType returns the element type of a list, or t itself for scalars.
func (t Type) ElemType() Type {
	if t.Kind == KindList && t.Elem != nil {
		return *t.Elem
	}
	return t
}

func (t Type) String() string {
	if t.Kind == KindList {
		if t.Elem == nil {
			return "list"
		}
		return "list(" + t.Elem.String() + ")"
	}
	return t.Kind.String()
}

// Equal reports structural equality.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	if t.Kind != KindList {
		return true
	}
	if t.Elem == nil || o.Elem == nil {
		return t.Elem == o.Elem
	}
	return t.Elem.Equal(*o.Elem)
}

// ParseType parses the textual form used in DOT and HCL files:
// "path", "text", "enum", "number", "bool" or "list(<type>)".
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "path", "file", "directory":
		return PathType, nil
	case "text", "string", "str":
		return TextType, nil
	case "enum":
		return EnumType, nil
	case "number", "float", "int":
		return NumberType, nil
	case "bool", "boolean":
		return BoolType, nil
	}
	if strings.HasPrefix(s, "list(") && strings.HasSuffix(s, ")") {
		elem, err := ParseType(s[len("list(") : len(s)-1])
		if err != nil {
			return Type{}, err
		}
		return ListOf(elem), nil
	}
	return Type{}, fmt.Errorf("unknown type %q", s)
}

// compatible reports whether a value of type src may feed a field of type dst.
// Text may feed enum fields; membership is checked at freeze.
func compatible(src, dst Type) bool {
	if src.Kind == KindList || dst.Kind == KindList {
		if src.Kind != dst.Kind {
			return false
		}
		if src.Elem == nil || dst.Elem == nil {
			return true
		}
		return compatible(*src.Elem, *dst.Elem)
	}
	if src.Kind == dst.Kind {
		return true
	}
	switch dst.Kind {
	case KindEnum:
		return src.Kind == KindText
	case KindText:
		return src.Kind == KindEnum
	}
	return false
}

// Value is a tagged parameter value.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	List []Value
}

func Path(p string) Value    { return Value{Kind: KindPath, Str: p} }
func Text(s string) Value    { return Value{Kind: KindText, Str: s} }
func Enum(s string) Value    { return Value{Kind: KindEnum, Str: s} }
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func List(vs ...Value) Value { return Value{Kind: KindList, List: append([]Value(nil), vs...)} }

// Paths is shorthand for a list of path values.
func Paths(ps ...string) Value {
	out := make([]Value, len(ps))
	for i, p := range ps {
		out[i] = Path(p)
	}
	return Value{Kind: KindList, List: out}
}

// IsSet reports whether v carries a value.
func (v Value) IsSet() bool { return v.Kind != KindInvalid }

// Len returns the list length, or -1 for scalars.
func (v Value) Len() int {
	if v.Kind != KindList {
		return -1
	}
	return len(v.List)
}

// Equal reports deep equality including kinds.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindPath, KindText, KindEnum:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KindPath, KindText, KindEnum:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "<unset>"
}

// Coerce converts v to type t where the conversion is lossless.
func Coerce(v Value, t Type) (Value, error) {
	switch t.Kind {
	case KindPath:
		if v.Kind == KindPath || v.Kind == KindText {
			return Path(v.Str), nil
		}
	case KindText:
		if v.Kind == KindText || v.Kind == KindEnum || v.Kind == KindPath {
			return Text(v.Str), nil
		}
	case KindEnum:
		if v.Kind == KindEnum || v.Kind == KindText {
			return Enum(v.Str), nil
		}
	case KindNumber:
		if v.Kind == KindNumber {
			return v, nil
		}
	case KindBool:
		if v.Kind == KindBool {
			return v, nil
		}
	case KindList:
		if v.Kind != KindList {
			break
		}
		out := make([]Value, len(v.List))
		for i, e := range v.List {
			if t.Elem == nil {
				out[i] = e
				continue
			}
			c, err := Coerce(e, *t.Elem)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = c
		}
		return Value{Kind: KindList, List: out}, nil
	}
	return Value{}, fmt.Errorf("cannot use %s value %q as %s", v.Kind, v.String(), t)
}

// ParseValue parses the textual form of a value of type t. Lists are
// comma separated.
func ParseValue(t Type, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch t.Kind {
	case KindPath:
		return Path(s), nil
	case KindText:
		return Text(s), nil
	case KindEnum:
		return Enum(s), nil
	case KindNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", s)
		}
		return Number(f), nil
	case KindBool:
		switch strings.ToLower(s) {
		case "1", "true", "yes", "on":
			return Bool(true), nil
		case "0", "false", "no", "off":
			return Bool(false), nil
		}
		return Value{}, fmt.Errorf("invalid bool %q", s)
	case KindList:
		if s == "" {
			return List(), nil
		}
		elem := TextType
		if t.Elem != nil {
			elem = *t.Elem
		}
		var out []Value
		for _, part := range strings.Split(s, ",") {
			v, err := ParseValue(elem, part)
			if err != nil {
				return Value{}, err
			}
			out = append(out, v)
		}
		return List(out...), nil
	}
	return Value{}, fmt.Errorf("cannot parse value of type %s", t)
}

// ValueFromAny converts a decoded YAML/JSON value into a Value of type t.
func ValueFromAny(t Type, raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, fmt.Errorf("null value for %s", t)
	case Value:
		return Coerce(x, t)
	case string:
		if t.Kind == KindList {
			return ValueFromAny(t, []any{x})
		}
		return ParseValue(t, x)
	case bool:
		if t.Kind == KindBool {
			return Bool(x), nil
		}
		return ParseValue(t, strconv.FormatBool(x))
	case int:
		return ValueFromAny(t, float64(x))
	case int64:
		return ValueFromAny(t, float64(x))
	case float64:
		switch t.Kind {
		case KindNumber:
			return Number(x), nil
		case KindBool:
			return Bool(x != 0), nil
		}
		return ParseValue(t, strconv.FormatFloat(x, 'g', -1, 64))
	case []any:
		if t.Kind != KindList {
			return Value{}, fmt.Errorf("list given for %s field", t)
		}
		elem := TextType
		if t.Elem != nil {
			elem = *t.Elem
		}
		out := make([]Value, len(x))
		for i, e := range x {
			v, err := ValueFromAny(elem, e)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return List(out...), nil
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return ValueFromAny(t, items)
	}
	return Value{}, fmt.Errorf("unsupported value %v (%T) for %s", raw, raw, t)
}

// Native returns the plain Go form of v, used for JSON and YAML output.
func (v Value) Native() any {
	switch v.Kind {
	case KindPath, KindText, KindEnum:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.Native()
		}
		return out
	}
	return nil
}

// valueFromNative is the inverse of Native. Strings come back as text.
func valueFromNative(raw any) Value {
	switch x := raw.(type) {
	case string:
		return Text(x)
	case float64:
		return Number(x)
	case int:
		return Number(float64(x))
	case bool:
		return Bool(x)
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = valueFromNative(e)
		}
		return List(out...)
	}
	return Value{}
}

// sameData compares values ignoring the path/text/enum distinction, which
// does not survive a round trip through a report file.
func sameData(a, b Value) bool {
	stringy := func(k Kind) bool { return k == KindPath || k == KindText || k == KindEnum }
	if stringy(a.Kind) && stringy(b.Kind) {
		return a.Str == b.Str
	}
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == KindList {
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !sameData(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	}
	return a.Equal(b)
}

// formatArg renders a scalar value as a single command-line argument.
func formatArg(v Value) (string, error) {
	switch v.Kind {
	case KindPath:
		abs, err := filepath.Abs(v.Str)
		if err != nil {
			return "", err
		}
		return abs, nil
	case KindText, KindEnum:
		return v.Str, nil
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64), nil
	case KindBool:
		if v.Bool {
			return "1", nil
		}
		return "0", nil
	}
	return "", fmt.Errorf("cannot render %s value as argument", v.Kind)
}

// flattenPaths appends every path contained in v to dst.
func flattenPaths(dst []string, v Value) []string {
	switch v.Kind {
	case KindPath:
		return append(dst, v.Str)
	case KindList:
		for _, e := range v.List {
			dst = flattenPaths(dst, e)
		}
	}
	return dst
}
