package pipeline

import (
	"fmt"
	"math"
)

// MergeDefinition gathers n inputs in1..inN into the ordered list "out".
func MergeDefinition(name string, n int, elem Type) *Definition {
	d := &Definition{
		Name:    name,
		Mode:    ModePure,
		Outputs: []OutputField{{Name: "out", Type: ListOf(elem)}},
		Doc:     fmt.Sprintf("Gather %d values into an ordered list.", n),
	}
	for i := 1; i <= n; i++ {
		d.Inputs = append(d.Inputs, InputField{Name: fmt.Sprintf("in%d", i), Type: elem, Required: true})
	}
	d.Pure = func(inputs map[string]Value) (map[string]Value, error) {
		out := make([]Value, n)
		for i := range out {
			out[i] = inputs[fmt.Sprintf("in%d", i+1)]
		}
		return map[string]Value{"out": List(out...)}, nil
	}
	return d
}

var zero = 0.0

// SelectDefinition picks the element at "index" from "inlist".
func SelectDefinition(name string, elem Type) *Definition {
	return &Definition{
		Name: name,
		Mode: ModePure,
		Inputs: []InputField{
			{Name: "inlist", Type: ListOf(elem), Required: true},
			{Name: "index", Type: NumberType, Required: true, Min: &zero},
		},
		Outputs: []OutputField{{Name: "out", Type: elem}},
		Doc:     "Select one element of a list by index.",
		Pure: func(inputs map[string]Value) (map[string]Value, error) {
			list := inputs["inlist"]
			i, err := listIndex(inputs["index"], len(list.List))
			if err != nil {
				return nil, err
			}
			if i == len(list.List) {
				return nil, fmt.Errorf("%w: index %d outside list of length %d", ErrArityMismatch, i, len(list.List))
			}
			return map[string]Value{"out": list.List[i]}, nil
		},
	}
}

// SliceDefinition returns inlist[start:stop]. An unbound stop means the end
// of the list.
func SliceDefinition(name string, elem Type) *Definition {
	return &Definition{
		Name: name,
		Mode: ModePure,
		Inputs: []InputField{
			{Name: "inlist", Type: ListOf(elem), Required: true},
			{Name: "start", Type: NumberType, Default: Number(0), Min: &zero},
			{Name: "stop", Type: NumberType, Min: &zero},
		},
		Outputs: []OutputField{{Name: "out", Type: ListOf(elem)}},
		Doc:     "Select a contiguous range of a list.",
		Pure: func(inputs map[string]Value) (map[string]Value, error) {
			list := inputs["inlist"]
			n := len(list.List)
			start, err := listIndex(inputs["start"], n)
			if err != nil {
				return nil, err
			}
			stop := n
			if v, ok := inputs["stop"]; ok {
				if stop, err = listIndex(v, n); err != nil {
					return nil, err
				}
			}
			if start > stop {
				return nil, fmt.Errorf("%w: slice [%d:%d] is inverted", ErrArityMismatch, start, stop)
			}
			return map[string]Value{"out": List(list.List[start:stop]...)}, nil
		},
	}
}

// listIndex converts v to an index in [0, n].
func listIndex(v Value, n int) (int, error) {
	if v.Num != math.Trunc(v.Num) {
		return 0, fmt.Errorf("%w: index %g is not an integer", ErrArityMismatch, v.Num)
	}
	i := int(v.Num)
	if i < 0 || i > n {
		return 0, fmt.Errorf("%w: index %d outside list of length %d", ErrArityMismatch, i, n)
	}
	return i, nil
}
