package toolspec

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/ravi-parthasarathy/sctflow/pkg/pipeline"
)

// ctyType maps a pipeline type to the cty type its HCL values convert to.
func ctyType(t pipeline.Type) cty.Type {
	switch t.Kind {
	case pipeline.KindNumber:
		return cty.Number
	case pipeline.KindBool:
		return cty.Bool
	case pipeline.KindList:
		return cty.List(ctyType(t.ElemType()))
	default:
		return cty.String
	}
}

// valueFromCty converts an HCL value to a pipeline value of type t.
func valueFromCty(t pipeline.Type, v cty.Value) (pipeline.Value, error) {
	if !v.IsWhollyKnown() {
		return pipeline.Value{}, fmt.Errorf("value is not known")
	}
	cv, err := convert.Convert(v, ctyType(t))
	if err != nil {
		return pipeline.Value{}, fmt.Errorf("want %s: %w", t, err)
	}
	switch t.Kind {
	case pipeline.KindList:
		elems := make([]pipeline.Value, 0, cv.LengthInt())
		it := cv.ElementIterator()
		for it.Next() {
			_, ev := it.Element()
			e, err := valueFromCty(t.ElemType(), ev)
			if err != nil {
				return pipeline.Value{}, err
			}
			elems = append(elems, e)
		}
		return pipeline.List(elems...), nil
	case pipeline.KindNumber:
		var f float64
		if err := gocty.FromCtyValue(cv, &f); err != nil {
			return pipeline.Value{}, err
		}
		return pipeline.Number(f), nil
	case pipeline.KindBool:
		var b bool
		if err := gocty.FromCtyValue(cv, &b); err != nil {
			return pipeline.Value{}, err
		}
		return pipeline.Bool(b), nil
	default:
		var s string
		if err := gocty.FromCtyValue(cv, &s); err != nil {
			return pipeline.Value{}, err
		}
		return pipeline.Coerce(pipeline.Text(s), t)
	}
}
