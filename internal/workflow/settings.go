package workflow

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
)

// applySettings assigns every attribute of the settings object to the
// input slot of the same name. The slot's current value fixes the Go type;
// slots without a value get a type inferred from the HCL value.
func applySettings(a applets.Applet, expr hcl.Expression) error {
	if expr == nil {
		return nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return fmt.Errorf("%w: %s: %w", ErrSetting, a.Name(), diags)
	}
	if val.IsNull() {
		return nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return fmt.Errorf("%w: %s: settings must be an object, got %s", ErrSetting, a.Name(), ty.FriendlyName())
	}
	op := a.TopLevelOperator().Base()
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		name := k.AsString()
		slot, err := op.Slot(name)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSetting, a.Name(), err)
		}
		if slot.Direction() != graph.Input {
			return fmt.Errorf("%w: %s is not an input", ErrSetting, slot.FullName())
		}
		goVal, err := fromCty(v, slot.Value())
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSetting, slot.FullName(), err)
		}
		if err := slot.SetValue(goVal); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSetting, slot.FullName(), err)
		}
	}
	return nil
}

func fromCty(v cty.Value, current any) (any, error) {
	if !v.IsWhollyKnown() || v.IsNull() {
		return nil, fmt.Errorf("value must be known and not null")
	}
	if current == nil {
		return infer(v)
	}
	ty, err := gocty.ImpliedType(current)
	if err != nil || !settable(ty) {
		return nil, fmt.Errorf("slot holds %T which cannot be set from a workflow file", current)
	}
	conv, err := convert.Convert(v, ty)
	if err != nil {
		return nil, err
	}
	target := reflect.New(reflect.TypeOf(current))
	if err := gocty.FromCtyValue(conv, target.Interface()); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}

func settable(ty cty.Type) bool {
	switch {
	case ty.IsPrimitiveType():
		return true
	case ty.IsListType():
		return settable(ty.ElementType())
	}
	return false
}

// infer maps a value onto bool, string, int, float64 or slices of those.
// Integral numbers become int at the top level; numbers inside
// collections are float64 so mixed lists share one element type.
func infer(v cty.Value) (any, error) {
	ty := v.Type()
	switch {
	case ty == cty.Number:
		if bf := v.AsBigFloat(); bf.IsInt() {
			var i int
			err := gocty.FromCtyValue(v, &i)
			return i, err
		}
		var f float64
		err := gocty.FromCtyValue(v, &f)
		return f, err
	case ty.IsPrimitiveType():
		var out any
		if ty == cty.Bool {
			out = v.True()
		} else {
			out = v.AsString()
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType():
		return inferSlice(v)
	}
	return nil, fmt.Errorf("cannot infer a slot type from %s", ty.FriendlyName())
}

func inferSlice(v cty.Value) (any, error) {
	var elems []reflect.Value
	var elemType reflect.Type
	for it := v.ElementIterator(); it.Next(); {
		_, e := it.Element()
		var (
			x   any
			err error
		)
		if e.Type() == cty.Number {
			var f float64
			err = gocty.FromCtyValue(e, &f)
			x = f
		} else {
			x, err = infer(e)
		}
		if err != nil {
			return nil, err
		}
		rv := reflect.ValueOf(x)
		if elemType == nil {
			elemType = rv.Type()
		} else if rv.Type() != elemType {
			return nil, fmt.Errorf("mixed element types %s and %s", elemType, rv.Type())
		}
		elems = append(elems, rv)
	}
	if elemType == nil {
		return nil, fmt.Errorf("cannot infer a slot type from an empty list")
	}
	out := reflect.MakeSlice(reflect.SliceOf(elemType), 0, len(elems))
	out = reflect.Append(out, elems...)
	return out.Interface(), nil
}
