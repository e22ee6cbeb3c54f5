// Package layering merges partially populated values. Layers are ordered from
// strongest to weakest; a nil pointer, map, slice or interface in a stronger
// layer means "unset" and lets the weaker layer show through.
package layering

import "reflect"

// MergeLayers composes layers ordered from strongest to weakest, keeping
// explicit settings from stronger layers and filling the gaps from weaker ones.
// Maps are merged key by key. Slices are replaced, never concatenated.
func MergeLayers[T any](layers ...T) T {
	if len(layers) == 0 {
		var zero T
		return zero
	}

	acc := deepCopy(reflect.ValueOf(layers[len(layers)-1]))
	for i := len(layers) - 2; i >= 0; i-- {
		acc = overlay(reflect.ValueOf(layers[i]), acc)
	}
	return as[T](acc)
}

// Patch applies partial on top of base. It is MergeLayers(partial, base) with
// the argument order most call sites read naturally.
func Patch[T any](base, partial T) T {
	return MergeLayers(partial, base)
}

// Clone returns a deep copy of value.
func Clone[T any](value T) T {
	return as[T](deepCopy(reflect.ValueOf(value)))
}

func as[T any](v reflect.Value) T {
	if !v.IsValid() {
		var zero T
		return zero
	}
	return v.Interface().(T)
}

// unset reports whether v leaves the decision to a weaker layer.
func unset(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// overlay returns a fresh value holding top with the gaps filled from under.
func overlay(top, under reflect.Value) reflect.Value {
	if unset(top) {
		if !under.IsValid() {
			return deepCopy(top)
		}
		return deepCopy(under)
	}
	switch top.Kind() {
	case reflect.Pointer:
		return overlayPointer(top, under)
	case reflect.Interface:
		var inner reflect.Value
		if !unset(under) && under.Kind() == reflect.Interface {
			inner = under.Elem()
		}
		return overlay(top.Elem(), inner).Convert(top.Type())
	case reflect.Struct:
		return overlayStruct(top, under)
	case reflect.Map:
		return overlayMap(top, under)
	}
	return deepCopy(top)
}

func overlayPointer(top, under reflect.Value) reflect.Value {
	var inner reflect.Value
	if !unset(under) && under.Kind() == reflect.Pointer {
		inner = under.Elem()
	}
	out := reflect.New(top.Type().Elem())
	out.Elem().Set(overlay(top.Elem(), inner))
	return out
}

func overlayStruct(top, under reflect.Value) reflect.Value {
	sameType := under.IsValid() && under.Type() == top.Type()
	out := reflect.New(top.Type()).Elem()
	out.Set(top)
	for i := range top.NumField() {
		if !out.Field(i).CanSet() {
			continue
		}
		var below reflect.Value
		if sameType {
			below = under.Field(i)
		}
		out.Field(i).Set(overlay(top.Field(i), below))
	}
	return out
}

func overlayMap(top, under reflect.Value) reflect.Value {
	out := reflect.MakeMapWithSize(top.Type(), top.Len())
	if !unset(under) && under.Kind() == reflect.Map {
		for it := under.MapRange(); it.Next(); {
			out.SetMapIndex(it.Key(), deepCopy(it.Value()))
		}
	}
	for it := top.MapRange(); it.Next(); {
		out.SetMapIndex(it.Key(), overlay(it.Value(), out.MapIndex(it.Key())))
	}
	return out
}

func deepCopy(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	if unset(v) {
		return reflect.Zero(v.Type())
	}

	switch v.Kind() {
	case reflect.Pointer:
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Interface:
		return deepCopy(v.Elem()).Convert(v.Type())
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := range v.NumField() {
			if out.Field(i).CanSet() {
				out.Field(i).Set(deepCopy(v.Field(i)))
			}
		}
		return out
	case reflect.Map:
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		for it := v.MapRange(); it.Next(); {
			out.SetMapIndex(it.Key(), deepCopy(it.Value()))
		}
		return out
	case reflect.Slice, reflect.Array:
		var out reflect.Value
		if v.Kind() == reflect.Slice {
			out = reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		} else {
			out = reflect.New(v.Type()).Elem()
		}
		for i := range v.Len() {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	}
	out := reflect.New(v.Type()).Elem()
	out.Set(v)
	return out
}
