package store

import (
	"reflect"
	"strings"
)

// Attributer is implemented by objects that expose their indexed attributes
// explicitly instead of through struct fields or map keys.
type Attributer interface {
	// Attribute returns the value of the named attribute and whether the
	// object has it.
	Attribute(name string) (any, bool)
}

// attribute looks up name on obj. Struct fields match by Go name first, then
// by json tag name. Nil pointers and interfaces count as absent.
func attribute(obj any, name string) (any, bool) {
	if a, ok := obj.(Attributer); ok {
		return a.Attribute(name)
	}

	rv, ok := indirect(reflect.ValueOf(obj))
	if !ok {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return present(v)
	case reflect.Struct:
		if f, ok := rv.Type().FieldByName(name); ok && f.IsExported() {
			fv, err := rv.FieldByIndexErr(f.Index)
			if err != nil {
				return nil, false // nil embedded pointer
			}
			return present(fv)
		}
		for i := 0; i < rv.NumField(); i++ {
			f := rv.Type().Field(i)
			if !f.IsExported() {
				continue
			}
			if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == name {
				return present(rv.Field(i))
			}
		}
	}
	return nil, false
}

// present unwraps pointers and interfaces, reporting absence for nil.
func present(v reflect.Value) (any, bool) {
	v, ok := indirect(v)
	if !ok {
		return nil, false
	}
	return v.Interface(), true
}

func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}
