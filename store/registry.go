package store

import (
	"fmt"
	"regexp"
)

// IndexSpec declares one attribute index.
type IndexSpec struct {
	// Name identifies the index in queries and names its backing table.
	Name string

	// Attribute is the object attribute to index (e.g., "color").
	// Default: Name
	Attribute string

	// Kind is the declared value type.
	Kind Kind
}

var indexNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]{0,127}$`)

// Registry holds the indexes of a Model. It is built once by New and only
// read afterwards.
type Registry[T any] struct {
	indexes []*AttributeIndex[T]
	byName  map[string]*AttributeIndex[T]
}

func newRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		indexes: []*AttributeIndex[T]{},
		byName:  make(map[string]*AttributeIndex[T]),
	}
}

// register validates spec and adds the index bound to m.
func (r *Registry[T]) register(m *Model[T], spec IndexSpec) error {
	if !indexNamePattern.MatchString(spec.Name) {
		return fmt.Errorf("scarecrow: invalid index name %q", spec.Name)
	}
	if _, ok := r.byName[spec.Name]; ok {
		return fmt.Errorf("scarecrow: duplicate index name %q", spec.Name)
	}
	if !spec.Kind.Valid() {
		return &TypeMismatchError{Index: spec.Name, Got: spec.Kind.String()}
	}
	if spec.Attribute == "" {
		spec.Attribute = spec.Name
	}

	idx := &AttributeIndex[T]{
		model: m,
		desc: Descriptor{
			Name:      spec.Name,
			Attribute: spec.Attribute,
			Kind:      spec.Kind,
		},
	}
	r.indexes = append(r.indexes, idx)
	r.byName[spec.Name] = idx
	return nil
}

// Lookup returns the index registered under name.
func (r *Registry[T]) Lookup(name string) (*AttributeIndex[T], bool) {
	idx, ok := r.byName[name]
	return idx, ok
}

// All returns the indexes in registration order.
func (r *Registry[T]) All() []*AttributeIndex[T] {
	return r.indexes
}

// Names returns the index names in registration order.
func (r *Registry[T]) Names() []string {
	names := make([]string, len(r.indexes))
	for i, idx := range r.indexes {
		names[i] = idx.desc.Name
	}
	return names
}

// Len returns the number of registered indexes.
func (r *Registry[T]) Len() int {
	return len(r.indexes)
}
