package store

import (
	"context"
	"iter"

	"github.com/jacentio/scarecrow/ident"
)

// AttributeIndex is a secondary index over one attribute of the objects
// stored in a Model.
type AttributeIndex[T any] struct {
	model *Model[T]
	desc  Descriptor
}

// Name returns the index name.
func (idx *AttributeIndex[T]) Name() string { return idx.desc.Name }

// Attribute returns the indexed attribute name.
func (idx *AttributeIndex[T]) Attribute() string { return idx.desc.Attribute }

// Kind returns the declared value type.
func (idx *AttributeIndex[T]) Kind() Kind { return idx.desc.Kind }

// Descriptor returns the static storage descriptor of the index.
func (idx *AttributeIndex[T]) Descriptor() Descriptor { return idx.desc }

// Install creates the index storage if missing. With drop, existing entries
// are discarded.
func (idx *AttributeIndex[T]) Install(ctx context.Context, drop bool) error {
	return backendErr("install index "+idx.desc.Name, idx.model.backend.InstallIndex(ctx, idx.desc, drop))
}

// Map writes obj's entry for the transaction's entity when obj exposes the
// indexed attribute. It never clears a previous entry.
func (idx *AttributeIndex[T]) Map(tx Tx, obj T) error {
	raw, ok := attribute(obj, idx.desc.Attribute)
	if !ok {
		return nil
	}
	v, err := idx.normalize(raw)
	if err != nil {
		return err
	}
	tx.PutEntry(idx.desc, v)
	return nil
}

// Get returns the objects whose attribute equals value.
func (idx *AttributeIndex[T]) Get(ctx context.Context, value any) (iter.Seq2[T, error], error) {
	v, err := idx.normalize(value)
	if err != nil {
		return nil, err
	}
	return idx.objects(ctx, v, v), nil
}

// Count returns how many objects have attribute equal to value.
func (idx *AttributeIndex[T]) Count(ctx context.Context, value any) (int64, error) {
	v, err := idx.normalize(value)
	if err != nil {
		return 0, err
	}
	n, err := idx.model.backend.CountRange(ctx, idx.desc, v, v)
	if err != nil {
		return 0, backendErr("count "+idx.desc.Name, err)
	}
	return n, nil
}

// GetIDs returns the ids of the objects whose attribute equals value. Bodies
// are neither fetched nor decoded.
func (idx *AttributeIndex[T]) GetIDs(ctx context.Context, value any) (iter.Seq2[ident.ObjectID, error], error) {
	v, err := idx.normalize(value)
	if err != nil {
		return nil, err
	}
	return idx.ids(ctx, v, v), nil
}

// GetRange returns the objects whose attribute lies in [start, end].
func (idx *AttributeIndex[T]) GetRange(ctx context.Context, start, end any) (iter.Seq2[T, error], error) {
	lo, hi, err := idx.bounds(start, end)
	if err != nil {
		return nil, err
	}
	return idx.objects(ctx, lo, hi), nil
}

// GetRangeIDs returns the ids of the objects whose attribute lies in [start, end].
func (idx *AttributeIndex[T]) GetRangeIDs(ctx context.Context, start, end any) (iter.Seq2[ident.ObjectID, error], error) {
	lo, hi, err := idx.bounds(start, end)
	if err != nil {
		return nil, err
	}
	return idx.ids(ctx, lo, hi), nil
}

func (idx *AttributeIndex[T]) normalize(x any) (Value, error) {
	v, err := idx.desc.Kind.Normalize(x)
	if err != nil {
		if tm, ok := err.(*TypeMismatchError); ok {
			tm.Index = idx.desc.Name
		}
		return Value{}, err
	}
	return v, nil
}

func (idx *AttributeIndex[T]) bounds(start, end any) (Value, Value, error) {
	lo, err := idx.normalize(start)
	if err != nil {
		return Value{}, Value{}, err
	}
	hi, err := idx.normalize(end)
	if err != nil {
		return Value{}, Value{}, err
	}
	return lo, hi, nil
}

func (idx *AttributeIndex[T]) ids(ctx context.Context, lo, hi Value) iter.Seq2[ident.ObjectID, error] {
	return func(yield func(ident.ObjectID, error) bool) {
		if lo.Compare(hi) > 0 {
			return
		}
		for hit, err := range idx.model.backend.Scan(ctx, idx.desc, lo, hi, false) {
			if err != nil {
				yield(ident.Zero, backendErr("scan "+idx.desc.Name, err))
				return
			}
			if !yield(hit.ID, nil) {
				return
			}
		}
	}
}

func (idx *AttributeIndex[T]) objects(ctx context.Context, lo, hi Value) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if lo.Compare(hi) > 0 {
			return
		}
		for hit, err := range idx.model.backend.Scan(ctx, idx.desc, lo, hi, true) {
			if err != nil {
				yield(zero, backendErr("scan "+idx.desc.Name, err))
				return
			}
			obj, err := idx.model.decode(hit.Body)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(obj, nil) {
				return
			}
		}
	}
}
