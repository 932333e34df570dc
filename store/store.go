package store

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/jacentio/scarecrow/ident"
)

// Query operations accepted by Model.Query.
const (
	OpGet         = "get"
	OpCount       = "count"
	OpGetIDs      = "get_ids"
	OpGetRange    = "get_range"
	OpGetRangeIDs = "get_range_ids"
)

// queryArity is the number of arguments each query operation takes.
var queryArity = map[string]int{
	OpGet:         1,
	OpCount:       1,
	OpGetIDs:      1,
	OpGetRange:    2,
	OpGetRangeIDs: 2,
}

// Arity reports how many arguments the query operation op takes, and
// whether op is known.
func Arity(op string) (int, bool) {
	n, ok := queryArity[op]
	return n, ok
}

// Model stores objects of type T in a Backend and keeps their attribute
// indexes in step with every mutation.
type Model[T any] struct {
	backend  Backend
	config   Config
	registry *Registry[T]
	logger   *slog.Logger
}

// New creates a Model over backend with the given indexes.
func New[T any](backend Backend, config Config, specs ...IndexSpec) (*Model[T], error) {
	config.validate()
	if config.RequireTransactional && backend.Consistency() != Transactional {
		return nil, &ConsistencyError{Required: Transactional, Actual: backend.Consistency()}
	}

	m := &Model[T]{
		backend:  backend,
		config:   config,
		registry: newRegistry[T](),
		logger:   config.Logger,
	}
	for _, spec := range specs {
		if err := m.registry.register(m, spec); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the model's indexes.
func (m *Model[T]) Registry() *Registry[T] {
	return m.registry
}

// Consistency reports the guarantee the backend gives Set and Delete.
func (m *Model[T]) Consistency() Consistency {
	return m.backend.Consistency()
}

// Install creates the primary table and every index's storage. With drop,
// everything is torn down first and the store ends up empty.
func (m *Model[T]) Install(ctx context.Context, drop bool) error {
	if err := m.backend.InstallEntities(ctx, drop); err != nil {
		return backendErr("install entities", err)
	}
	for _, idx := range m.registry.All() {
		if err := idx.Install(ctx, drop); err != nil {
			return err
		}
	}
	m.logger.Info("installed schema",
		"indexes", m.registry.Len(),
		"drop", drop,
	)
	return nil
}

// Contains reports whether an object is stored under id.
func (m *Model[T]) Contains(ctx context.Context, id ident.ObjectID) (bool, error) {
	ok, err := m.backend.Exists(ctx, id)
	if err != nil {
		return false, backendErr("exists", err)
	}
	return ok, nil
}

// Get returns the object stored under id. A missing object is reported with
// ok == false and a nil error.
func (m *Model[T]) Get(ctx context.Context, id ident.ObjectID) (obj T, ok bool, err error) {
	body, ok, err := m.backend.Get(ctx, id)
	if err != nil {
		return obj, false, backendErr("get", err)
	}
	if !ok {
		return obj, false, nil
	}
	obj, err = m.decode(body)
	if err != nil {
		return obj, false, err
	}
	return obj, true, nil
}

// LastUpdate returns when the object under id was last set.
func (m *Model[T]) LastUpdate(ctx context.Context, id ident.ObjectID) (time.Time, bool, error) {
	t, ok, err := m.backend.LastUpdate(ctx, id)
	if err != nil {
		return time.Time{}, false, backendErr("last update", err)
	}
	return t, ok, nil
}

// Set stores obj under id, replacing any previous object. Index entries of
// the previous object are cleared and obj's entries written in the same
// backend update.
func (m *Model[T]) Set(ctx context.Context, id ident.ObjectID, obj T) error {
	body, err := m.config.Codec.Marshal(obj)
	if err != nil {
		return &BackendError{Op: "encode", Err: err}
	}
	updated := m.config.Clock().UTC()

	err = m.backend.Update(ctx, id, func(tx Tx) error {
		// 1. Drop the entries of whatever was stored before
		for _, idx := range m.registry.All() {
			tx.ClearEntry(idx.desc)
		}

		// 2. Upsert the body
		tx.Put(body, updated)

		// 3. Map the new object into every index
		for _, idx := range m.registry.All() {
			if err := idx.Map(tx, obj); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return backendErr("set", err)
	}

	m.logger.Debug("set object", "id", id, "bytes", len(body))
	return nil
}

// Delete removes the object under id and all of its index entries. Deleting
// a missing id is not an error.
func (m *Model[T]) Delete(ctx context.Context, id ident.ObjectID) error {
	err := m.backend.Update(ctx, id, func(tx Tx) error {
		for _, idx := range m.registry.All() {
			tx.ClearEntry(idx.desc)
		}
		tx.Delete()
		return nil
	})
	if err != nil {
		return backendErr("delete", err)
	}

	m.logger.Debug("deleted object", "id", id)
	return nil
}

// Len returns the number of stored objects, as exact as the backend's Count.
func (m *Model[T]) Len(ctx context.Context) (int64, error) {
	n, err := m.backend.Count(ctx)
	if err != nil {
		return 0, backendErr("count", err)
	}
	return n, nil
}

// IDs returns the ids of all stored objects. Each iteration is a fresh
// traversal of the backend.
func (m *Model[T]) IDs(ctx context.Context) iter.Seq2[ident.ObjectID, error] {
	return func(yield func(ident.ObjectID, error) bool) {
		for id, err := range m.backend.IDs(ctx) {
			if err != nil {
				yield(ident.Zero, backendErr("iterate", err))
				return
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

// Index returns the index registered under name.
func (m *Model[T]) Index(name string) (*AttributeIndex[T], error) {
	idx, ok := m.registry.Lookup(name)
	if !ok {
		return nil, &NotFoundError{Kind: "index", Name: name}
	}
	return idx, nil
}

// Query runs the named read operation on the named index.
//
// The result type depends on op:
//
//	get, get_range          iter.Seq2[T, error]
//	get_ids, get_range_ids  iter.Seq2[ident.ObjectID, error]
//	count                   int64
//
// Unknown indexes and operations fail with a *NotFoundError before the
// backend is touched.
func (m *Model[T]) Query(ctx context.Context, name, op string, args ...any) (any, error) {
	idx, err := m.Index(name)
	if err != nil {
		return nil, err
	}

	want, ok := Arity(op)
	if !ok {
		return nil, &NotFoundError{Kind: "operation", Name: op}
	}
	if len(args) != want {
		return nil, &ArgumentsError{Op: op, Want: want, Got: len(args)}
	}

	switch op {
	case OpGet:
		return idx.Get(ctx, args[0])
	case OpCount:
		return idx.Count(ctx, args[0])
	case OpGetIDs:
		return idx.GetIDs(ctx, args[0])
	case OpGetRange:
		return idx.GetRange(ctx, args[0], args[1])
	default:
		return idx.GetRangeIDs(ctx, args[0], args[1])
	}
}

func (m *Model[T]) decode(body []byte) (T, error) {
	var obj T
	if err := m.config.Codec.Unmarshal(body, &obj); err != nil {
		return obj, &BackendError{Op: "decode", Err: err}
	}
	return obj, nil
}
