// Package memory provides an in-process, transactional store.Backend.
//
// Entities and index entries live in maps guarded by one lock. An Update
// validates its writes and then applies them under the write lock, so readers
// never observe a body that disagrees with its index entries. Writers to
// different ids contend only for the duration of that in-memory apply.
// Count is exact.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/jacentio/scarecrow/ident"
	"github.com/jacentio/scarecrow/store"
)

type entity struct {
	seq     int64 // surrogate key, insertion order
	updated time.Time
	body    []byte
}

type entry struct {
	id    ident.ObjectID
	value store.Value
}

// Backend is an in-memory store.Backend. The zero value is not usable; call New.
type Backend struct {
	mu       sync.RWMutex
	seq      int64
	entities map[ident.ObjectID]*entity
	indexes  map[string]map[ident.ObjectID]store.Value
}

var _ store.Backend = (*Backend)(nil)

// New returns an empty backend with no tables installed.
func New() *Backend {
	return &Backend{
		indexes: make(map[string]map[ident.ObjectID]store.Value),
	}
}

// Consistency implements store.Backend.
func (b *Backend) Consistency() store.Consistency { return store.Transactional }

// InstallEntities implements store.Backend.
func (b *Backend) InstallEntities(ctx context.Context, drop bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if drop || b.entities == nil {
		b.entities = make(map[ident.ObjectID]*entity)
	}
	return nil
}

// InstallIndex implements store.Backend.
func (b *Backend) InstallIndex(ctx context.Context, d store.Descriptor, drop bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.indexes[d.Name]; drop || !ok {
		b.indexes[d.Name] = make(map[ident.ObjectID]store.Value)
	}
	return nil
}

// Exists implements store.Backend.
func (b *Backend) Exists(ctx context.Context, id ident.ObjectID) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.entities == nil {
		return false, errEntitiesNotInstalled
	}
	_, ok := b.entities[id]
	return ok, nil
}

// Get implements store.Backend.
func (b *Backend) Get(ctx context.Context, id ident.ObjectID) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.entities == nil {
		return nil, false, errEntitiesNotInstalled
	}
	e, ok := b.entities[id]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(e.body), true, nil
}

// LastUpdate implements store.Backend.
func (b *Backend) LastUpdate(ctx context.Context, id ident.ObjectID) (time.Time, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.entities == nil {
		return time.Time{}, false, errEntitiesNotInstalled
	}
	e, ok := b.entities[id]
	if !ok {
		return time.Time{}, false, nil
	}
	return e.updated, true, nil
}

// Count implements store.Backend.
func (b *Backend) Count(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.entities == nil {
		return 0, errEntitiesNotInstalled
	}
	return int64(len(b.entities)), nil
}

// IDs implements store.Backend. Ids are yielded in insertion order of a
// snapshot taken when iteration starts.
func (b *Backend) IDs(ctx context.Context) iter.Seq2[ident.ObjectID, error] {
	return func(yield func(ident.ObjectID, error) bool) {
		ids, err := b.snapshotIDs()
		if err != nil {
			yield(ident.Zero, err)
			return
		}
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

func (b *Backend) snapshotIDs() ([]ident.ObjectID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.entities == nil {
		return nil, errEntitiesNotInstalled
	}
	type row struct {
		id  ident.ObjectID
		seq int64
	}
	rows := make([]row, 0, len(b.entities))
	for id, e := range b.entities {
		rows = append(rows, row{id: id, seq: e.seq})
	}
	slices.SortFunc(rows, func(x, y row) int { return cmp.Compare(x.seq, y.seq) })

	ids := make([]ident.ObjectID, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids, nil
}

// Scan implements store.Backend. Hits are ordered by value, then id.
func (b *Backend) Scan(ctx context.Context, d store.Descriptor, lo, hi store.Value, bodies bool) iter.Seq2[store.Hit, error] {
	return func(yield func(store.Hit, error) bool) {
		hits, err := b.snapshotRange(d, lo, hi, bodies)
		if err != nil {
			yield(store.Hit{}, err)
			return
		}
		for _, h := range hits {
			if err := ctx.Err(); err != nil {
				yield(store.Hit{}, err)
				return
			}
			if !yield(h, nil) {
				return
			}
		}
	}
}

// CountRange implements store.Backend.
func (b *Backend) CountRange(ctx context.Context, d store.Descriptor, lo, hi store.Value) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	table, ok := b.indexes[d.Name]
	if !ok {
		return 0, indexNotInstalled(d)
	}
	var n int64
	for _, v := range table {
		if inRange(v, lo, hi) {
			n++
		}
	}
	return n, nil
}

// snapshotRange copies matching entries, and their bodies when asked, under
// one read lock so the result reflects a single state.
func (b *Backend) snapshotRange(d store.Descriptor, lo, hi store.Value, bodies bool) ([]store.Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	table, ok := b.indexes[d.Name]
	if !ok {
		return nil, indexNotInstalled(d)
	}
	if bodies && b.entities == nil {
		return nil, errEntitiesNotInstalled
	}

	var matched []entry
	for id, v := range table {
		if inRange(v, lo, hi) {
			matched = append(matched, entry{id: id, value: v})
		}
	}
	slices.SortFunc(matched, func(x, y entry) int {
		if c := x.value.Compare(y.value); c != 0 {
			return c
		}
		return slices.Compare(x.id[:], y.id[:])
	})

	hits := make([]store.Hit, 0, len(matched))
	for _, m := range matched {
		h := store.Hit{ID: m.id, Value: m.value}
		if bodies {
			e, ok := b.entities[m.id]
			if !ok {
				continue
			}
			h.Body = slices.Clone(e.body)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func inRange(v, lo, hi store.Value) bool {
	return v.Compare(lo) >= 0 && v.Compare(hi) <= 0
}

var errEntitiesNotInstalled = fmt.Errorf("%w: entities table", store.ErrNotInstalled)

func indexNotInstalled(d store.Descriptor) error {
	return fmt.Errorf("%w: index table %q", store.ErrNotInstalled, d.Name)
}
