package memory

import (
	"context"
	"slices"
	"time"

	"github.com/jacentio/scarecrow/ident"
	"github.com/jacentio/scarecrow/store"
)

type op uint8

const (
	opClear op = iota + 1
	opPut
)

type indexWrite struct {
	op    op
	desc  store.Descriptor
	value store.Value
}

// tx buffers the writes of one Update in call order.
type tx struct {
	id      ident.ObjectID
	writes  []indexWrite
	put     bool
	del     bool
	body    []byte
	updated time.Time
}

func (t *tx) ID() ident.ObjectID { return t.id }

func (t *tx) ClearEntry(d store.Descriptor) {
	t.writes = append(t.writes, indexWrite{op: opClear, desc: d})
}

func (t *tx) PutEntry(d store.Descriptor, v store.Value) {
	t.writes = append(t.writes, indexWrite{op: opPut, desc: d, value: v})
}

func (t *tx) Put(body []byte, updated time.Time) {
	t.put, t.del = true, false
	t.body = slices.Clone(body)
	t.updated = updated
}

func (t *tx) Delete() {
	t.put, t.del = false, true
	t.body = nil
}

// Update implements store.Backend. All writes are checked against the
// installed tables before any of them is applied.
func (b *Backend) Update(ctx context.Context, id ident.ObjectID, fn func(store.Tx) error) error {
	t := &tx{id: id}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.entities == nil && (t.put || t.del) {
		return errEntitiesNotInstalled
	}
	for _, w := range t.writes {
		if _, ok := b.indexes[w.desc.Name]; !ok {
			return indexNotInstalled(w.desc)
		}
	}

	for _, w := range t.writes {
		switch w.op {
		case opClear:
			delete(b.indexes[w.desc.Name], id)
		case opPut:
			b.indexes[w.desc.Name][id] = w.value
		}
	}

	switch {
	case t.put:
		if e, ok := b.entities[id]; ok {
			e.body, e.updated = t.body, t.updated
		} else {
			b.seq++
			b.entities[id] = &entity{seq: b.seq, body: t.body, updated: t.updated}
		}
	case t.del:
		delete(b.entities, id)
	}
	return nil
}
