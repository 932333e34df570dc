package store

import (
	"context"
	"iter"
	"time"

	"github.com/jacentio/scarecrow/ident"
)

// Consistency describes how a backend applies the writes of one Update.
type Consistency uint8

const (
	// Eventual backends apply the writes of an Update one after another. A
	// concurrent reader may observe index entries that disagree with the body
	// while the Update is in flight, or after it failed half way.
	Eventual Consistency = iota + 1

	// Transactional backends apply all writes of an Update atomically.
	Transactional
)

func (c Consistency) String() string {
	switch c {
	case Eventual:
		return "eventual"
	case Transactional:
		return "transactional"
	}
	return "unknown"
}

// Descriptor is the static description of one index's storage, resolved once
// when the Model is constructed.
type Descriptor struct {
	// Name is the index name. Backends derive the index's table from it.
	Name string

	// Attribute is the object attribute the index reads.
	Attribute string

	// Kind is the declared value type.
	Kind Kind
}

// Hit is one result of an index scan.
type Hit struct {
	ID    ident.ObjectID
	Value Value

	// Body is the entity's serialized body. Only set when the scan was asked
	// for bodies.
	Body []byte
}

// Tx collects the writes for a single entity. Backends apply them when the
// function passed to Backend.Update returns nil and discard them otherwise.
type Tx interface {
	// ID is the entity the transaction is bound to.
	ID() ident.ObjectID

	// ClearEntry removes the entity's entry in the given index, if any.
	ClearEntry(d Descriptor)

	// PutEntry writes the entity's entry in the given index. Any entry the
	// entity already has there must have been cleared first.
	PutEntry(d Descriptor, v Value)

	// Put upserts the entity's body and update timestamp.
	Put(body []byte, updated time.Time)

	// Delete removes the entity. It is a no-op if the entity is absent.
	Delete()
}

// Backend is the storage engine a Model runs on.
//
// Every method is scoped to the call: implementations acquire whatever session
// they need and release it before returning, on success and failure alike.
// Sequences returned by IDs and Scan are lazy; every iteration queries the
// current state again.
type Backend interface {
	// InstallEntities creates the primary table. With drop it is torn down
	// and recreated empty.
	InstallEntities(ctx context.Context, drop bool) error

	// InstallIndex creates the storage for one index. With drop it is torn
	// down and recreated empty.
	InstallIndex(ctx context.Context, d Descriptor, drop bool) error

	Exists(ctx context.Context, id ident.ObjectID) (bool, error)

	// Get returns the body stored for id. ok is false when there is none.
	Get(ctx context.Context, id ident.ObjectID) (body []byte, ok bool, err error)

	LastUpdate(ctx context.Context, id ident.ObjectID) (time.Time, bool, error)

	// Count returns the number of entities. Implementations document whether
	// the result is exact.
	Count(ctx context.Context) (int64, error)

	IDs(ctx context.Context) iter.Seq2[ident.ObjectID, error]

	// Update runs fn against a Tx bound to id and applies the collected
	// writes according to Consistency. An error from fn is returned as is
	// and nothing is written.
	Update(ctx context.Context, id ident.ObjectID, fn func(Tx) error) error

	// Scan yields the entries of index d whose value lies in [lo, hi].
	// Bodies are fetched only when bodies is true; entries whose entity
	// vanished in the meantime are skipped.
	Scan(ctx context.Context, d Descriptor, lo, hi Value, bodies bool) iter.Seq2[Hit, error]

	// CountRange counts the entries of index d whose value lies in [lo, hi].
	CountRange(ctx context.Context, d Descriptor, lo, hi Value) (int64, error)

	Consistency() Consistency
}
