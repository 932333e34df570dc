// Package store provides a key-value store with named secondary attribute
// indexes over a pluggable storage backend.
//
// Objects are stored under an [ident.ObjectID] and serialized with a [Codec].
// Each registered [AttributeIndex] maps one attribute of the stored objects to
// the ids holding it, and supports equality, count, id-only and range queries.
//
// # Consistency
//
// [Model.Set] and [Model.Delete] run as one [Backend.Update]: the entity's old
// index entries are cleared, the body is upserted (or removed) and the new
// entries are written. On a [Transactional] backend no reader can observe
// entries that disagree with the stored body. On an [Eventual] backend the
// writes land one after another and a reader may see the intermediate state;
// set [Config.RequireTransactional] to refuse such backends.
//
// # Backends
//
// The store/memory package is an in-process transactional backend. The
// store/dynamo package stores entities and index entries in DynamoDB tables.
//
// # Declared Types
//
// Indexes declare one of the kinds [Integer], [Float], [Text], [DateTime],
// [Date] or [Time]. Query values are checked against the declared kind and
// rejected with a [*TypeMismatchError] rather than converted.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - unknown index name or query operation
//   - [ErrTypeMismatch] - unsupported declared type or mismatched value
//   - [ErrBackend] - failure reported by the storage backend
//   - [ErrConsistency] - backend cannot give the required guarantee
//   - [ErrConcurrentModification] - another writer changed the entity first
//
// A missing object is not an error: [Model.Get] reports it with ok == false.
package store
