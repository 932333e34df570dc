// Package ident derives fixed-length object identifiers from caller-supplied names.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length of an ObjectID in bytes.
const Size = 16

// ObjectID is an opaque identifier derived from a name by hashing.
type ObjectID [Size]byte

// Zero is the all-zero ObjectID. It is never returned by Of.
var Zero ObjectID

// ErrInvalidID is returned when bytes or text cannot be decoded as an ObjectID.
var ErrInvalidID = errors.New("ident: invalid object id")

// Name is satisfied by the inputs Of accepts.
type Name interface {
	string | ObjectID
}

// Of returns the ObjectID for name. Passing an ObjectID returns it unchanged,
// so Of(Of(n)) == Of(n).
func Of[N Name](name N) ObjectID {
	switch v := any(name).(type) {
	case ObjectID:
		return v
	case string:
		h := sha256.Sum256([]byte(v))
		var id ObjectID
		copy(id[:], h[:Size]) // 128-bit digest prefix
		return id
	}
	panic("unreachable")
}

// FromBytes copies b into an ObjectID. b must be exactly Size bytes long.
func FromBytes(b []byte) (ObjectID, error) {
	var id ObjectID
	if len(b) != Size {
		return id, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidID, len(b), Size)
	}
	copy(id[:], b)
	return id, nil
}

// ParseHex decodes the String form of an ObjectID.
func ParseHex(s string) (ObjectID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return FromBytes(b)
}

// Bytes returns a copy of the id as a slice.
func (id ObjectID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// IsZero reports whether id is the zero value.
func (id ObjectID) IsZero() bool { return id == Zero }

// String returns the lowercase hex encoding of id.
func (id ObjectID) String() string { return hex.EncodeToString(id[:]) }

// MarshalText implements encoding.TextMarshaler.
func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
