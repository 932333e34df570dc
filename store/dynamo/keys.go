package dynamo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/scarecrow/ident"
	"github.com/jacentio/scarecrow/store"
)

// maxSortKey is DynamoDB's limit on a binary sort key.
const maxSortKey = 1024

const signBit = 1 << 63

var errCorruptKey = errors.New("corrupt index sort key")

// encodeValue returns a byte string whose unsigned lexicographic order
// matches v.Compare. Every encoding is prefix-free so the entity id can
// follow it in the sort key.
func encodeValue(v store.Value) []byte {
	switch v.Kind() {
	case store.Integer:
		return binary.BigEndian.AppendUint64(nil, uint64(v.Int())^signBit)
	case store.Float:
		bits := math.Float64bits(v.Float())
		if bits&signBit != 0 {
			bits = ^bits
		} else {
			bits |= signBit
		}
		return binary.BigEndian.AppendUint64(nil, bits)
	case store.Text:
		return encodeText(v.Text())
	case store.DateTime:
		t := v.Time()
		b := binary.BigEndian.AppendUint64(nil, uint64(t.Unix())^signBit)
		return binary.BigEndian.AppendUint32(b, uint32(t.Nanosecond()))
	case store.Date:
		return binary.BigEndian.AppendUint64(nil, uint64(v.Days())^signBit)
	case store.Time:
		return binary.BigEndian.AppendUint64(nil, uint64(v.Clock())^signBit)
	}
	return nil
}

// encodeText escapes 0x00 as 0x00 0xFF and terminates with 0x00 0x01.
func encodeText(s string) []byte {
	b := make([]byte, 0, len(s)+2)
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			b = append(b, 0x00, 0xFF)
			continue
		}
		b = append(b, s[i])
	}
	return append(b, 0x00, 0x01)
}

// decodeValue parses an encoded value of kind k off the front of b and
// returns the remaining bytes.
func decodeValue(k store.Kind, b []byte) (store.Value, []byte, error) {
	fixed := func(n int) ([]byte, []byte, error) {
		if len(b) < n {
			return nil, nil, errCorruptKey
		}
		return b[:n], b[n:], nil
	}

	switch k {
	case store.Integer, store.Date, store.Time:
		head, rest, err := fixed(8)
		if err != nil {
			return store.Value{}, nil, err
		}
		n := int64(binary.BigEndian.Uint64(head) ^ signBit)
		switch k {
		case store.Integer:
			return store.IntValue(n), rest, nil
		case store.Date:
			return store.DateValue(time.Unix(n*86400, 0).UTC()), rest, nil
		default:
			return store.TimeValue(time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n))), rest, nil
		}
	case store.Float:
		head, rest, err := fixed(8)
		if err != nil {
			return store.Value{}, nil, err
		}
		bits := binary.BigEndian.Uint64(head)
		if bits&signBit != 0 {
			bits &^= signBit
		} else {
			bits = ^bits
		}
		return store.FloatValue(math.Float64frombits(bits)), rest, nil
	case store.DateTime:
		head, rest, err := fixed(12)
		if err != nil {
			return store.Value{}, nil, err
		}
		sec := int64(binary.BigEndian.Uint64(head[:8]) ^ signBit)
		nsec := int64(binary.BigEndian.Uint32(head[8:]))
		return store.DateTimeValue(time.Unix(sec, nsec).UTC()), rest, nil
	case store.Text:
		var out []byte
		for i := 0; i+1 < len(b); i++ {
			if b[i] != 0x00 {
				out = append(out, b[i])
				continue
			}
			switch b[i+1] {
			case 0xFF:
				out = append(out, 0x00)
				i++
			case 0x01:
				return store.TextValue(string(out)), b[i+2:], nil
			default:
				return store.Value{}, nil, errCorruptKey
			}
		}
		return store.Value{}, nil, errCorruptKey
	}
	return store.Value{}, nil, fmt.Errorf("%w: kind %s", errCorruptKey, k)
}

// sortKey is the index row sort key: the encoded value followed by the id.
func sortKey(v store.Value, id ident.ObjectID) ([]byte, error) {
	enc := encodeValue(v)
	if len(enc)+ident.Size > maxSortKey {
		return nil, fmt.Errorf("index value of %d bytes exceeds the %d byte key limit", len(enc), maxSortKey-ident.Size)
	}
	return append(enc, id[:]...), nil
}

// parseSortKey splits a sort key back into value and id.
func parseSortKey(k store.Kind, sk []byte) (store.Value, ident.ObjectID, error) {
	v, rest, err := decodeValue(k, sk)
	if err != nil {
		return store.Value{}, ident.Zero, err
	}
	id, err := ident.FromBytes(rest)
	if err != nil {
		return store.Value{}, ident.Zero, errCorruptKey
	}
	return v, id, nil
}

// keyRange returns the inclusive sort key bounds covering every row whose
// value lies in [lo, hi].
func keyRange(lo, hi store.Value) (from, to []byte) {
	from = encodeValue(lo)
	to = append(encodeValue(hi), bytes.Repeat([]byte{0xFF}, ident.Size)...)
	return from, to
}

// nativeValue is the readable copy of an index value stored next to the
// sort key: numbers as N, everything else as S.
func nativeValue(v store.Value) (types.AttributeValue, error) {
	switch v.Kind() {
	case store.Integer, store.Float, store.Text:
		return attributevalue.Marshal(v.Interface())
	}
	return &types.AttributeValueMemberS{Value: v.String()}, nil
}
