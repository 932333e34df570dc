package store

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind is the declared type of an indexed attribute.
type Kind uint8

const (
	KindInvalid Kind = iota
	Integer
	Float
	Text
	DateTime
	Date
	Time
)

// kindNames is fixed at compile time and never mutated.
var kindNames = [...]string{
	KindInvalid: "invalid",
	Integer:     "integer",
	Float:       "float",
	Text:        "text",
	DateTime:    "datetime",
	Date:        "date",
	Time:        "time",
}

// kindAliases maps accepted declared type names to kinds.
var kindAliases = map[string]Kind{
	"integer":  Integer,
	"int":      Integer,
	"bigint":   Integer,
	"float":    Float,
	"double":   Float,
	"text":     Text,
	"string":   Text,
	"datetime": DateTime,
	"date":     Date,
	"time":     Time,
}

// ParseKind resolves a declared type name. Unknown names yield a *TypeMismatchError.
func ParseKind(name string) (Kind, error) {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k, nil
	}
	return KindInvalid, &TypeMismatchError{Got: name}
}

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool { return k > KindInvalid && int(k) < len(kindNames) }

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, &TypeMismatchError{Got: k.String()}
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value is an attribute value normalized to a Kind.
//
// Integer values live in n. Float values live in f. Text lives in s.
// DateTime is n seconds plus ns nanoseconds since the Unix epoch (UTC).
// Date is n days since 1970-01-01. Time is n nanoseconds since midnight.
type Value struct {
	kind Kind
	n    int64
	ns   int32
	f    float64
	s    string
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload of an Integer value.
func (v Value) Int() int64 { return v.n }

// Float returns the payload of a Float value.
func (v Value) Float() float64 { return v.f }

// Text returns the payload of a Text value.
func (v Value) Text() string { return v.s }

// Days returns the days since the epoch of a Date value.
func (v Value) Days() int64 { return v.n }

// Clock returns the offset since midnight of a Time value.
func (v Value) Clock() time.Duration { return time.Duration(v.n) }

// Time returns the temporal payload as a UTC time. Date values are midnight
// of that day; Time values fall on January 1 of year 0.
func (v Value) Time() time.Time {
	switch v.kind {
	case DateTime:
		return time.Unix(v.n, int64(v.ns)).UTC()
	case Date:
		return time.Unix(v.n*secondsPerDay, 0).UTC()
	case Time:
		return time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(v.n))
	}
	return time.Time{}
}

// Interface returns the natural Go representation of v.
func (v Value) Interface() any {
	switch v.kind {
	case Integer:
		return v.n
	case Float:
		return v.f
	case Text:
		return v.s
	case DateTime, Date, Time:
		return v.Time()
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case Integer:
		return strconv.FormatInt(v.n, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Text:
		return v.s
	case DateTime:
		return v.Time().Format(time.RFC3339Nano)
	case Date:
		return v.Time().Format(time.DateOnly)
	case Time:
		return v.Time().Format("15:04:05.999999999")
	}
	return "<invalid>"
}

// Compare orders two values of the same kind. Values of different kinds
// order by kind.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		return cmp.Compare(v.kind, o.kind)
	}
	switch v.kind {
	case Float:
		return cmp.Compare(v.f, o.f)
	case Text:
		return strings.Compare(v.s, o.s)
	case DateTime:
		if c := cmp.Compare(v.n, o.n); c != 0 {
			return c
		}
		return cmp.Compare(v.ns, o.ns)
	}
	return cmp.Compare(v.n, o.n)
}

const secondsPerDay = 24 * 60 * 60

var timeType = reflect.TypeOf(time.Time{})

// Normalize converts a Go value to a Value of kind k. Values whose runtime
// type disagrees with k are rejected, never coerced across kinds.
func (k Kind) Normalize(x any) (Value, error) {
	if !k.Valid() {
		return Value{}, &TypeMismatchError{Got: k.String()}
	}
	mismatch := func() (Value, error) {
		return Value{}, &TypeMismatchError{Declared: k, Got: typeName(x)}
	}

	switch k {
	case Integer:
		switch n := x.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return mismatch()
			}
			return IntValue(i), nil
		}
		rv := reflect.ValueOf(x)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return IntValue(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := rv.Uint()
			if u > math.MaxInt64 {
				return mismatch()
			}
			return IntValue(int64(u)), nil
		}
	case Float:
		var f float64
		switch n := x.(type) {
		case json.Number:
			parsed, err := n.Float64()
			if err != nil {
				return mismatch()
			}
			f = parsed
		default:
			rv := reflect.ValueOf(x)
			if rv.Kind() != reflect.Float32 && rv.Kind() != reflect.Float64 {
				return mismatch()
			}
			f = rv.Float()
		}
		if math.IsNaN(f) {
			return Value{}, &TypeMismatchError{Declared: k, Got: "NaN"}
		}
		return FloatValue(f), nil
	case Text:
		if _, ok := x.(json.Number); ok {
			return mismatch()
		}
		rv := reflect.ValueOf(x)
		if rv.Kind() == reflect.String {
			return TextValue(rv.String()), nil
		}
	case DateTime, Date, Time:
		rv := reflect.ValueOf(x)
		if !rv.IsValid() || !rv.Type().ConvertibleTo(timeType) || rv.Kind() != reflect.Struct {
			return mismatch()
		}
		t := rv.Convert(timeType).Interface().(time.Time)
		switch k {
		case DateTime:
			return DateTimeValue(t), nil
		case Date:
			return DateValue(t), nil
		default:
			return TimeValue(t), nil
		}
	}
	return mismatch()
}

// IntValue returns an Integer value.
func IntValue(n int64) Value { return Value{kind: Integer, n: n} }

// FloatValue returns a Float value. Negative zero is stored as zero.
func FloatValue(f float64) Value {
	if f == 0 {
		f = 0
	}
	return Value{kind: Float, f: f}
}

// TextValue returns a Text value.
func TextValue(s string) Value { return Value{kind: Text, s: s} }

// DateTimeValue returns the instant t as a DateTime value.
func DateTimeValue(t time.Time) Value {
	return Value{kind: DateTime, n: t.Unix(), ns: int32(t.Nanosecond())}
}

// DateValue returns the calendar date of t, in t's location.
func DateValue(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: Date, n: time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay}
}

// TimeValue returns the wall clock time of t, in t's location.
func TimeValue(t time.Time) Value {
	h, m, s := t.Clock()
	clock := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
	return Value{kind: Time, n: int64(clock)}
}

// ParseValue parses the textual form of a value of kind k.
func ParseValue(k Kind, s string) (Value, error) {
	bad := func(err error) (Value, error) {
		return Value{}, fmt.Errorf("%w: parse %s %q: %v", ErrTypeMismatch, k, s, err)
	}
	switch k {
	case Integer:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return bad(err)
		}
		return IntValue(n), nil
	case Float:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return bad(err)
		}
		return k.Normalize(f)
	case Text:
		return TextValue(s), nil
	case DateTime:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return bad(err)
		}
		return DateTimeValue(t), nil
	case Date:
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return bad(err)
		}
		return DateValue(t), nil
	case Time:
		t, err := time.Parse("15:04:05.999999999", s)
		if err != nil {
			return bad(err)
		}
		return TimeValue(t), nil
	}
	return Value{}, &TypeMismatchError{Got: k.String()}
}

func typeName(x any) string {
	if x == nil {
		return "nil"
	}
	return reflect.TypeOf(x).String()
}
