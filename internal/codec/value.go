// Package codec implements the canonical binary encoder/decoder that every
// hash computed anywhere in Sentinel flows through (spec.md §4.1).
//
// The wire format is a deliberately small subset of RFC 8949 "Canonical
// CBOR": unsigned integers in shortest form, byte/text strings with
// shortest-form length headers, order-preserving arrays, maps with keys
// sorted by their own canonical encoding, no floating point, no indefinite
// length, and no simple values beyond true/false. A hand-rolled encoder is
// used rather than a general CBOR library — see DESIGN.md — because the
// schema-level rules here (absent-vs-null, field-number contracts) are
// invariants a generic encoder does not give us for free.
package codec

// Major is a CBOR-style major type tag.
type Major uint8

const (
	MajorUint   Major = 0
	MajorBytes  Major = 2
	MajorText   Major = 3
	MajorArray  Major = 4
	MajorMap    Major = 5
	MajorSimple Major = 7
)

// Value is any canonically-encodable value in Sentinel's schema.
type Value interface {
	major() Major
}

// Uint is an unsigned integer value, encoded in shortest form.
type Uint uint64

func (Uint) major() Major { return MajorUint }

// Bytes is an opaque byte string.
type Bytes []byte

func (Bytes) major() Major { return MajorBytes }

// Text is a UTF-8 string.
type Text string

func (Text) major() Major { return MajorText }

// Bool is a boolean simple value. No other simple value is permitted by
// this schema (spec.md §4.1: "simple values beyond true/false/null are
// rejected", and null itself is never a schema value — absence means
// absence).
type Bool bool

func (Bool) major() Major { return MajorSimple }

// Array is an order-preserving sequence of values.
type Array []Value

func (Array) major() Major { return MajorArray }

// MapEntry is one key/value pair of a Map. Key must be a Uint or a Text —
// every composite record in this schema keys its fields by a contractual
// field number (Uint); Text keys are supported by the codec but no record
// uses them (DeterminismConfig.flags is an Array of pairs).
type MapEntry struct {
	Key Value
	Val Value
}

// Map is a sequence of MapEntry. Encode sorts entries by the canonical
// encoding of Key; Decode rejects maps whose keys are not already sorted
// that way, and rejects duplicate keys.
type Map []MapEntry

func (Map) major() Major { return MajorMap }

// Get returns the value associated with a Uint field number key, if present.
func (m Map) Get(field uint64) (Value, bool) {
	for _, e := range m {
		if u, ok := e.Key.(Uint); ok && uint64(u) == field {
			return e.Val, true
		}
	}
	return nil, false
}

// GetText returns the value associated with a Text key, if present.
func (m Map) GetText(key string) (Value, bool) {
	for _, e := range m {
		if t, ok := e.Key.(Text); ok && string(t) == key {
			return e.Val, true
		}
	}
	return nil, false
}
