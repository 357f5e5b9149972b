// Package dtype defines the closed set of column type tags used by the
// inference and application engine, the Schema wire type, and the loose
// value parsers both engines share.
//
// Tags are ordered as a lattice. Inference walks it from the most specific
// tag (Bool) to the least specific (String) and stops at the first tag every
// non-null value of a column fits.
package dtype

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Tag is a column type tag.
type Tag uint8

const (
	// Invalid is the zero value; it never appears in a Schema produced by this
	// module and is rejected by ParseTag.
	Invalid Tag = iota

	Bool

	Int8
	Int16
	Int32
	Int64

	// Nullable integer widths. These are selected when a column is integral
	// but has at least one missing value.
	NullableInt8
	NullableInt16
	NullableInt32
	NullableInt64

	Float32
	Float64

	Datetime
	Timeduration
	Complex
	Category
	String
)

// ErrUnknownTag is returned when a tag name is not part of the closed set.
var ErrUnknownTag = errors.New("dtype: unknown type tag")

var tagNames = [...]string{
	Invalid:       "invalid",
	Bool:          "bool",
	Int8:          "int8",
	Int16:         "int16",
	Int32:         "int32",
	Int64:         "int64",
	NullableInt8:  "Int8",
	NullableInt16: "Int16",
	NullableInt32: "Int32",
	NullableInt64: "Int64",
	Float32:       "float32",
	Float64:       "float64",
	Datetime:      "datetime",
	Timeduration:  "timeduration",
	Complex:       "complex",
	Category:      "category",
	String:        "string",
}

// aliases maps names written by older clients (pandas dtype strings) onto
// canonical tags. Lookups are exact; nullable integers are distinguished from
// plain integers by case only.
var aliases = map[string]Tag{
	"object":          String,
	"str":             String,
	"boolean":         Bool,
	"datetime64[ns]":  Datetime,
	"datetime64":      Datetime,
	"timedelta64[ns]": Timeduration,
	"timedelta64":     Timeduration,
	"timedelta":       Timeduration,
	"complex128":      Complex,
	"complex64":       Complex,
}

// Tags returns every valid tag in lattice order.
func Tags() []Tag {
	out := make([]Tag, 0, len(tagNames)-1)
	for t := Bool; t <= String; t++ {
		out = append(out, t)
	}
	return out
}

// String returns the canonical wire name of t.
func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Valid reports whether t is one of the closed set of tags.
func (t Tag) Valid() bool { return t >= Bool && t <= String }

// ParseTag resolves a canonical tag name or a known alias.
func ParseTag(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	for t := Bool; t <= String; t++ {
		if tagNames[t] == s {
			return t, nil
		}
	}
	if t, ok := aliases[s]; ok {
		return t, nil
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnknownTag, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tag) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tag) UnmarshalText(b []byte) error {
	v, err := ParseTag(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// IsInteger reports whether t is one of the eight integer tags.
func (t Tag) IsInteger() bool { return t >= Int8 && t <= NullableInt64 }

// IsNullableInteger reports whether t is a nullable integer width.
func (t Tag) IsNullableInteger() bool { return t >= NullableInt8 && t <= NullableInt64 }

// IsFloat reports whether t is Float32 or Float64.
func (t Tag) IsFloat() bool { return t == Float32 || t == Float64 }

// IsNumeric reports whether values of t go through the numeric parser.
func (t Tag) IsNumeric() bool { return t.IsInteger() || t.IsFloat() }

// Bits returns the storage width of an integer or float tag, or 0.
func (t Tag) Bits() int {
	switch t {
	case Int8, NullableInt8:
		return 8
	case Int16, NullableInt16:
		return 16
	case Int32, NullableInt32, Float32:
		return 32
	case Int64, NullableInt64, Float64:
		return 64
	}
	return 0
}

// IntRange returns the inclusive bounds of an integer tag.
// It panics for non-integer tags.
func (t Tag) IntRange() (lo, hi int64) {
	switch t.Bits() {
	case 8:
		return math.MinInt8, math.MaxInt8
	case 16:
		return math.MinInt16, math.MaxInt16
	case 32:
		return math.MinInt32, math.MaxInt32
	case 64:
		if t.IsInteger() {
			return math.MinInt64, math.MaxInt64
		}
	}
	panic(fmt.Sprintf("dtype: IntRange on non-integer tag %s", t))
}

// NarrowInt picks the tightest integer tag that bounds [lo, hi].
// When nullable is true the nullable variant of that width is returned.
func NarrowInt(lo, hi int64, nullable bool) Tag {
	var t Tag
	switch {
	case lo >= math.MinInt8 && hi <= math.MaxInt8:
		t = Int8
	case lo >= math.MinInt16 && hi <= math.MaxInt16:
		t = Int16
	case lo >= math.MinInt32 && hi <= math.MaxInt32:
		t = Int32
	default:
		t = Int64
	}
	if nullable {
		t += NullableInt8 - Int8
	}
	return t
}

// Schema maps column names to tags. It encodes as a JSON object of tag names.
type Schema map[string]Tag

// Clone returns a copy of s.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Columns returns the schema's column names in sorted order.
func (s Schema) Columns() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate reports the first entry whose tag is outside the closed set.
func (s Schema) Validate() error {
	for _, k := range s.Columns() {
		if !s[k].Valid() {
			return fmt.Errorf("%w: column %q", ErrUnknownTag, k)
		}
	}
	return nil
}

// ParseSchema converts a name->tag-string mapping into a Schema.
func ParseSchema(m map[string]string) (Schema, error) {
	out := make(Schema, len(m))
	for k, v := range m {
		t, err := ParseTag(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		out[k] = t
	}
	return out, nil
}
