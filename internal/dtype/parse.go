package dtype

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ---- nulls ----

// nullTokens are the literal cell texts readers treat as missing values.
var nullTokens = map[string]struct{}{
	"":        {},
	"NA":      {},
	"N/A":     {},
	"n/a":     {},
	"#N/A":    {},
	"NaN":     {},
	"nan":     {},
	"-NaN":    {},
	"-nan":    {},
	"null":    {},
	"NULL":    {},
	"None":    {},
	"<NA>":    {},
	"#NA":     {},
	"-1.#IND": {},
	"1.#QNAN": {},
}

// IsNullToken reports whether a raw text cell denotes a missing value.
func IsNullToken(s string) bool {
	_, ok := nullTokens[strings.TrimSpace(s)]
	return ok
}

// IsNull reports whether v is a missing value: nil, a blank string, or NaN.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

// ---- numbers ----

// Number is the result of a numeric parse. Integral values that fit int64
// keep full precision in Int.
type Number struct {
	Int   int64
	Float float64
	IsInt bool
}

func intNumber(i int64) Number { return Number{Int: i, Float: float64(i), IsInt: true} }

func floatNumber(f float64) Number {
	if f == math.Trunc(f) && f >= -9.223372036854775808e18 && f < 9.223372036854775808e18 {
		return Number{Int: int64(f), Float: f, IsInt: true}
	}
	return Number{Float: f}
}

// ParseNumber parses v as a decimal number.
//
// Accepted:
//   - Go integer and float values (NaN is not a number here; it is null)
//   - bool (true=1, false=0)
//   - decimal strings, optionally signed, with exponent, "inf"/"infinity"
//
// Rejected: hexadecimal, octal and binary prefixes, digit separators, and
// anything else strconv would not read as base-10.
func ParseNumber(v any) (Number, bool) {
	switch x := v.(type) {
	case nil:
		return Number{}, false
	case int:
		return intNumber(int64(x)), true
	case int8:
		return intNumber(int64(x)), true
	case int16:
		return intNumber(int64(x)), true
	case int32:
		return intNumber(int64(x)), true
	case int64:
		return intNumber(x), true
	case uint8:
		return intNumber(int64(x)), true
	case uint16:
		return intNumber(int64(x)), true
	case uint32:
		return intNumber(int64(x)), true
	case float32:
		if math.IsNaN(float64(x)) {
			return Number{}, false
		}
		return floatNumber(float64(x)), true
	case float64:
		if math.IsNaN(x) {
			return Number{}, false
		}
		return floatNumber(x), true
	case bool:
		if x {
			return intNumber(1), true
		}
		return intNumber(0), true
	case string:
		return parseNumberString(x)
	}
	return Number{}, false
}

func parseNumberString(s string) (Number, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return intNumber(i), true
	}
	if hasRadixPrefix(s) || strings.ContainsRune(s, '_') {
		return Number{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return Number{}, false
	}
	return floatNumber(f), true
}

func hasRadixPrefix(s string) bool {
	s = strings.TrimLeft(s, "+-")
	if len(s) < 2 || s[0] != '0' {
		return false
	}
	switch s[1] {
	case 'x', 'X', 'o', 'O', 'b', 'B':
		return true
	}
	return false
}

// FitsFloat32 reports whether f survives a float32 round trip without
// changing its shortest decimal representation.
func FitsFloat32(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return true
	}
	if math.Abs(f) > math.MaxFloat32 {
		return false
	}
	f32 := float32(f)
	if float64(f32) == f {
		return true
	}
	return strconv.FormatFloat(float64(f32), 'g', -1, 32) == strconv.FormatFloat(f, 'g', -1, 64)
}

// ---- booleans ----

// ParseBool accepts Go bool values and the literals true/false in any case.
// Numeric 0/1 and yes/no are deliberately not booleans.
func ParseBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// ---- complex ----

// ParseComplex accepts complex values, real numbers, and strings such as
// "1+2j", "(3-4j)", "2.5j" or "1+2i".
func ParseComplex(v any) (complex128, bool) {
	switch x := v.(type) {
	case complex128:
		return x, true
	case complex64:
		return complex128(x), true
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		s = strings.ReplaceAll(s, " ", "")
		if s == "" || hasRadixPrefix(s) {
			return 0, false
		}
		if n := len(s); s[n-1] == 'j' || s[n-1] == 'J' {
			s = s[:n-1] + "i"
		}
		c, err := strconv.ParseComplex(s, 128)
		if err != nil {
			return 0, false
		}
		return c, true
	}
	if n, ok := ParseNumber(v); ok {
		if _, isBool := v.(bool); isBool {
			return 0, false
		}
		return complex(n.Float, 0), true
	}
	return 0, false
}

// FormatComplex renders c the way it is read back: "a+bj".
func FormatComplex(c complex128) string {
	s := strconv.FormatComplex(c, 'g', -1, 128)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	return strings.TrimSuffix(s, "i") + "j"
}

// ---- datetimes ----

// zonedLayouts carry an explicit offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 -0700 MST",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
}

// localLayouts have no zone and are read as UTC. None of them is ambiguous
// between day-first and month-first readings.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"20060102T150405",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"02-Jan-2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"Mon Jan 2 15:04:05 2006",
	"Mon, 02 Jan 2006",
}

// Numeric slash and dash dates, by convention. Both lists have the same
// shapes so a cell either fits one convention, the other, or both.
var (
	monthFirstLayouts = []string{
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 3:04 PM",
		"1/2/2006",
		"1/2/06",
		"1-2-2006",
	}
	dayFirstLayouts = []string{
		"2/1/2006 15:04:05",
		"2/1/2006 15:04",
		"2/1/2006 3:04:05 PM",
		"2/1/2006 3:04 PM",
		"2/1/2006",
		"2/1/06",
		"2-1-2006",
	}
)

// DateOrder is the reading of numeric dates such as "03/04/2020".
type DateOrder uint8

const (
	MonthFirst DateOrder = iota // 03/04/2020 is March 4
	DayFirst                    // 03/04/2020 is April 3
)

func (o DateOrder) layouts() []string {
	if o == DayFirst {
		return dayFirstLayouts
	}
	return monthFirstLayouts
}

// DetectDateOrder picks one DateOrder for a whole column: the convention of
// the first cell that parses under exactly one of them. Columns where every
// numeric date is ambiguous, or that have none, are MonthFirst.
func DetectDateOrder(cells []any) DateOrder {
	for _, v := range cells {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		_, mf := parseLayouts(monthFirstLayouts, s)
		_, df := parseLayouts(dayFirstLayouts, s)
		switch {
		case mf && !df:
			return MonthFirst
		case df && !mf:
			return DayFirst
		}
	}
	return MonthFirst
}

// ParseDatetime parses v as a point in time. time.Time values pass through.
// Numbers are not datetimes. Numeric dates are read month-first when that
// works and day-first otherwise, per cell; use ParseDatetimeOrder to read a
// column under one convention.
func ParseDatetime(v any) (time.Time, bool) {
	if ts, ok := ParseDatetimeOrder(v, MonthFirst); ok {
		return ts, true
	}
	if s, ok := v.(string); ok {
		return parseLayouts(dayFirstLayouts, strings.TrimSpace(s))
	}
	return time.Time{}, false
}

// ParseDatetimeOrder is ParseDatetime with numeric dates read only under
// order.
func ParseDatetimeOrder(v any, order DateOrder) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range zonedLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if ts, ok := parseLayouts(localLayouts, s); ok {
			return ts, true
		}
		return parseLayouts(order.layouts(), s)
	}
	return time.Time{}, false
}

func parseLayouts(layouts []string, s string) (time.Time, bool) {
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
