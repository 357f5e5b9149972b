package dtype

import (
	"math"
	"testing"
	"time"
)

func TestParseNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    any
		ok    bool
		isInt bool
		i     int64
		f     float64
	}{
		{name: "int_string", in: "42", ok: true, isInt: true, i: 42, f: 42},
		{name: "signed_spaces", in: "  -7 ", ok: true, isInt: true, i: -7, f: -7},
		{name: "float_string", in: "1.5", ok: true, f: 1.5},
		{name: "integral_float_string", in: "3.0", ok: true, isInt: true, i: 3, f: 3},
		{name: "exponent", in: "1e3", ok: true, isInt: true, i: 1000, f: 1000},
		{name: "huge_is_float", in: "1e30", ok: true, f: 1e30},
		{name: "int64_max", in: "9223372036854775807", ok: true, isInt: true, i: math.MaxInt64, f: float64(math.MaxInt64)},
		{name: "native_int8", in: int8(-3), ok: true, isInt: true, i: -3, f: -3},
		{name: "native_float", in: 2.25, ok: true, f: 2.25},
		{name: "bool_true", in: true, ok: true, isInt: true, i: 1, f: 1},
		{name: "hex_rejected", in: "0x1F", ok: false},
		{name: "underscore_rejected", in: "1_000", ok: false},
		{name: "nan_string_is_null", in: "NaN", ok: false},
		{name: "nan_float_is_null", in: math.NaN(), ok: false},
		{name: "word", in: "abc", ok: false},
		{name: "blank", in: "  ", ok: false},
		{name: "nil", in: nil, ok: false},
		{name: "time", in: time.Now(), ok: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n, ok := ParseNumber(tc.in)
			if ok != tc.ok {
				t.Fatalf("ParseNumber(%v) ok=%v, want %v", tc.in, ok, tc.ok)
			}
			if !ok {
				return
			}
			if n.IsInt != tc.isInt {
				t.Fatalf("ParseNumber(%v) IsInt=%v, want %v", tc.in, n.IsInt, tc.isInt)
			}
			if tc.isInt && n.Int != tc.i {
				t.Fatalf("ParseNumber(%v) Int=%d, want %d", tc.in, n.Int, tc.i)
			}
			if n.Float != tc.f {
				t.Fatalf("ParseNumber(%v) Float=%v, want %v", tc.in, n.Float, tc.f)
			}
		})
	}
}

func TestParseNumber_InfIsFloat(t *testing.T) {
	t.Parallel()

	n, ok := ParseNumber("inf")
	if !ok || n.IsInt || !math.IsInf(n.Float, 1) {
		t.Fatalf("ParseNumber(inf)=(%+v,%v)", n, ok)
	}
}

func TestFitsFloat32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want bool
	}{
		{0.5, true},
		{0.1, true},
		{1.25, true},
		{3.4e38, true},
		{1.23456789, false},
		{0.1234567890123, false},
		{1e39, false},
		{math.Inf(1), true},
	}
	for _, tc := range tests {
		if got := FitsFloat32(tc.in); got != tc.want {
			t.Fatalf("FitsFloat32(%v)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     any
		want   bool
		wantOK bool
	}{
		{true, true, true},
		{"TRUE", true, true},
		{" false ", false, true},
		{"False", false, true},
		{"1", false, false},
		{"yes", false, false},
		{int64(0), false, false},
		{nil, false, false},
	}
	for _, tc := range tests {
		got, ok := ParseBool(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Fatalf("ParseBool(%v)=(%v,%v), want (%v,%v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestParseDatetime(t *testing.T) {
	t.Parallel()

	utc := func(y int, m time.Month, d, hh, mm, ss int) time.Time {
		return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
	}
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2021-03-04", utc(2021, 3, 4, 0, 0, 0)},
		{"2021-03-04 05:06:07", utc(2021, 3, 4, 5, 6, 7)},
		{"2021-03-04T05:06:07Z", utc(2021, 3, 4, 5, 6, 7)},
		{"03/04/2021", utc(2021, 3, 4, 0, 0, 0)},
		{"3/4/2021", utc(2021, 3, 4, 0, 0, 0)},
		{"13/04/2021", utc(2021, 4, 13, 0, 0, 0)},
		{"04.03.2021", utc(2021, 3, 4, 0, 0, 0)},
		{"Mar 4, 2021", utc(2021, 3, 4, 0, 0, 0)},
		{"4 March 2021", utc(2021, 3, 4, 0, 0, 0)},
	}
	for _, tc := range tests {
		got, ok := ParseDatetime(tc.in)
		if !ok {
			t.Fatalf("ParseDatetime(%q) failed", tc.in)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ParseDatetime(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []any{"", "hello", "2021-13-40", 20210304, 1.5} {
		if _, ok := ParseDatetime(bad); ok {
			t.Fatalf("ParseDatetime(%v) should fail", bad)
		}
	}
}

func TestDetectDateOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cells []any
		want  DateOrder
	}{
		{"day_first_decides_after_ambiguous", []any{"03/04/2020", nil, "13/04/2020"}, DayFirst},
		{"month_first_decides", []any{"03/04/2020", "04/25/2020", "13/04/2020"}, MonthFirst},
		{"all_ambiguous", []any{"03/04/2020", "05/06/2020"}, MonthFirst},
		{"no_numeric_dates", []any{"2020-04-13", "hello", 5}, MonthFirst},
		{"dash_day_first", []any{"25-12-2020"}, DayFirst},
	}
	for _, tc := range tests {
		if got := DetectDateOrder(tc.cells); got != tc.want {
			t.Fatalf("%s: DetectDateOrder=%d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestParseDatetimeOrder(t *testing.T) {
	t.Parallel()

	apr3 := time.Date(2020, 4, 3, 0, 0, 0, 0, time.UTC)
	if got, ok := ParseDatetimeOrder("03/04/2020", DayFirst); !ok || !got.Equal(apr3) {
		t.Fatalf("day-first 03/04/2020=(%v,%v), want %v", got, ok, apr3)
	}
	if _, ok := ParseDatetimeOrder("13/04/2020", MonthFirst); ok {
		t.Fatalf("month-first 13/04/2020 should fail")
	}
	if _, ok := ParseDatetimeOrder("04/25/2020", DayFirst); ok {
		t.Fatalf("day-first 04/25/2020 should fail")
	}
	if got, ok := ParseDatetimeOrder("2020-04-03", DayFirst); !ok || !got.Equal(apr3) {
		t.Fatalf("ISO date under DayFirst=(%v,%v)", got, ok)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1h30m", 90 * time.Minute},
		{"250ms", 250 * time.Millisecond},
		{"P1DT2H", 26 * time.Hour},
		{"PT0.5S", 500 * time.Millisecond},
		{"-P0DT0H1M0S", -time.Minute},
		{"P2W", 14 * 24 * time.Hour},
		{"2 days", 48 * time.Hour},
		{"1 day 03:00:00", 27 * time.Hour},
		{"-1 days +23:00:00", -time.Hour},
		{"01:30:00", 90 * time.Minute},
		{"00:00:01.25", 1250 * time.Millisecond},
		{"5 minutes", 5 * time.Minute},
		{"1.5 hours", 90 * time.Minute},
		{"106751 days", 106751 * 24 * time.Hour},
		{"2562047:00:00", 2562047 * time.Hour},
	}
	for _, tc := range tests {
		got, ok := ParseDuration(tc.in)
		if !ok {
			t.Fatalf("ParseDuration(%q) failed", tc.in)
		}
		if got != tc.want {
			t.Fatalf("ParseDuration(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []any{
		"", "5", "0", "P", "PT", "10 parsecs", "01:75:00", "2021-01-01", 5,
		// out of the time.Duration range
		"200000 days", "-200000 days", "106751 days 23:59:59", "3000000:00:00",
		"-3000000:00:00", "P200000D", "P15000WT2000000H", "P15000W50000D",
	} {
		if _, ok := ParseDuration(bad); ok {
			t.Fatalf("ParseDuration(%v) should fail", bad)
		}
	}
}

func TestFormatDurationRoundTrip(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Duration{
		0,
		time.Second,
		26*time.Hour + 3*time.Minute + 4500*time.Millisecond,
		-90 * time.Minute,
		400 * 24 * time.Hour,
		time.Nanosecond,
	} {
		s := FormatDuration(d)
		back, ok := ParseDuration(s)
		if !ok || back != d {
			t.Fatalf("FormatDuration(%v)=%q parsed back as (%v,%v)", d, s, back, ok)
		}
	}
	if got := FormatDuration(26*time.Hour + 3*time.Minute + 4500*time.Millisecond); got != "P1DT2H3M4.5S" {
		t.Fatalf("FormatDuration=%q", got)
	}
}

func TestParseComplex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want complex128
	}{
		{"1+2j", complex(1, 2)},
		{"(3-4j)", complex(3, -4)},
		{"2.5j", complex(0, 2.5)},
		{"1+2i", complex(1, 2)},
		{"7", complex(7, 0)},
		{1.5, complex(1.5, 0)},
		{complex(1, 1), complex(1, 1)},
	}
	for _, tc := range tests {
		got, ok := ParseComplex(tc.in)
		if !ok || got != tc.want {
			t.Fatalf("ParseComplex(%v)=(%v,%v), want %v", tc.in, got, ok, tc.want)
		}
	}
	for _, bad := range []any{"abc", "", "1+2k", true, nil} {
		if _, ok := ParseComplex(bad); ok {
			t.Fatalf("ParseComplex(%v) should fail", bad)
		}
	}
	if got := FormatComplex(complex(1, -2)); got != "1-2j" {
		t.Fatalf("FormatComplex=%q, want 1-2j", got)
	}
}

func TestNulls(t *testing.T) {
	t.Parallel()

	for _, v := range []any{nil, "", "   ", math.NaN(), float32(math.NaN())} {
		if !IsNull(v) {
			t.Fatalf("IsNull(%v)=false", v)
		}
	}
	for _, v := range []any{"x", 0, false, "NA"} {
		if IsNull(v) {
			t.Fatalf("IsNull(%v)=true", v)
		}
	}
	for _, s := range []string{"NA", "n/a", " NULL ", "None", ""} {
		if !IsNullToken(s) {
			t.Fatalf("IsNullToken(%q)=false", s)
		}
	}
	if IsNullToken("none") {
		t.Fatalf("IsNullToken(none)=true")
	}
}
