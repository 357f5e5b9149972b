package dtype

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// "P1DT2H3M4.5S", "-P0DT0H0M1S", "PT15M"
	isoDurationRe = regexp.MustCompile(`^([+-])?P(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

	// "3 days", "1 day 02:00:00", "-1 days +23:59:59.5"
	dayClockRe = regexp.MustCompile(`^([+-]?\d+)\s*days?(?:,?\s*([+-])?(\d+):(\d{2}):(\d{2})(\.\d+)?)?$`)

	// "02:03:04", "-00:00:01.25"
	clockRe = regexp.MustCompile(`^([+-])?(\d+):(\d{2}):(\d{2})(\.\d+)?$`)

	// "5 minutes", "1.5 hours", "10 sec"
	unitRe = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)\s*([a-zA-Z]+)$`)
)

var unitDurations = map[string]time.Duration{
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"ms": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"us": time.Microsecond, "microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ns": time.Nanosecond, "nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
}

// ParseDuration parses v as an elapsed time. time.Duration values pass
// through. Accepted string forms:
//   - Go durations: "1h30m", "250ms"
//   - ISO-8601: "P1DT2H", "PT0.5S"
//   - day/clock: "2 days", "1 day 03:00:00", "-1 days +23:00:00"
//   - clock: "01:30:00"
//   - number and unit word: "5 minutes", "2 weeks"
//
// Bare numbers are not durations.
func ParseDuration(v any) (time.Duration, bool) {
	switch x := v.(type) {
	case time.Duration:
		return x, true
	case string:
		return parseDurationString(strings.TrimSpace(x))
	}
	return 0, false
}

func parseDurationString(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil && !isBareNumber(s) {
		return d, true
	}
	if m := isoDurationRe.FindStringSubmatch(s); m != nil && strings.Trim(s, "+-PT") != "" {
		var total time.Duration
		for i, unit := range []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second} {
			if m[i+2] == "" {
				continue
			}
			d, ok := scaled(m[i+2], unit)
			if !ok {
				return 0, false
			}
			if total, ok = addDuration(total, d); !ok {
				return 0, false
			}
		}
		if m[1] == "-" {
			total = -total
		}
		return total, true
	}
	if m := dayClockRe.FindStringSubmatch(s); m != nil {
		d, ok := scaled(strings.TrimLeft(m[1], "+-"), 24*time.Hour)
		if !ok {
			return 0, false
		}
		if strings.HasPrefix(m[1], "-") {
			d = -d
		}
		if m[3] != "" {
			clock, ok := clockParts(m[3], m[4], m[5], m[6])
			if !ok {
				return 0, false
			}
			if m[2] == "-" {
				clock = -clock
			}
			if d, ok = addDuration(d, clock); !ok {
				return 0, false
			}
		}
		return d, true
	}
	if m := clockRe.FindStringSubmatch(s); m != nil {
		d, ok := clockParts(m[2], m[3], m[4], m[5])
		if !ok {
			return 0, false
		}
		if m[1] == "-" {
			d = -d
		}
		return d, true
	}
	if m := unitRe.FindStringSubmatch(s); m != nil {
		unit, ok := unitDurations[strings.ToLower(m[2])]
		if !ok {
			return 0, false
		}
		neg := strings.HasPrefix(m[1], "-")
		d, ok := scaled(strings.TrimLeft(m[1], "+-"), unit)
		if !ok {
			return 0, false
		}
		if neg {
			d = -d
		}
		return d, true
	}
	return 0, false
}

func clockParts(h, m, s, frac string) (time.Duration, bool) {
	mm, _ := strconv.ParseInt(m, 10, 64)
	ss, _ := strconv.ParseInt(s, 10, 64)
	if mm > 59 || ss > 59 {
		return 0, false
	}
	d, ok := scaled(h, time.Hour)
	if !ok {
		return 0, false
	}
	rest := time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second
	if frac != "" {
		f, _ := strconv.ParseFloat("0"+frac, 64)
		rest += time.Duration(math.Round(f * float64(time.Second)))
	}
	return addDuration(d, rest)
}

// scaled multiplies an unsigned decimal such as "12" or "4.25" by unit,
// keeping the integral part exact.
func scaled(num string, unit time.Duration) (time.Duration, bool) {
	whole, frac, _ := strings.Cut(num, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > math.MaxInt64/int64(unit) {
		return 0, false
	}
	d := time.Duration(w) * unit
	if frac != "" {
		f, err := strconv.ParseFloat("0."+frac, 64)
		if err != nil {
			return 0, false
		}
		return addDuration(d, time.Duration(math.Round(f*float64(unit))))
	}
	return d, true
}

// addDuration returns a+b, or false when the sum leaves the Duration range.
func addDuration(a, b time.Duration) (time.Duration, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func isBareNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// FormatDuration renders d as an ISO-8601 duration with days, for example
// "P1DT2H3M4.5S". The output is accepted by ParseDuration.
func FormatDuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	secs := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	fmt.Fprintf(&b, "P%dDT%dH%dM%sS", int64(days), int64(hours), int64(minutes), secs)
	return b.String()
}
