// Package findreplace turns a natural-language instruction into regex
// replacements and applies them to a table.
//
// Generation is delegated to a Generator (normally an LLM behind Client).
// Its output is untrusted: Apply validates every replacement before touching
// the table, so a bad answer never leaves a table half edited.
package findreplace

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dfapi/internal/frame"
)

var (
	// ErrUpstream marks failures of the replacement generator: transport
	// errors, non-2xx answers, and answers that cannot be used.
	ErrUpstream = errors.New("findreplace: replacement generation failed")

	// ErrInvalidReplacement is returned by Apply for a replacement naming an
	// unknown column or carrying a pattern that does not compile. It wraps
	// ErrUpstream since the generator produced it.
	ErrInvalidReplacement = fmt.Errorf("%w: invalid replacement", ErrUpstream)
)

// Replacement rewrites every match of Regex in Column.
//
// Replacement may use Python-style group references (\1, \g<1>, \g<name>)
// as well as Go's ${1} and ${name}.
type Replacement struct {
	Column      string `json:"column"`
	Regex       string `json:"regex"`
	Replacement string `json:"replacement"`
}

type compiled struct {
	col  *frame.Column
	re   *regexp.Regexp
	repl string
}

// Apply rewrites t in place and returns how many cells changed. All
// replacements are validated first; on error t is unchanged.
func Apply(t *frame.Table, reps []Replacement) (int, error) {
	plan := make([]compiled, 0, len(reps))
	for i, r := range reps {
		col, ok := t.Column(r.Column)
		if !ok {
			return 0, fmt.Errorf("%w: #%d: unknown column %q", ErrInvalidReplacement, i, r.Column)
		}
		if r.Regex == "" {
			return 0, fmt.Errorf("%w: #%d: empty pattern", ErrInvalidReplacement, i)
		}
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return 0, fmt.Errorf("%w: #%d: %v", ErrInvalidReplacement, i, err)
		}
		plan = append(plan, compiled{col: col, re: re, repl: goTemplate(r.Replacement)})
	}

	changed := 0
	for _, p := range plan {
		for i, v := range p.col.Cells {
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				s = fmt.Sprint(v)
			}
			if out := p.re.ReplaceAllString(s, p.repl); out != s {
				p.col.Cells[i] = out
				changed++
			}
		}
	}
	return changed, nil
}

var pyGroupRef = regexp.MustCompile(`\\(?:g<(\w+)>|(\d{1,2}))`)

// goTemplate converts a Python re.sub replacement into a Regexp.Expand
// template. Literal dollars are escaped and a doubled backslash becomes one.
func goTemplate(s string) string {
	if !strings.ContainsAny(s, `\$`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case s[i] == '$' && i+1 < len(s) && s[i+1] == '{':
			// Already a Go group reference.
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				b.WriteString("$$")
				i++
				continue
			}
			b.WriteString(s[i : i+end+1])
			i += end + 1
		case s[i] == '$':
			b.WriteString("$$")
			i++
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == '\\':
			b.WriteByte('\\')
			i += 2
		case s[i] == '\\':
			if loc := pyGroupRef.FindStringSubmatchIndex(s[i:]); loc != nil && loc[0] == 0 {
				name := ""
				if loc[2] >= 0 {
					name = s[i+loc[2] : i+loc[3]]
				} else {
					name = s[i+loc[4] : i+loc[5]]
				}
				b.WriteString("${" + name + "}")
				i += loc[1]
				continue
			}
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
