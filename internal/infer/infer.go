// Package infer decides each column's type from a bounded sample of its
// first non-null values.
//
// The decision is made exactly once per column, when the sample window
// closes (or at stream end for short columns), and is never revised: values
// arriving after the decision are validated against the chosen type, with
// mismatches counted as format errors rather than grounds to reclassify.
package infer

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"profiler/internal/profile"
)

// NumericRe matches the unsigned decimal forms the profiler treats as
// numeric. No sign, no thousands separators, no exponent.
var NumericRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// MoneyRe matches the money form: digits, one point, exactly two decimals.
// Currency symbols, commas, and parentheses are disallowed by construction.
var MoneyRe = regexp.MustCompile(`^[0-9]+\.[0-9]{2}$`)

// DateLayouts is the fixed set of recognized date formats, in preference
// order. The compact YYYYMMDD form is first: it is the house format for the
// files this engine profiles, and later layouts are only consulted when an
// earlier one fails to carry the sample.
var DateLayouts = []string{
	"20060102",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"2006-01-02 15:04:05",
}

// ParseDate strictly parses v against a layout. Partial matches and
// trailing garbage are rejected.
func ParseDate(v, layout string) (time.Time, bool) {
	t, err := time.Parse(layout, v)
	if err != nil {
		return time.Time{}, false
	}
	// time.Parse tolerates unpadded month/day digits; require the exact
	// width by rendering back.
	if t.Format(layout) != v {
		return time.Time{}, false
	}
	return t, true
}

// Alphabetic reports whether v consists of letters, optionally separated by
// spaces, hyphens, or apostrophes (person and place names).
func Alphabetic(v string) bool {
	hasLetter := false
	for _, r := range v {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case r == ' ' || r == '-' || r == '\'':
		default:
			return false
		}
	}
	return hasLetter
}

// Decision is a finalized column classification. DateLayout is set only for
// date columns.
type Decision struct {
	Type       profile.ColumnType
	DateLayout string
}

// Inferrer buffers the first non-null values of one column and classifies
// the column when asked. It is not safe for concurrent use; each column
// worker owns its inferrers.
type Inferrer struct {
	sampleSize int
	confidence float64
	codeThresh float64
	codeFloor  int
	mixedMin   float64

	sample []string
}

// New returns an inferrer with the given tuning. See config.Engine for the
// meaning of each knob.
func New(sampleSize int, confidence, codeThresh float64, codeFloor int, mixedMin float64) *Inferrer {
	return &Inferrer{
		sampleSize: sampleSize,
		confidence: confidence,
		codeThresh: codeThresh,
		codeFloor:  codeFloor,
		mixedMin:   mixedMin,
		sample:     make([]string, 0, sampleSize),
	}
}

// Observe buffers one non-null value. It reports true when this value
// filled the window, signaling the caller to Decide.
func (inf *Inferrer) Observe(v string) (full bool) {
	if len(inf.sample) >= inf.sampleSize {
		return false
	}
	inf.sample = append(inf.sample, v)
	return len(inf.sample) == inf.sampleSize
}

// Decide classifies the column from the buffered sample. Tests run in fixed
// priority: numeric (refined to money or compact-date), date, code, alpha,
// mixed, varchar. An empty sample yields Unknown.
func (inf *Inferrer) Decide() Decision {
	n := len(inf.sample)
	if n == 0 {
		return Decision{Type: profile.TypeUnknown}
	}
	threshold := inf.confidence * float64(n)

	var numeric, money, compactDate int
	for _, v := range inf.sample {
		if !NumericRe.MatchString(v) {
			continue
		}
		numeric++
		if MoneyRe.MatchString(v) {
			money++
		}
		if _, ok := ParseDate(v, DateLayouts[0]); ok {
			compactDate++
		}
	}
	if float64(numeric) >= threshold {
		// All-digit streams can be dates in disguise. A column whose
		// numeric-looking values are overwhelmingly valid YYYYMMDD dates is
		// a date column, not a measurement.
		if float64(compactDate) >= inf.confidence*float64(numeric) {
			return Decision{Type: profile.TypeDate, DateLayout: DateLayouts[0]}
		}
		if money == numeric {
			return Decision{Type: profile.TypeMoney}
		}
		return Decision{Type: profile.TypeNumeric}
	}

	// First layout to carry the sample wins; later values that disagree are
	// counted as format errors downstream, never re-tested against other
	// layouts.
	for _, layout := range DateLayouts {
		matched := 0
		for _, v := range inf.sample {
			if _, ok := ParseDate(v, layout); ok {
				matched++
			}
		}
		if float64(matched) >= threshold {
			return Decision{Type: profile.TypeDate, DateLayout: layout}
		}
	}

	// Low-cardinality string columns are codes, but only once the sample is
	// big enough for the distinct ratio to mean anything.
	if n >= inf.codeFloor {
		seen := make(map[string]struct{}, n)
		for _, v := range inf.sample {
			seen[v] = struct{}{}
		}
		if float64(len(seen))/float64(n) < inf.codeThresh {
			return Decision{Type: profile.TypeCode}
		}
	}

	alpha := 0
	for _, v := range inf.sample {
		if Alphabetic(v) {
			alpha++
		}
	}
	if float64(alpha) >= threshold {
		return Decision{Type: profile.TypeAlpha}
	}

	if inf.mixedSample(numeric, alpha) {
		return Decision{Type: profile.TypeMixed}
	}
	return Decision{Type: profile.TypeVarchar}
}

// mixedSample reports whether at least two value categories each exceed the
// minority threshold.
func (inf *Inferrer) mixedSample(numeric, alpha int) bool {
	n := len(inf.sample)
	date := 0
	for _, v := range inf.sample {
		for _, layout := range DateLayouts {
			if _, ok := ParseDate(v, layout); ok {
				date++
				break
			}
		}
	}
	other := n - numeric - alpha - date
	if other < 0 {
		other = 0
	}
	over := 0
	for _, c := range []int{numeric, date, alpha, other} {
		if float64(c) > inf.mixedMin*float64(n) {
			over++
		}
	}
	return over >= 2
}

// SampleLen returns the number of buffered values.
func (inf *Inferrer) SampleLen() int { return len(inf.sample) }

// Sample exposes the buffered values for replay into aggregates after the
// type decision. The returned slice is owned by the inferrer.
func (inf *Inferrer) Sample() []string { return inf.sample }

// IsNull reports whether a raw field is treated as null: empty or
// whitespace-only.
func IsNull(v string) bool {
	return strings.TrimSpace(v) == ""
}
