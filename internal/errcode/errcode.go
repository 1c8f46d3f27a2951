// Package errcode defines the error taxonomy for a profiling run.
//
// Three severities exist:
//   - Catastrophic: halts the run at the first occurrence. Nothing beyond what
//     was already finalized (i.e. nothing) is exposed.
//   - NonCatastrophic: incremented into a rollup counter keyed by code; the
//     offending value may be excluded from type-specific aggregates, but the
//     run continues.
//   - Warning: informational only; never affects aggregation.
//
// IMPORTANT:
// Error records never carry raw field values. Input files may contain
// sensitive data, so records expose only codes, fixed message templates,
// counts, column names, and row/byte positions.
package errcode

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Severity classifies how an error affects the run.
type Severity int

const (
	Catastrophic Severity = iota
	NonCatastrophic
	Warning
)

func (s Severity) String() string {
	switch s {
	case Catastrophic:
		return "catastrophic"
	case NonCatastrophic:
		return "non_catastrophic"
	case Warning:
		return "warning"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the severity as its string form. The reporting layer
// consumes severities by name, not by ordinal.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Error codes. Catastrophic codes halt the run; W_ codes are warnings.
const (
	CodeUTF8Invalid   = "E_UTF8_INVALID"
	CodeHeaderMissing = "E_HEADER_MISSING"
	CodeJaggedRow     = "E_JAGGED_ROW"

	CodeQuoteRule     = "E_QUOTE_RULE"
	CodeNumericFormat = "E_NUMERIC_FORMAT"
	CodeMoneyFormat   = "E_MONEY_FORMAT"
	CodeDateFormat    = "E_DATE_FORMAT"

	CodeDateRange       = "W_DATE_RANGE"
	CodeLineEndingMixed = "W_LINE_ENDING_MIXED"
	CodeCRLFMismatch    = "W_CRLF_MISMATCH"
)

// messageTemplates maps codes to fixed, value-free message templates.
var messageTemplates = map[string]string{
	CodeUTF8Invalid:   "invalid UTF-8 byte sequence",
	CodeHeaderMissing: "header row is missing",
	CodeJaggedRow:     "row field count does not match header",
	CodeQuoteRule:     "malformed quoting; field taken as-is",
	CodeNumericFormat: "value does not match the numeric format",
	CodeMoneyFormat:   "value does not match the money format",
	CodeDateFormat:    "value does not match the detected date format",
	CodeDateRange:     "date outside the plausible range",
	CodeLineEndingMixed: "multiple line-ending styles present",
	CodeCRLFMismatch:    "configured line-ending expectation does not match detected style",
}

func severityFor(code string) Severity {
	switch code {
	case CodeUTF8Invalid, CodeHeaderMissing, CodeJaggedRow:
		return Catastrophic
	case CodeDateRange, CodeLineEndingMixed, CodeCRLFMismatch:
		return Warning
	default:
		return NonCatastrophic
	}
}

// Record is an aggregated error occurrence report.
//
// FirstRow is the 1-based row number of the first occurrence (0 when the
// error is not row-scoped). ByteOffset is set only for byte-level failures.
type Record struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Count      int64    `json:"count"`
	Severity   Severity `json:"severity"`
	Column     string   `json:"column,omitempty"`
	FirstRow   int64    `json:"first_row,omitempty"`
	ByteOffset int64    `json:"byte_offset,omitempty"`
}

// New builds a single record for a code with count 1.
func New(code string) Record {
	return Record{
		Code:     code,
		Message:  messageTemplates[code],
		Count:    1,
		Severity: severityFor(code),
	}
}

// NewAt builds a single record pinned to a row position.
func NewAt(code string, row int64) Record {
	r := New(code)
	r.FirstRow = row
	return r
}

// NewAtByte builds a single record pinned to a byte offset.
func NewAtByte(code string, offset int64) Record {
	r := New(code)
	r.ByteOffset = offset
	return r
}

func (r Record) Error() string {
	if r.Column != "" {
		return fmt.Sprintf("%s: %s (column=%s)", r.Code, r.Message, r.Column)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Rollup aggregates non-catastrophic errors and warnings by (code, column).
// Individual occurrences are never re-raised; only counts and first positions
// are retained.
type Rollup struct {
	mu    sync.Mutex
	byKey map[string]*Record
}

func NewRollup() *Rollup {
	return &Rollup{byKey: make(map[string]*Record)}
}

// Add increments the rollup counter for a code scoped to a column.
// Pass column="" for file-level codes and row=0 when no row applies.
func (ru *Rollup) Add(code, column string, row int64) {
	ru.mu.Lock()
	defer ru.mu.Unlock()

	k := code + "\x00" + column
	if rec, ok := ru.byKey[k]; ok {
		rec.Count++
		return
	}
	rec := New(code)
	rec.Column = column
	rec.FirstRow = row
	ru.byKey[k] = &rec
}

// Count returns the rolled-up count for a code scoped to a column.
func (ru *Rollup) Count(code, column string) int64 {
	ru.mu.Lock()
	defer ru.mu.Unlock()

	if rec, ok := ru.byKey[code+"\x00"+column]; ok {
		return rec.Count
	}
	return 0
}

// Errors returns aggregated non-catastrophic and catastrophic records,
// sorted by code then column for deterministic output.
func (ru *Rollup) Errors() []Record {
	return ru.collect(func(r *Record) bool { return r.Severity != Warning })
}

// Warnings returns aggregated warning records, sorted by code then column.
func (ru *Rollup) Warnings() []Record {
	return ru.collect(func(r *Record) bool { return r.Severity == Warning })
}

func (ru *Rollup) collect(keep func(*Record) bool) []Record {
	ru.mu.Lock()
	defer ru.mu.Unlock()

	out := make([]Record, 0, len(ru.byKey))
	for _, rec := range ru.byKey {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Column < out[j].Column
	})
	return out
}
