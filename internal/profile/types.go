// Package profile defines the finalized output model of a profiling run.
//
// The JSON shapes in this package are a hard compatibility boundary for the
// reporting layer: field names and nesting must not change without
// coordinating with report consumers.
package profile

import (
	"profiler/internal/errcode"
)

// ColumnType is the closed set of column classifications. A column's type is
// decided once, after the inference sample window closes, and never revised.
type ColumnType string

const (
	TypeAlpha   ColumnType = "alpha"
	TypeVarchar ColumnType = "varchar"
	TypeCode    ColumnType = "code"
	TypeNumeric ColumnType = "numeric"
	TypeMoney   ColumnType = "money"
	TypeDate    ColumnType = "date"
	TypeMixed   ColumnType = "mixed"
	TypeUnknown ColumnType = "unknown"
)

// ValueCount pairs a distinct value with its exact occurrence count.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// LengthStats reports byte-length statistics over non-null values.
type LengthStats struct {
	Min int64   `json:"min"`
	Max int64   `json:"max"`
	Avg float64 `json:"avg"`
}

// HistogramBucket is one fixed-boundary histogram cell. High is nil for the
// unbounded last bucket.
type HistogramBucket struct {
	Low   float64  `json:"low"`
	High  *float64 `json:"high"`
	Count int64    `json:"count"`
}

// NumericStats reports exact single-pass statistics for numeric columns.
// Quantiles are exact, computed from the distinct index's sorted enumeration.
type NumericStats struct {
	Min            float64            `json:"min"`
	Max            float64            `json:"max"`
	Mean           float64            `json:"mean"`
	Median         float64            `json:"median"`
	StdDev         float64            `json:"stddev"`
	Quantiles      map[string]float64 `json:"quantiles"`
	GaussianPValue float64            `json:"gaussian_pvalue"`
	Histogram      []HistogramBucket  `json:"histogram"`
}

// MoneyRules reports money-format conformance for money columns.
type MoneyRules struct {
	TwoDecimalOK           bool  `json:"two_decimal_ok"`
	DisallowedSymbolsFound bool  `json:"disallowed_symbols_found"`
	ViolationsCount        int64 `json:"violations_count"`
}

// DateStats reports date-range statistics for date columns. Min and Max are
// rendered in the column's detected format.
type DateStats struct {
	DetectedFormat      string           `json:"detected_format"`
	Min                 string           `json:"min"`
	Max                 string           `json:"max"`
	OutOfRangeCount     int64            `json:"out_of_range_count"`
	DistributionByMonth map[string]int64 `json:"distribution_by_month"`
	DistributionByYear  map[string]int64 `json:"distribution_by_year"`
}

// ColumnStats is the finalized per-column profile.
//
// Invariants:
//   - NullCount + NonNullCount == total data rows
//   - DistinctCount <= NonNullCount
//   - exactly one of NumericStats/MoneyRules/DateStats is set for
//     numeric/money/date columns; none for string-typed columns.
type ColumnStats struct {
	Ordinal       uint32       `json:"ordinal"`
	Name          string       `json:"name"`
	Type          ColumnType   `json:"type"`
	NullCount     int64        `json:"null_count"`
	NonNullCount  int64        `json:"nonnull_count"`
	NullPct       float64      `json:"null_pct"`
	DistinctCount int64        `json:"distinct_count"`
	TopValues     []ValueCount `json:"top_values"`

	Length       *LengthStats  `json:"length,omitempty"`
	NumericStats *NumericStats `json:"numeric_stats,omitempty"`
	MoneyRules   *MoneyRules   `json:"money_rules,omitempty"`
	DateStats    *DateStats    `json:"date_stats,omitempty"`
}

// FileInfo is file-level metadata for the run.
type FileInfo struct {
	Rows         int64    `json:"rows"`
	Columns      int      `json:"columns"`
	Delimiter    string   `json:"delimiter"`
	CRLFDetected bool     `json:"crlf_detected"`
	LineEnding   string   `json:"line_ending"`
	Header       []string `json:"header"`
}

// CandidateKey is a scored uniqueness-key candidate. Score is
// DistinctRatio * (1 - NullRatioSum), clamped to [0, 1].
type CandidateKey struct {
	Columns      []string `json:"columns"`
	DistinctRatio float64 `json:"distinct_ratio"`
	NullRatioSum  float64 `json:"null_ratio_sum"`
	Score         float64 `json:"score"`
}

// ConfirmedKey is a candidate key with an exact duplicate count, produced
// only after explicit external confirmation.
type ConfirmedKey struct {
	CandidateKey
	DuplicateCount int64 `json:"duplicate_count"`
}

// Profile is the complete finalized output of a run.
type Profile struct {
	File          FileInfo         `json:"file"`
	Columns       []ColumnStats    `json:"columns"`
	CandidateKeys []CandidateKey   `json:"candidate_keys"`
	Errors        []errcode.Record `json:"errors"`
	Warnings      []errcode.Record `json:"warnings"`
}
