// Package aggregate maintains per-column running state: null/length
// counters, the distinct index feed, type inference, type-specific
// accumulators, and the finalize step that turns all of it into a
// profile.ColumnStats.
//
// One Column is owned by exactly one worker goroutine for the lifetime of a
// run, so none of this state is locked.
package aggregate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"profiler/internal/distinct"
	"profiler/internal/errcode"
	"profiler/internal/infer"
	"profiler/internal/profile"
)

// Column accumulates everything known about one column while rows stream
// through, then finalizes into ColumnStats exactly once.
type Column struct {
	ordinal   uint32
	name      string
	idx       distinct.Index
	inf       *infer.Inferrer
	rollup    *errcode.Rollup
	topValues int

	// nowYear bounds the plausible date range (1900 .. nowYear+1). Seam for
	// tests.
	nowYear int

	decided bool
	dec     infer.Decision

	// Rows observed while the inference window is open, parallel to the
	// inferrer's sample, so replayed format errors keep their positions.
	sampleRows []int64

	nullCount int64
	nonNull   int64
	lenMin    int64
	lenMax    int64
	lenSum    int64

	num Moments

	moneyViolations int64
	moneySymbols    bool
	twoDecimalBad   int64

	dateMin, dateMax time.Time
	dateOutOfRange   int64
	byMonth, byYear  map[string]int64
}

// NewColumn wires a column accumulator to its distinct index, inferrer, and
// the run's error rollup.
func NewColumn(ordinal uint32, name string, idx distinct.Index, inf *infer.Inferrer, rollup *errcode.Rollup, topValues int) *Column {
	return &Column{
		ordinal:   ordinal,
		name:      name,
		idx:       idx,
		inf:       inf,
		rollup:    rollup,
		topValues: topValues,
		nowYear:   time.Now().Year(),
		lenMin:    -1,
		byMonth:   make(map[string]int64),
		byYear:    make(map[string]int64),
	}
}

// Name returns the column's header name.
func (c *Column) Name() string { return c.name }

// Type returns the decided type, or Unknown before the decision.
func (c *Column) Type() profile.ColumnType {
	if !c.decided {
		return profile.TypeUnknown
	}
	return c.dec.Type
}

// Observe folds one raw field value into the column state. row is the
// 1-based file row the value came from.
func (c *Column) Observe(row int64, raw string) error {
	if infer.IsNull(raw) {
		c.nullCount++
		return nil
	}
	c.nonNull++

	l := int64(len(raw))
	if c.lenMin < 0 || l < c.lenMin {
		c.lenMin = l
	}
	if l > c.lenMax {
		c.lenMax = l
	}
	c.lenSum += l

	if err := c.idx.Add(raw); err != nil {
		return fmt.Errorf("column %s: distinct index: %w", c.name, err)
	}

	if c.decided {
		c.observeTyped(row, raw)
		return nil
	}
	c.sampleRows = append(c.sampleRows, row)
	if c.inf.Observe(raw) {
		c.decide()
	}
	return nil
}

// decide closes the inference window, fixes the column type, and replays
// the buffered sample through the type-specific accumulators.
func (c *Column) decide() {
	c.dec = c.inf.Decide()
	c.decided = true
	sample := c.inf.Sample()
	for i, v := range sample {
		c.observeTyped(c.sampleRows[i], v)
	}
	c.sampleRows = nil
}

func (c *Column) observeTyped(row int64, v string) {
	switch c.dec.Type {
	case profile.TypeNumeric:
		if !infer.NumericRe.MatchString(v) {
			c.rollup.Add(errcode.CodeNumericFormat, c.name, row)
			return
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.rollup.Add(errcode.CodeNumericFormat, c.name, row)
			return
		}
		c.num.Add(x)

	case profile.TypeMoney:
		if infer.MoneyRe.MatchString(v) {
			x, _ := strconv.ParseFloat(v, 64)
			c.num.Add(x)
			return
		}
		// Violations are counted and excluded from money aggregates; they
		// never reclassify the column.
		c.moneyViolations++
		c.rollup.Add(errcode.CodeMoneyFormat, c.name, row)
		if strings.ContainsAny(v, "$,()") {
			c.moneySymbols = true
		}
		if infer.NumericRe.MatchString(v) {
			c.twoDecimalBad++
		}

	case profile.TypeDate:
		t, ok := infer.ParseDate(v, c.dec.DateLayout)
		if !ok {
			c.rollup.Add(errcode.CodeDateFormat, c.name, row)
			return
		}
		if c.dateMin.IsZero() || t.Before(c.dateMin) {
			c.dateMin = t
		}
		if t.After(c.dateMax) {
			c.dateMax = t
		}
		c.byMonth[t.Format("2006-01")]++
		c.byYear[t.Format("2006")]++
		if y := t.Year(); y < 1900 || y > c.nowYear+1 {
			c.dateOutOfRange++
			c.rollup.Add(errcode.CodeDateRange, c.name, row)
		}
	}
}

// Finalize closes the column and produces its stats. totalRows is the data
// row count of the run (header excluded). Finalize must be called exactly
// once, after the last Observe.
func (c *Column) Finalize(totalRows int64) (profile.ColumnStats, error) {
	if !c.decided {
		c.decide()
	}

	dc, err := c.idx.TotalDistinct()
	if err != nil {
		return profile.ColumnStats{}, fmt.Errorf("column %s: distinct count: %w", c.name, err)
	}
	top, err := c.idx.TopN(c.topValues)
	if err != nil {
		return profile.ColumnStats{}, fmt.Errorf("column %s: top values: %w", c.name, err)
	}

	cs := profile.ColumnStats{
		Ordinal:       c.ordinal,
		Name:          c.name,
		Type:          c.dec.Type,
		NullCount:     c.nullCount,
		NonNullCount:  c.nonNull,
		DistinctCount: dc,
		TopValues:     top,
	}
	if totalRows > 0 {
		cs.NullPct = float64(c.nullCount) / float64(totalRows)
	}
	if c.nonNull > 0 {
		cs.Length = &profile.LengthStats{
			Min: c.lenMin,
			Max: c.lenMax,
			Avg: float64(c.lenSum) / float64(c.nonNull),
		}
	}

	switch c.dec.Type {
	case profile.TypeNumeric:
		ns, err := c.finalizeNumeric()
		if err != nil {
			return profile.ColumnStats{}, err
		}
		cs.NumericStats = ns
	case profile.TypeMoney:
		cs.MoneyRules = &profile.MoneyRules{
			TwoDecimalOK:           c.twoDecimalBad == 0,
			DisallowedSymbolsFound: c.moneySymbols,
			ViolationsCount:        c.moneyViolations,
		}
	case profile.TypeDate:
		cs.DateStats = c.finalizeDate()
	}
	return cs, nil
}

// NullRatio returns null_count / totalRows for key scoring.
func (c *Column) NullRatio(totalRows int64) float64 {
	if totalRows == 0 {
		return 0
	}
	return float64(c.nullCount) / float64(totalRows)
}

// Violations returns the column's non-catastrophic format error count, used
// to break candidate-key score ties.
func (c *Column) Violations() int64 {
	return c.rollup.Count(errcode.CodeNumericFormat, c.name) +
		c.rollup.Count(errcode.CodeMoneyFormat, c.name) +
		c.rollup.Count(errcode.CodeDateFormat, c.name)
}

// DistinctIndex exposes the column's index for key analysis.
func (c *Column) DistinctIndex() distinct.Index { return c.idx }

func (c *Column) finalizeDate() *profile.DateStats {
	ds := &profile.DateStats{
		DetectedFormat:      c.dec.DateLayout,
		OutOfRangeCount:     c.dateOutOfRange,
		DistributionByMonth: c.byMonth,
		DistributionByYear:  c.byYear,
	}
	if !c.dateMin.IsZero() {
		ds.Min = c.dateMin.Format(c.dec.DateLayout)
		ds.Max = c.dateMax.Format(c.dec.DateLayout)
	}
	return ds
}
