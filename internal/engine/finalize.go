package engine

import (
	"fmt"
	"time"

	"profiler/internal/bytestream"
	"profiler/internal/distinct"
	"profiler/internal/errcode"
	"profiler/internal/keys"
	"profiler/internal/metrics"
	"profiler/internal/profile"
)

// Finalize closes the byte stream, drains the workers, and produces the
// run's Profile. It is idempotent once the run completes; on a Failed run it
// returns the terminal error.
func (r *Run) Finalize() (*profile.Profile, error) {
	r.mu.Lock()
	switch r.state {
	case StateCompleted:
		p := r.prof
		r.mu.Unlock()
		return p, nil
	case StateFailed:
		f := r.fatal
		r.mu.Unlock()
		if f != nil {
			return nil, *f
		}
		return nil, fmt.Errorf("run %s: failed", r.id)
	}
	start := r.start
	r.mu.Unlock()

	if !start.IsZero() {
		metrics.ObserveHistogram(metrics.StageDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": "ingest"})
	}
	finalStart := time.Now()

	// Flush the byte-stream tail: a truncated multi-byte sequence or a
	// held-back CR may still be pending.
	if at, ok := r.validator.Finish(); !ok {
		out := r.abort(errcode.NewAtByte(errcode.CodeUTF8Invalid, at))
		return nil, *out.Err
	}
	if tail := r.norm.Finish(nil); len(tail) > 0 {
		out, err := r.absorbNormalized(tail)
		if err != nil {
			r.fail()
			return nil, err
		}
		if out.Aborted {
			return nil, *out.Err
		}
	}
	if err := r.tok.Finish(); err != nil {
		out, ierr := r.outcomeFromErr(err)
		if ierr != nil {
			return nil, ierr
		}
		return nil, *out.Err
	}
	if r.header == nil {
		out := r.abort(errcode.New(errcode.CodeHeaderMissing))
		return nil, *out.Err
	}

	r.stopWorkers()
	for _, werr := range r.workerErrs {
		if werr != nil {
			r.fail()
			return nil, werr
		}
	}
	if err := r.spoolW.Flush(); err != nil {
		r.fail()
		return nil, fmt.Errorf("run %s: flush spool: %w", r.id, err)
	}

	if r.norm.Mixed() {
		r.rollup.Add(errcode.CodeLineEndingMixed, "", 0)
	}
	dominant := r.norm.Dominant()
	crlf := dominant == bytestream.StyleCRLF
	if dominant != bytestream.StyleNone && r.rc.ExpectCRLF != crlf {
		r.rollup.Add(errcode.CodeCRLFMismatch, "", 0)
	}

	r.mu.Lock()
	total := r.rowCount
	r.mu.Unlock()

	cols := make([]profile.ColumnStats, len(r.columns))
	facts := make([]keys.ColumnFacts, len(r.columns))
	spilled := 0
	for o, c := range r.columns {
		cs, err := c.Finalize(total)
		if err != nil {
			r.fail()
			return nil, err
		}
		cols[o] = cs
		facts[o] = keys.ColumnFacts{
			Name:          cs.Name,
			Ordinal:       cs.Ordinal,
			DistinctCount: cs.DistinctCount,
			NullCount:     cs.NullCount,
			Violations:    c.Violations(),
		}
		if x, ok := c.DistinctIndex().(*distinct.Exact); ok && x.Spilled() {
			spilled++
		}
	}
	if spilled > 0 {
		metrics.IncCounter(metrics.SpillsTotal, float64(spilled), nil)
	}

	cands, err := keys.Candidates(total, facts, r.jointDistinct)
	if err != nil {
		r.fail()
		return nil, err
	}

	prof := &profile.Profile{
		File: profile.FileInfo{
			Rows:         total,
			Columns:      len(r.header),
			Delimiter:    r.rc.Delimiter.String(),
			CRLFDetected: crlf,
			LineEnding:   string(dominant),
			Header:       r.header,
		},
		Columns:       cols,
		CandidateKeys: cands,
		Errors:        r.rollup.Errors(),
		Warnings:      r.rollup.Warnings(),
	}

	r.mu.Lock()
	r.state = StateCompleted
	r.prof = prof
	r.mu.Unlock()

	for _, rec := range append(prof.Errors, prof.Warnings...) {
		metrics.IncCounter(metrics.ErrorsTotal, float64(rec.Count), metrics.Labels{"code": rec.Code})
	}
	metrics.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "completed"})
	metrics.ObserveHistogram(metrics.StageDurationSeconds, time.Since(finalStart).Seconds(), metrics.Labels{"stage": "finalize"})

	r.eng.log.Printf("run %s: completed (rows=%d columns=%d candidates=%d spilled=%d)",
		r.id, total, len(r.header), len(cands), spilled)
	return prof, nil
}
