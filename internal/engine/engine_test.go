package engine

import (
	"errors"
	"math"
	"strings"
	"testing"

	"profiler/internal/config"
	"profiler/internal/errcode"
	"profiler/internal/profile"
)

// newTestEngine builds an engine with a tiny inference window and worker
// pool so small fixtures decide types and exercise the fan-out.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Engine{
		SampleSize:       2,
		TopValues:        5,
		SpillBudgetBytes: 1 << 20,
		ColumnWorkers:    2,
		ChannelBuffer:    4,
		WorkspaceRoot:    t.TempDir(),
	}
	return New(cfg, nil)
}

func beginRun(t *testing.T, e *Engine, rc config.RunConfig) *Run {
	t.Helper()
	r, err := e.BeginRun(rc)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// ingestAll feeds data in fixed-size chunks, failing on any abort.
func ingestAll(t *testing.T, r *Run, data string, chunk int) {
	t.Helper()
	for i := 0; i < len(data); i += chunk {
		end := i + chunk
		if end > len(data) {
			end = len(data)
		}
		out, err := r.Ingest([]byte(data[i:end]))
		if err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		if out.Aborted {
			t.Fatalf("Ingest aborted: %v", out.Err)
		}
	}
}

func findRecord(recs []errcode.Record, code string) *errcode.Record {
	for i := range recs {
		if recs[i].Code == code {
			return &recs[i]
		}
	}
	return nil
}

func columnByName(t *testing.T, p *profile.Profile, name string) profile.ColumnStats {
	t.Helper()
	for _, c := range p.Columns {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("column %q not in profile", name)
	return profile.ColumnStats{}
}

// TestRun_EndToEnd drives a clean file through ingest, finalize, and key
// confirmation, checking the full profile shape.
func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Delimiter: config.Comma, Quoted: true})

	data := "id,name,amount\n1,Alice,100.00\n2,Bob,200.50\n"
	r.SetExpectedBytes(int64(len(data)))
	ingestAll(t, r, data, 7) // chunk boundaries land mid-field

	p, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if p.File.Rows != 2 || p.File.Columns != 3 {
		t.Fatalf("file=(%d rows, %d cols), want (2, 3)", p.File.Rows, p.File.Columns)
	}
	if p.File.Delimiter != "comma" || p.File.CRLFDetected || p.File.LineEnding != "lf" {
		t.Fatalf("file meta=%+v", p.File)
	}
	if strings.Join(p.File.Header, ",") != "id,name,amount" {
		t.Fatalf("header=%v", p.File.Header)
	}

	id := columnByName(t, p, "id")
	if id.Type != profile.TypeNumeric || id.DistinctCount != 2 || id.NullCount != 0 {
		t.Fatalf("id=%+v", id)
	}
	name := columnByName(t, p, "name")
	if name.Type != profile.TypeAlpha {
		t.Fatalf("name.Type=%v, want alpha", name.Type)
	}
	amount := columnByName(t, p, "amount")
	if amount.Type != profile.TypeMoney {
		t.Fatalf("amount.Type=%v, want money", amount.Type)
	}
	if amount.MoneyRules == nil || !amount.MoneyRules.TwoDecimalOK || amount.MoneyRules.ViolationsCount != 0 {
		t.Fatalf("amount.MoneyRules=%+v, want clean", amount.MoneyRules)
	}

	// Every column is fully distinct and null-free, so singles lead the
	// candidate ranking on the fewer-columns tie-break.
	if len(p.CandidateKeys) == 0 {
		t.Fatalf("no candidate keys")
	}
	top := p.CandidateKeys[0]
	if len(top.Columns) != 1 || top.Score != 1.0 {
		t.Fatalf("top candidate=%+v, want a perfect single", top)
	}
	if len(p.Errors) != 0 || len(p.Warnings) != 0 {
		t.Fatalf("errors=%v warnings=%v, want none", p.Errors, p.Warnings)
	}

	st := r.Status()
	if st.State != StateCompleted || st.ProgressPct != 100 {
		t.Fatalf("status=%+v, want completed at 100%%", st)
	}

	// Finalize is idempotent once completed.
	p2, err := r.Finalize()
	if err != nil || p2 != p {
		t.Fatalf("second Finalize=(%p,%v), want cached profile", p2, err)
	}

	confirmed, err := r.ConfirmKeys([][]string{{"id"}, {"name", "amount"}})
	if err != nil {
		t.Fatalf("ConfirmKeys: %v", err)
	}
	if len(confirmed) != 2 {
		t.Fatalf("confirmed=%d keys, want 2", len(confirmed))
	}
	for _, ck := range confirmed {
		if ck.DuplicateCount != 0 || ck.Score != 1.0 {
			t.Fatalf("confirmed key=%+v, want no duplicates", ck)
		}
	}
	if strings.Join(confirmed[1].Columns, "+") != "name+amount" {
		t.Fatalf("confirmed order=%v, want request order", confirmed[1].Columns)
	}
}

// TestRun_ConfirmKeysDuplicates verifies exact duplicate counting for a key
// with repeated values, including null handling in tuples.
func TestRun_ConfirmKeysDuplicates(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Quoted: true})

	data := "id,email\n1,a@x.com\n1,b@x.com\n2,a@x.com\n2,a@x.com\n"
	ingestAll(t, r, data, 64)
	if _, err := r.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	confirmed, err := r.ConfirmKeys([][]string{{"id"}, {"email"}, {"id", "email"}})
	if err != nil {
		t.Fatalf("ConfirmKeys: %v", err)
	}
	wantDups := []int64{2, 2, 1} // ids 1,1,2,2; emails a,b,a,a; pairs (2,a) twice
	for i, ck := range confirmed {
		if ck.DuplicateCount != wantDups[i] {
			t.Fatalf("key %v duplicates=%d, want %d", ck.Columns, ck.DuplicateCount, wantDups[i])
		}
	}
	if got, want := confirmed[0].DistinctRatio, 0.5; math.Abs(got-want) > 1e-12 {
		t.Fatalf("id DistinctRatio=%v, want %v", got, want)
	}
}

// TestRun_ConfirmKeysValidation verifies state and argument checking.
func TestRun_ConfirmKeysValidation(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Quoted: true})
	ingestAll(t, r, "a,b\n1,2\n", 64)

	if _, err := r.ConfirmKeys([][]string{{"a"}}); err == nil {
		t.Fatalf("ConfirmKeys before Finalize did not fail")
	}
	if _, err := r.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := r.ConfirmKeys([][]string{{"nope"}}); err == nil {
		t.Fatalf("unknown column accepted")
	}
	if _, err := r.ConfirmKeys([][]string{{"a", "b", "a", "b"}}); err == nil {
		t.Fatalf("4-column key accepted")
	}
}

// TestRun_JaggedRowAborts verifies the first short row halts the run with a
// row-pinned catastrophic record and no profile.
func TestRun_JaggedRowAborts(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Quoted: true})

	out, err := r.Ingest([]byte("a,b\n1,2\nonly_one\n3,4\n"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !out.Aborted || out.Err == nil {
		t.Fatalf("outcome=%+v, want aborted", out)
	}
	if out.Err.Code != errcode.CodeJaggedRow || out.Err.FirstRow != 3 {
		t.Fatalf("record=%+v, want %s at row 3", out.Err, errcode.CodeJaggedRow)
	}

	st := r.Status()
	if st.State != StateFailed {
		t.Fatalf("state=%s, want failed", st.State)
	}
	if len(st.Errors) == 0 || st.Errors[0].Code != errcode.CodeJaggedRow {
		t.Fatalf("status errors=%v, want jagged row first", st.Errors)
	}

	if _, err := r.Finalize(); err == nil {
		t.Fatalf("Finalize after abort did not fail")
	}
	if _, err := r.Ingest([]byte("5,6\n")); err == nil {
		t.Fatalf("Ingest after abort did not fail")
	}
}

// TestRun_UTF8AbortOffset verifies the invalid byte's absolute offset
// survives chunking.
func TestRun_UTF8AbortOffset(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Quoted: true})

	if out, err := r.Ingest([]byte("id,name\n")); err != nil || out.Aborted {
		t.Fatalf("first chunk: out=%+v err=%v", out, err)
	}
	out, err := r.Ingest([]byte{'a', 'b', 0xFF, 'c'})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !out.Aborted || out.Err == nil || out.Err.Code != errcode.CodeUTF8Invalid {
		t.Fatalf("outcome=%+v, want UTF-8 abort", out)
	}
	if out.Err.ByteOffset != 10 {
		t.Fatalf("ByteOffset=%d, want 10 (8 header bytes + 2)", out.Err.ByteOffset)
	}
}

// TestRun_HeaderMissing verifies the empty stream and the all-null header
// both fail with the header code.
func TestRun_HeaderMissing(t *testing.T) {
	t.Parallel()

	t.Run("empty_stream", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(t)
		r := beginRun(t, e, config.RunConfig{Quoted: true})
		_, err := r.Finalize()
		var rec errcode.Record
		if !errors.As(err, &rec) || rec.Code != errcode.CodeHeaderMissing {
			t.Fatalf("Finalize err=%v, want %s", err, errcode.CodeHeaderMissing)
		}
	})

	t.Run("all_null_header", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(t)
		r := beginRun(t, e, config.RunConfig{Quoted: true})
		out, err := r.Ingest([]byte(", ,\n1,2,3\n"))
		if err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		if !out.Aborted || out.Err == nil || out.Err.Code != errcode.CodeHeaderMissing {
			t.Fatalf("outcome=%+v, want header abort", out)
		}
	})
}

// TestRun_QuoteViolationRollup verifies malformed quoting is lenient: the
// run completes with the value as-is and a rolled-up error.
func TestRun_QuoteViolationRollup(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Quoted: true})

	ingestAll(t, r, "a,b\n\"x\"y,2\nz,3\n", 64)
	p, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if p.File.Rows != 2 {
		t.Fatalf("rows=%d, want 2", p.File.Rows)
	}
	rec := findRecord(p.Errors, errcode.CodeQuoteRule)
	if rec == nil || rec.Count != 1 {
		t.Fatalf("errors=%v, want one %s", p.Errors, errcode.CodeQuoteRule)
	}
	a := columnByName(t, p, "a")
	if len(a.TopValues) != 2 {
		t.Fatalf("a.TopValues=%v, want the as-is value kept", a.TopValues)
	}
}

// TestRun_LineEndingWarnings verifies mixed-style detection and the
// expectation mismatch warning.
func TestRun_LineEndingWarnings(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Quoted: true, ExpectCRLF: false})

	ingestAll(t, r, "a,b\r\n1,2\n3,4\r\n", 5)
	p, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !p.File.CRLFDetected || p.File.LineEnding != "crlf" {
		t.Fatalf("file=%+v, want crlf dominant", p.File)
	}
	if findRecord(p.Warnings, errcode.CodeLineEndingMixed) == nil {
		t.Fatalf("warnings=%v, want %s", p.Warnings, errcode.CodeLineEndingMixed)
	}
	if findRecord(p.Warnings, errcode.CodeCRLFMismatch) == nil {
		t.Fatalf("warnings=%v, want %s", p.Warnings, errcode.CodeCRLFMismatch)
	}
	if p.File.Rows != 2 {
		t.Fatalf("rows=%d, want 2", p.File.Rows)
	}
}

// TestRun_PipeDelimiter verifies the alternate separator end to end.
func TestRun_PipeDelimiter(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Delimiter: config.Pipe, Quoted: true})

	ingestAll(t, r, "id|note\n1|a,b\n2|c\n", 64)
	p, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if p.File.Delimiter != "pipe" || p.File.Columns != 2 || p.File.Rows != 2 {
		t.Fatalf("file=%+v", p.File)
	}
	note := columnByName(t, p, "note")
	if note.DistinctCount != 2 {
		t.Fatalf("note.DistinctCount=%d, want 2 (comma is data under pipe)", note.DistinctCount)
	}
}

// TestRun_Progress verifies byte-based progress reporting.
func TestRun_Progress(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	r := beginRun(t, e, config.RunConfig{Quoted: true})

	data := "a,b\n1,2\n3,4\n"
	r.SetExpectedBytes(int64(len(data)))

	if st := r.Status(); st.State != StateQueued || st.ProgressPct != 0 {
		t.Fatalf("initial status=%+v", st)
	}
	ingestAll(t, r, data[:len(data)/2], 64)
	if st := r.Status(); st.State != StateProcessing || st.ProgressPct != 50 {
		t.Fatalf("mid status=%+v, want processing at 50%%", st)
	}
	ingestAll(t, r, data[len(data)/2:], 64)
	if _, err := r.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if st := r.Status(); st.ProgressPct != 100 {
		t.Fatalf("final status=%+v, want 100%%", st)
	}
}

// TestEngine_BeginRunRejectsBadDelimiter verifies config validation happens
// before any workspace is provisioned.
func TestEngine_BeginRunRejectsBadDelimiter(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if _, err := e.BeginRun(config.RunConfig{Delimiter: "tab"}); err == nil {
		t.Fatalf("BeginRun accepted an unsupported delimiter")
	}
}
