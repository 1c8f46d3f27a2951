package engine

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"profiler/internal/aggregate"
	"profiler/internal/bytestream"
	"profiler/internal/config"
	"profiler/internal/distinct"
	"profiler/internal/errcode"
	"profiler/internal/infer"
	"profiler/internal/metrics"
	"profiler/internal/profile"
	"profiler/internal/tokenizer"
)

// State is a run's lifecycle state. Transitions are monotonic:
// Queued -> Processing -> Completed | Failed.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// IngestOutcome reports whether a chunk was absorbed or the run aborted.
// Aborted outcomes are terminal; Err carries the catastrophic record.
type IngestOutcome struct {
	Aborted bool            `json:"aborted"`
	Err     *errcode.Record `json:"error,omitempty"`
}

// RunStatus is the polling view of a run.
type RunStatus struct {
	State       State            `json:"state"`
	ProgressPct float64          `json:"progress_pct"`
	Errors      []errcode.Record `json:"errors"`
	Warnings    []errcode.Record `json:"warnings"`
}

type rowMsg struct {
	row    int64
	fields []string
}

const spoolName = "data.csv"

// Run is one profiling run. Ingest/Finalize/ConfirmKeys must be driven from
// a single goroutine (the byte stream is ordered); Status may be polled from
// any goroutine.
type Run struct {
	eng       *Engine
	rc        config.RunConfig
	id        string
	workspace string

	validator bytestream.UTF8Validator
	norm      bytestream.LineNormalizer
	normBuf   []byte

	tok    *tokenizer.Tokenizer
	gov    *distinct.Governor
	rollup *errcode.Rollup

	spool  *os.File
	spoolW *bufio.Writer

	header     []string
	columns    []*aggregate.Column
	chans      []chan rowMsg
	workerErrs []error
	wg         sync.WaitGroup
	workersUp  bool

	start time.Time

	mu            sync.Mutex
	state         State
	fatal         *errcode.Record
	rowCount      int64
	bytesIn       int64
	expectedBytes int64

	indexesOpen bool
	prof        *profile.Profile
}

func newRun(e *Engine, rc config.RunConfig, workspace string) (*Run, error) {
	spool, err := os.Create(filepath.Join(workspace, spoolName))
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	r := &Run{
		eng:       e,
		rc:        rc,
		id:        filepath.Base(workspace),
		workspace: workspace,
		gov:       distinct.NewGovernor(e.cfg.SpillBudgetBytes),
		rollup:    errcode.NewRollup(),
		spool:     spool,
		spoolW:    bufio.NewWriterSize(spool, 1<<20),
		state:     StateQueued,
	}
	tok := tokenizer.New(rc.Delimiter.Byte(), rc.Quoted)
	tok.OnHeader = r.onHeader
	tok.OnRow = r.onRow
	tok.OnQuoteRule = r.onQuoteRule
	r.tok = tok
	return r, nil
}

// ID returns the run's workspace-derived identifier.
func (r *Run) ID() string { return r.id }

// SetExpectedBytes supplies the total input size when known, enabling
// progress reporting. Optional.
func (r *Run) SetExpectedBytes(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expectedBytes = n
}

// Ingest absorbs the next chunk of the input byte stream. A catastrophic
// error returns Aborted=true with the error record and leaves the run
// Failed; infrastructure failures (disk, spill store) return a plain error.
func (r *Run) Ingest(chunk []byte) (IngestOutcome, error) {
	r.mu.Lock()
	switch r.state {
	case StateQueued:
		r.state = StateProcessing
		r.start = time.Now()
	case StateProcessing:
	default:
		st := r.state
		r.mu.Unlock()
		return IngestOutcome{}, fmt.Errorf("run %s: ingest in state %s", r.id, st)
	}
	r.bytesIn += int64(len(chunk))
	r.mu.Unlock()

	metrics.IncCounter(metrics.BytesTotal, float64(len(chunk)), nil)

	// Nothing past the first invalid byte is normalized or tokenized.
	if at, ok := r.validator.Feed(chunk); !ok {
		return r.abort(errcode.NewAtByte(errcode.CodeUTF8Invalid, at)), nil
	}
	r.normBuf = r.norm.Normalize(r.normBuf[:0], chunk)
	return r.absorbNormalized(r.normBuf)
}

func (r *Run) absorbNormalized(b []byte) (IngestOutcome, error) {
	if len(b) == 0 {
		return IngestOutcome{}, nil
	}
	if _, err := r.spoolW.Write(b); err != nil {
		return IngestOutcome{}, fmt.Errorf("run %s: spool write: %w", r.id, err)
	}
	if err := r.tok.Write(b); err != nil {
		return r.outcomeFromErr(err)
	}
	return IngestOutcome{}, nil
}

// outcomeFromErr distinguishes catastrophic records surfaced through the
// tokenizer callbacks from infrastructure errors.
func (r *Run) outcomeFromErr(err error) (IngestOutcome, error) {
	var rec errcode.Record
	if errors.As(err, &rec) {
		return r.abort(rec), nil
	}
	r.fail()
	return IngestOutcome{}, err
}

// onHeader provisions per-column state and starts the worker pool. Runs
// synchronously inside the first tokenizer Write.
func (r *Run) onHeader(header []string) error {
	named := false
	for _, h := range header {
		if !infer.IsNull(h) {
			named = true
			break
		}
	}
	if !named {
		return errcode.NewAt(errcode.CodeHeaderMissing, 1)
	}
	r.header = header

	e := r.eng.cfg
	r.columns = make([]*aggregate.Column, len(header))
	for o, name := range header {
		idx := distinct.NewExact(r.gov, filepath.Join(r.workspace, fmt.Sprintf("spill_%d.db", o)))
		inf := infer.New(e.SampleSize, e.Confidence, e.CodeCardinalityThreshold, e.CodeSampleFloor, e.MixedMinorityThreshold)
		r.columns[o] = aggregate.NewColumn(uint32(o), name, idx, inf, r.rollup, e.TopValues)
	}
	r.indexesOpen = true

	workers := e.ColumnWorkers
	if workers > len(header) {
		workers = len(header)
	}
	r.chans = make([]chan rowMsg, workers)
	r.workerErrs = make([]error, workers)
	for w := range r.chans {
		r.chans[w] = make(chan rowMsg, e.ChannelBuffer)
		r.wg.Add(1)
		go r.worker(w)
	}
	r.workersUp = true
	r.eng.log.Printf("run %s: header with %d columns, %d workers", r.id, len(header), workers)
	return nil
}

// onRow checks row shape and fans the field slice out to every worker. Each
// worker reads only the ordinals it owns, so sharing the slice is safe.
func (r *Run) onRow(row int64, fields []string) error {
	if len(fields) != len(r.header) {
		return errcode.NewAt(errcode.CodeJaggedRow, row)
	}
	r.mu.Lock()
	r.rowCount++
	r.mu.Unlock()
	metrics.IncCounter(metrics.RowsTotal, 1, nil)

	msg := rowMsg{row: row, fields: fields}
	for _, ch := range r.chans {
		ch <- msg
	}
	return nil
}

func (r *Run) onQuoteRule(record int64) {
	r.rollup.Add(errcode.CodeQuoteRule, "", record)
}

// worker owns the columns whose ordinal is congruent to w modulo the pool
// size. After its first error it keeps draining its channel so the producer
// never blocks, but stops doing work.
func (r *Run) worker(w int) {
	defer r.wg.Done()
	stride := len(r.chans)
	for msg := range r.chans[w] {
		if r.workerErrs[w] != nil {
			continue
		}
		for o := w; o < len(r.columns); o += stride {
			if err := r.columns[o].Observe(msg.row, msg.fields[o]); err != nil {
				r.workerErrs[w] = err
				break
			}
		}
	}
}

func (r *Run) stopWorkers() {
	if !r.workersUp {
		return
	}
	for _, ch := range r.chans {
		close(ch)
	}
	r.wg.Wait()
	r.workersUp = false
}

// abort terminates the run on a catastrophic record: workers stop, spill
// state is discarded, and the record becomes the run's terminal error.
func (r *Run) abort(rec errcode.Record) IngestOutcome {
	r.stopWorkers()
	r.closeIndexes()

	r.mu.Lock()
	r.state = StateFailed
	r.fatal = &rec
	r.mu.Unlock()

	metrics.IncCounter(metrics.ErrorsTotal, 1, metrics.Labels{"code": rec.Code})
	metrics.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "failed"})
	r.eng.log.Printf("run %s: aborted: %s", r.id, rec.Error())
	return IngestOutcome{Aborted: true, Err: &rec}
}

// fail marks the run Failed after an infrastructure error.
func (r *Run) fail() {
	r.stopWorkers()
	r.closeIndexes()

	r.mu.Lock()
	r.state = StateFailed
	r.mu.Unlock()
	metrics.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "failed"})
}

func (r *Run) closeIndexes() {
	if !r.indexesOpen {
		return
	}
	for _, c := range r.columns {
		_ = c.DistinctIndex().Close()
	}
	r.indexesOpen = false
}

// Status reports the run's state, progress, and aggregated errors and
// warnings. Safe to call from any goroutine at any time.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	st := r.state
	bytesIn := r.bytesIn
	expected := r.expectedBytes
	fatal := r.fatal
	r.mu.Unlock()

	s := RunStatus{
		State:    st,
		Errors:   r.rollup.Errors(),
		Warnings: r.rollup.Warnings(),
	}
	if fatal != nil {
		s.Errors = append([]errcode.Record{*fatal}, s.Errors...)
	}
	switch {
	case st == StateCompleted:
		s.ProgressPct = 100
	case expected > 0:
		pct := float64(bytesIn) / float64(expected) * 100
		if pct > 100 {
			pct = 100
		}
		s.ProgressPct = pct
	}
	return s
}

// Close releases the run's workspace, spool, and spill stores. The run is
// unusable afterwards.
func (r *Run) Close() error {
	r.stopWorkers()
	r.closeIndexes()
	_ = r.spool.Close()
	return os.RemoveAll(r.workspace)
}
