package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"profiler/internal/distinct"
	"profiler/internal/keys"
	"profiler/internal/profile"
	"profiler/internal/tokenizer"
)

// Second passes re-read the spool of normalized, validated bytes written
// during ingest. By construction the spool holds a header plus rectangular
// rows, so these scans cannot hit the catastrophic paths again.

const scanChunk = 256 << 10

// scanTuples re-tokenizes the spool and feeds the hash of each row's key
// tuple into idx. Safe to run concurrently with other scans: every call
// opens its own file handle and tokenizer.
func (r *Run) scanTuples(ordinals []uint32, idx distinct.Index) error {
	f, err := os.Open(filepath.Join(r.workspace, spoolName))
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	tok := tokenizer.New(r.rc.Delimiter.Byte(), r.rc.Quoted)
	tok.OnHeader = func([]string) error { return nil }
	vals := make([]string, len(ordinals))
	tok.OnRow = func(_ int64, fields []string) error {
		for i, o := range ordinals {
			vals[i] = fields[o]
		}
		return idx.Add(keys.TupleKey(vals))
	}

	buf := make([]byte, scanChunk)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := tok.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read spool: %w", err)
		}
	}
	return tok.Finish()
}

// jointDistinct is the exact joint-distinctness callback for compound key
// scoring: one spool pass per combination, spill-backed like any column
// index.
func (r *Run) jointDistinct(ordinals []uint32) (int64, error) {
	parts := make([]string, len(ordinals))
	for i, o := range ordinals {
		parts[i] = fmt.Sprintf("%d", o)
	}
	path := filepath.Join(r.workspace, "joint_"+strings.Join(parts, "_")+".db")

	idx := distinct.NewExact(r.gov, path)
	defer idx.Close()

	if err := r.scanTuples(ordinals, idx); err != nil {
		return 0, err
	}
	return idx.TotalDistinct()
}

// ConfirmKeys computes exact duplicate counts for externally confirmed
// keys. Requested keys need not be among the suggested candidates; each is
// re-scored from its own tuple scan. Passes for distinct keys run in
// parallel, bounded by the worker pool size.
func (r *Run) ConfirmKeys(requested [][]string) ([]profile.ConfirmedKey, error) {
	r.mu.Lock()
	st := r.state
	total := r.rowCount
	prof := r.prof
	r.mu.Unlock()
	if st != StateCompleted {
		return nil, fmt.Errorf("run %s: confirm keys in state %s", r.id, st)
	}

	ordOf := make(map[string]uint32, len(r.header))
	for o, name := range r.header {
		ordOf[name] = uint32(o)
	}
	nullRatio := make(map[string]float64, len(prof.Columns))
	for _, c := range prof.Columns {
		nullRatio[c.Name] = c.NullPct
	}

	resolved := make([][]uint32, len(requested))
	for i, names := range requested {
		if len(names) == 0 || len(names) > 3 {
			return nil, fmt.Errorf("run %s: key %d: want 1-3 columns, got %d", r.id, i, len(names))
		}
		ords := make([]uint32, len(names))
		for j, name := range names {
			o, ok := ordOf[name]
			if !ok {
				return nil, fmt.Errorf("run %s: key %d: unknown column %q", r.id, i, name)
			}
			ords[j] = o
		}
		resolved[i] = ords
	}

	out := make([]profile.ConfirmedKey, len(requested))
	g := new(errgroup.Group)
	g.SetLimit(r.eng.cfg.ColumnWorkers)
	for i := range requested {
		i := i
		g.Go(func() error {
			idx := distinct.NewExact(r.gov, filepath.Join(r.workspace, fmt.Sprintf("confirm_%d.db", i)))
			defer idx.Close()

			if err := r.scanTuples(resolved[i], idx); err != nil {
				return err
			}
			d, err := idx.TotalDistinct()
			if err != nil {
				return err
			}
			dup, err := keys.DuplicateCount(idx)
			if err != nil {
				return err
			}

			var ratio, nullSum float64
			if total > 0 {
				ratio = float64(d) / float64(total)
			}
			for _, name := range requested[i] {
				nullSum += nullRatio[name]
			}
			out[i] = profile.ConfirmedKey{
				CandidateKey: profile.CandidateKey{
					Columns:       requested[i],
					DistinctRatio: ratio,
					NullRatioSum:  nullSum,
					Score:         keys.Score(ratio, nullSum),
				},
				DuplicateCount: dup,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.eng.log.Printf("run %s: confirmed %d keys", r.id, len(out))
	return out, nil
}
