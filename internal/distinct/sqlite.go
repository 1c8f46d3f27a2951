package distinct

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"profiler/internal/profile"
)

// flushBatch is the number of buffered value updates held before a write
// transaction is issued against the spill store.
const flushBatch = 512

// Store is the disk-backed Index implementation over an embedded SQLite
// file. One store serves exactly one column, so a spilling column only pays
// its own I/O cost.
//
// Updates are buffered in a small pending map and applied in batched upsert
// transactions; read operations flush first, so reads always observe every
// Add that preceded them.
type Store struct {
	db      *sql.DB
	pending map[string]*memEntry
	total   int64
	seq     int64
}

// OpenStore creates (or reopens) a spill store at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// Spill files are disposable per-run scratch: favor write throughput
	// over durability.
	for _, pragma := range []string{
		`PRAGMA journal_mode = OFF`,
		`PRAGMA synchronous = OFF`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure %s: %w", path, err)
		}
	}
	const schema = `CREATE TABLE IF NOT EXISTS vals (
		v     TEXT PRIMARY KEY,
		n     INTEGER NOT NULL,
		first INTEGER NOT NULL
	) WITHOUT ROWID`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vals table: %w", err)
	}
	return &Store{db: db, pending: make(map[string]*memEntry)}, nil
}

func (s *Store) Add(v string) error {
	if err := s.addCounted(v, 1, s.seq); err != nil {
		return err
	}
	s.total++
	s.seq++
	return nil
}

// addCounted merges n occurrences of v into the pending buffer. first is
// only consulted when v is new to the buffer; the upsert preserves the
// oldest first value already on disk.
func (s *Store) addCounted(v string, n, first int64) error {
	if e, ok := s.pending[v]; ok {
		e.n += n
		return nil
	}
	s.pending[v] = &memEntry{n: n, first: first}
	if len(s.pending) >= flushBatch {
		return s.flush()
	}
	return nil
}

func (s *Store) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin spill flush: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO vals (v, n, first) VALUES (?, ?, ?)
		ON CONFLICT(v) DO UPDATE SET n = n + excluded.n`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare spill upsert: %w", err)
	}
	for v, e := range s.pending {
		if _, err := stmt.Exec(v, e.n, e.first); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("spill upsert: %w", err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit spill flush: %w", err)
	}
	s.pending = make(map[string]*memEntry)
	return nil
}

func (s *Store) TotalCount() int64 { return s.total }

func (s *Store) TotalDistinct() (int64, error) {
	if err := s.flush(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count distinct: %w", err)
	}
	return n, nil
}

func (s *Store) TopN(k int) ([]profile.ValueCount, error) {
	if err := s.flush(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT v, n FROM vals ORDER BY n DESC, first ASC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("query top values: %w", err)
	}
	defer rows.Close()

	var out []profile.ValueCount
	for rows.Next() {
		var vc profile.ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, err
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// Walk enumerates every stored value in sorted order. Numeric ordering casts
// through REAL, which agrees with float parsing for the decimal forms the
// profiler admits; non-numeric strings cast to 0.0 and are expected to be
// filtered by the caller's validity predicate.
func (s *Store) Walk(numeric bool, fn func(v string, count int64) error) error {
	if err := s.flush(); err != nil {
		return err
	}
	order := `ORDER BY v`
	if numeric {
		order = `ORDER BY CAST(v AS REAL), v`
	}
	rows, err := s.db.Query(`SELECT v, n FROM vals ` + order)
	if err != nil {
		return fmt.Errorf("walk distinct values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		var n int64
		if err := rows.Scan(&v, &n); err != nil {
			return err
		}
		if err := fn(v, n); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Close() error {
	// Pending entries are dropped deliberately: Close without a preceding
	// read is only reached on abort paths, where partial spill state is
	// about to be deleted with the workspace.
	return s.db.Close()
}
