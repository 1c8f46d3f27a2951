// Package distinct implements exact distinct-value counting for columns of
// unbounded cardinality.
//
// Counting is exact, never sketched: reported distinct counts feed key
// scoring and duplicate detection, where approximation would change
// decisions. Each column owns one Index. Indexes start in memory under a
// shared byte budget (Governor) and spill to a per-column embedded SQLite
// store when the budget is exhausted, so one wide column cannot evict the
// others.
package distinct

import (
	"errors"
	"fmt"
	"sync/atomic"

	"profiler/internal/profile"
)

// ErrBudget is returned by a memory index when the shared budget cannot
// admit a new value. Callers either spill or fail.
var ErrBudget = errors.New("distinct: memory budget exhausted")

// entryOverhead approximates the per-entry bookkeeping cost (map bucket
// share, counts, string header) beyond the value bytes themselves.
const entryOverhead = 64

// Index is an exact distinct-value counter over a stream of field values.
//
// Walk enumerates every (value, count) pair in sorted order: lexicographic
// for string columns, by parsed numeric value when numeric is true. The
// numeric ordering is what makes exact quantiles possible downstream.
type Index interface {
	Add(v string) error
	TotalCount() int64
	TotalDistinct() (int64, error)
	TopN(k int) ([]profile.ValueCount, error)
	Walk(numeric bool, fn func(v string, count int64) error) error
	Close() error
}

// Governor arbitrates a shared in-memory byte budget across all memory
// indexes of a run. Reserve is lock-free.
type Governor struct {
	budget int64
	used   atomic.Int64
}

func NewGovernor(budget int64) *Governor {
	return &Governor{budget: budget}
}

// Reserve claims n bytes of budget, reporting whether the claim fit.
func (g *Governor) Reserve(n int64) bool {
	for {
		cur := g.used.Load()
		if cur+n > g.budget {
			return false
		}
		if g.used.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

// Release returns n bytes to the budget.
func (g *Governor) Release(n int64) {
	g.used.Add(-n)
}

// Used returns the currently reserved byte count.
func (g *Governor) Used() int64 { return g.used.Load() }

type memEntry struct {
	n     int64
	first int64 // arrival order of the first occurrence, for top-N ties
}

// Memory is the in-memory Index implementation. New values reserve their
// cost from the governor; repeat values are free.
type Memory struct {
	gov      *Governor
	vals     map[string]*memEntry
	total    int64
	seq      int64
	reserved int64
}

func NewMemory(gov *Governor) *Memory {
	return &Memory{gov: gov, vals: make(map[string]*memEntry)}
}

func (m *Memory) Add(v string) error {
	if e, ok := m.vals[v]; ok {
		e.n++
		m.total++
		m.seq++
		return nil
	}
	cost := int64(len(v)) + entryOverhead
	if !m.gov.Reserve(cost) {
		return ErrBudget
	}
	m.reserved += cost
	m.vals[v] = &memEntry{n: 1, first: m.seq}
	m.total++
	m.seq++
	return nil
}

func (m *Memory) TotalCount() int64 { return m.total }

func (m *Memory) TotalDistinct() (int64, error) {
	return int64(len(m.vals)), nil
}

func (m *Memory) TopN(k int) ([]profile.ValueCount, error) {
	return topNMem(m.vals, k), nil
}

func (m *Memory) Walk(numeric bool, fn func(v string, count int64) error) error {
	return walkMem(m.vals, numeric, fn)
}

// Close releases the index's budget reservation and drops the map.
func (m *Memory) Close() error {
	m.gov.Release(m.reserved)
	m.reserved = 0
	m.vals = nil
	return nil
}

// Exact is the production Index: a memory index that transparently migrates
// to a SQLite store the first time the shared budget rejects a value. After
// the migration every operation goes to disk.
type Exact struct {
	mem       *Memory
	store     *Store
	spillPath string
}

// NewExact returns a budget-governed index that spills to spillPath when the
// governor rejects a reservation.
func NewExact(gov *Governor, spillPath string) *Exact {
	return &Exact{mem: NewMemory(gov), spillPath: spillPath}
}

// Spilled reports whether the index has migrated to disk.
func (x *Exact) Spilled() bool { return x.store != nil }

func (x *Exact) Add(v string) error {
	if x.store != nil {
		return x.store.Add(v)
	}
	err := x.mem.Add(v)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrBudget) {
		return err
	}
	if err := x.spill(); err != nil {
		return err
	}
	return x.store.Add(v)
}

// spill opens the disk store, migrates every in-memory entry with its
// original count and arrival order, and releases the memory reservation.
func (x *Exact) spill() error {
	st, err := OpenStore(x.spillPath)
	if err != nil {
		return fmt.Errorf("open spill store: %w", err)
	}
	for v, e := range x.mem.vals {
		if err := st.addCounted(v, e.n, e.first); err != nil {
			st.Close()
			return fmt.Errorf("migrate to spill store: %w", err)
		}
	}
	st.total = x.mem.total
	st.seq = x.mem.seq
	x.mem.Close()
	x.mem = nil
	x.store = st
	return nil
}

func (x *Exact) TotalCount() int64 {
	if x.store != nil {
		return x.store.TotalCount()
	}
	return x.mem.TotalCount()
}

func (x *Exact) TotalDistinct() (int64, error) {
	if x.store != nil {
		return x.store.TotalDistinct()
	}
	return x.mem.TotalDistinct()
}

func (x *Exact) TopN(k int) ([]profile.ValueCount, error) {
	if x.store != nil {
		return x.store.TopN(k)
	}
	return x.mem.TopN(k)
}

func (x *Exact) Walk(numeric bool, fn func(v string, count int64) error) error {
	if x.store != nil {
		return x.store.Walk(numeric, fn)
	}
	return x.mem.Walk(numeric, fn)
}

func (x *Exact) Close() error {
	if x.store != nil {
		return x.store.Close()
	}
	return x.mem.Close()
}
