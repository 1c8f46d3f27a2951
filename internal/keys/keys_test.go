package keys

import (
	"reflect"
	"testing"

	"profiler/internal/distinct"
)

// jointFromMap returns a JointCounter serving fixed joint distinct counts
// keyed by the ordinal set, and records which combinations were asked for.
func jointFromMap(t *testing.T, m map[string]int64, asked *[]string) JointCounter {
	t.Helper()
	return func(ordinals []uint32) (int64, error) {
		key := ""
		for _, o := range ordinals {
			key += string(rune('a' + o))
		}
		*asked = append(*asked, key)
		v, ok := m[key]
		if !ok {
			t.Fatalf("unexpected joint query for %q", key)
		}
		return v, nil
	}
}

// TestScore verifies the scoring formula and its clamping.
func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio, nullSum, want float64
	}{
		{1.0, 0.0, 1.0},
		{0.9, 0.1, 0.81},
		{1.0, 1.5, 0.0}, // clamped below
		{0.5, 0.0, 0.5},
	}
	for _, tc := range tests {
		if got := Score(tc.ratio, tc.nullSum); got != tc.want {
			t.Errorf("Score(%v,%v)=%v, want %v", tc.ratio, tc.nullSum, got, tc.want)
		}
	}
}

// TestScore_Monotonicity verifies that with distinct_ratio fixed,
// increasing null_ratio_sum strictly decreases the score.
func TestScore_Monotonicity(t *testing.T) {
	t.Parallel()

	const ratio = 0.95
	prev := Score(ratio, 0)
	for _, nullSum := range []float64{0.1, 0.2, 0.3, 0.5, 0.9} {
		cur := Score(ratio, nullSum)
		if cur >= prev {
			t.Fatalf("Score(%v,%v)=%v did not decrease from %v", ratio, nullSum, cur, prev)
		}
		prev = cur
	}
}

// TestCandidates_SinglesOnly verifies qualification gating: low distinct
// ratio or high null ratio disqualifies a column.
func TestCandidates_SinglesOnly(t *testing.T) {
	t.Parallel()

	cols := []ColumnFacts{
		{Name: "id", Ordinal: 0, DistinctCount: 100, NullCount: 0},
		{Name: "state", Ordinal: 1, DistinctCount: 5, NullCount: 0},    // low ratio
		{Name: "sparse", Ordinal: 2, DistinctCount: 95, NullCount: 30}, // score below gate
	}
	var asked []string
	got, err := Candidates(100, cols, jointFromMap(t, map[string]int64{}, &asked))
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 1 || got[0].Columns[0] != "id" {
		t.Fatalf("candidates=%v, want only id", got)
	}
	if got[0].Score != 1.0 || got[0].DistinctRatio != 1.0 {
		t.Fatalf("id candidate=%+v, want perfect score", got[0])
	}
	if len(asked) != 0 {
		t.Fatalf("joint queries=%v, want none with a single qualifier", asked)
	}
}

// TestCandidates_Compounds verifies pair/triple generation from the top
// qualifying singles with exact joint re-scoring, ranking, and the top-5
// cut.
func TestCandidates_Compounds(t *testing.T) {
	t.Parallel()

	cols := []ColumnFacts{
		{Name: "a", Ordinal: 0, DistinctCount: 100, NullCount: 0},
		{Name: "b", Ordinal: 1, DistinctCount: 98, NullCount: 0},
		{Name: "c", Ordinal: 2, DistinctCount: 95, NullCount: 0},
	}
	joint := map[string]int64{
		"ab":  100,
		"ac":  100,
		"bc":  99,
		"abc": 100,
	}
	var asked []string
	got, err := Candidates(100, cols, jointFromMap(t, joint, &asked))
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	// 3 singles + 3 pairs + 1 triple = 7 scored, cut to 5.
	if len(got) != 5 {
		t.Fatalf("len=%d, want 5", len(got))
	}
	if len(asked) != 4 {
		t.Fatalf("joint queries=%v, want 4", asked)
	}
	// Perfect scores rank first; among ties, fewer columns win, so the
	// single column "a" leads.
	if !reflect.DeepEqual(got[0].Columns, []string{"a"}) {
		t.Fatalf("top candidate=%v, want [a]", got[0].Columns)
	}
	if got[0].Score != 1.0 {
		t.Fatalf("top score=%v, want 1.0", got[0].Score)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("candidates not sorted by score: %v", got)
		}
	}
}

// TestCandidates_TieBreakByViolations verifies equal scores rank the
// cleaner column first.
func TestCandidates_TieBreakByViolations(t *testing.T) {
	t.Parallel()

	cols := []ColumnFacts{
		{Name: "clean", Ordinal: 0, DistinctCount: 100, NullCount: 0, Violations: 0},
		{Name: "dirty", Ordinal: 1, DistinctCount: 100, NullCount: 0, Violations: 7},
	}
	joint := map[string]int64{"ab": 100}
	var asked []string
	got, err := Candidates(100, cols, jointFromMap(t, joint, &asked))
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if got[0].Columns[0] != "clean" {
		t.Fatalf("top candidate=%v, want clean first on violation tie-break", got[0].Columns)
	}
}

// TestCandidates_EmptyInput verifies zero-row and no-qualifier inputs
// produce no candidates.
func TestCandidates_EmptyInput(t *testing.T) {
	t.Parallel()

	if got, err := Candidates(0, []ColumnFacts{{Name: "a", DistinctCount: 1}}, nil); err != nil || got != nil {
		t.Fatalf("Candidates(0 rows)=%v,%v, want nil,nil", got, err)
	}

	cols := []ColumnFacts{{Name: "a", Ordinal: 0, DistinctCount: 10, NullCount: 0}}
	got, err := Candidates(100, cols, nil)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("candidates=%v, want none", got)
	}
}

// TestTupleKey verifies the hash distinguishes field boundaries and nulls
// from data.
func TestTupleKey(t *testing.T) {
	t.Parallel()

	if TupleKey([]string{"ab", "c"}) == TupleKey([]string{"a", "bc"}) {
		t.Fatalf("boundary shift collides")
	}
	if TupleKey([]string{"", "x"}) == TupleKey([]string{"x", ""}) {
		t.Fatalf("null position ignored")
	}
	if TupleKey([]string{""}) == TupleKey([]string{"\x00"}) {
		t.Fatalf("null sentinel collides with literal NUL data")
	}
	if TupleKey([]string{"a", "b"}) != TupleKey([]string{"a", "b"}) {
		t.Fatalf("hash not deterministic")
	}
	if TupleKey([]string{"  "}) != TupleKey([]string{""}) {
		t.Fatalf("whitespace-only field should hash as null")
	}
}

// TestDuplicateCount verifies total-minus-distinct equals the sum of
// (count-1) over repeated tuples.
func TestDuplicateCount(t *testing.T) {
	t.Parallel()

	idx := distinct.NewMemory(distinct.NewGovernor(1 << 20))
	defer idx.Close()

	for _, v := range []string{"k1", "k2", "k1", "k3", "k1", "k2"} {
		if err := idx.Add(v); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	// k1 contributes 2 duplicates, k2 contributes 1.
	dup, err := DuplicateCount(idx)
	if err != nil {
		t.Fatalf("DuplicateCount: %v", err)
	}
	if dup != 3 {
		t.Fatalf("DuplicateCount=%d, want 3", dup)
	}
}
