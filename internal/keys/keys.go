// Package keys scores candidate uniqueness keys from finalized column
// statistics and derives exact duplicate counts for confirmed keys.
//
// Candidate suggestion is a pure function of per-column facts plus a joint
// distinctness callback; it never touches raw data itself. Joint
// distinctness for compound keys is exact, computed by the caller with a
// second pass over the stored rows, never estimated from marginals.
package keys

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"profiler/internal/distinct"
	"profiler/internal/infer"
	"profiler/internal/profile"
)

const (
	// singleRatioMin and singleScoreMin gate single-column candidates.
	singleRatioMin = 0.9
	singleScoreMin = 0.8

	// maxCompound members per key; maxCandidates returned overall.
	maxCompound   = 3
	maxCandidates = 5
)

// ColumnFacts is the per-column input to candidate scoring.
type ColumnFacts struct {
	Name          string
	Ordinal       uint32
	DistinctCount int64
	NullCount     int64
	Violations    int64
}

// JointCounter returns the exact distinct count of the value tuples of the
// given columns across all data rows.
type JointCounter func(ordinals []uint32) (int64, error)

type scored struct {
	key        profile.CandidateKey
	violations int64
	ordinals   []uint32
}

// Candidates suggests up to five candidate keys: qualifying single columns
// plus 2-3 column compounds built from the best qualifying singles,
// re-scored with exact joint distinctness. Ties break toward fewer format
// violations in the member columns, then fewer columns.
func Candidates(totalRows int64, cols []ColumnFacts, joint JointCounter) ([]profile.CandidateKey, error) {
	if totalRows == 0 {
		return nil, nil
	}

	var qualified []scored
	for _, c := range cols {
		ratio := float64(c.DistinctCount) / float64(totalRows)
		nullRatio := float64(c.NullCount) / float64(totalRows)
		s := Score(ratio, nullRatio)
		if ratio < singleRatioMin || s < singleScoreMin {
			continue
		}
		qualified = append(qualified, scored{
			key: profile.CandidateKey{
				Columns:       []string{c.Name},
				DistinctRatio: ratio,
				NullRatioSum:  nullRatio,
				Score:         s,
			},
			violations: c.Violations,
			ordinals:   []uint32{c.Ordinal},
		})
	}
	rank(qualified)

	// Compounds come from the best qualifying singles only. With fewer than
	// two qualifying columns there is nothing to combine.
	base := qualified
	if len(base) > maxCompound {
		base = base[:maxCompound]
	}
	byName := make(map[string]ColumnFacts, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}

	all := append([]scored(nil), qualified...)
	for _, combo := range combinations(len(base)) {
		members := make([]ColumnFacts, len(combo))
		for i, idx := range combo {
			members[i] = byName[base[idx].key.Columns[0]]
		}
		sc, err := scoreCompound(totalRows, members, joint)
		if err != nil {
			return nil, err
		}
		all = append(all, sc)
	}
	rank(all)

	if len(all) > maxCandidates {
		all = all[:maxCandidates]
	}
	out := make([]profile.CandidateKey, len(all))
	for i, s := range all {
		out[i] = s.key
	}
	return out, nil
}

// Score is the candidate-key scoring function: distinct_ratio scaled by the
// non-null share, clamped to [0, 1].
func Score(ratio, nullRatioSum float64) float64 {
	s := ratio * (1 - nullRatioSum)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func scoreCompound(totalRows int64, members []ColumnFacts, joint JointCounter) (scored, error) {
	names := make([]string, len(members))
	ordinals := make([]uint32, len(members))
	var nullSum float64
	var violations int64
	for i, m := range members {
		names[i] = m.Name
		ordinals[i] = m.Ordinal
		nullSum += float64(m.NullCount) / float64(totalRows)
		violations += m.Violations
	}
	jd, err := joint(ordinals)
	if err != nil {
		return scored{}, fmt.Errorf("joint distinct for %v: %w", names, err)
	}
	ratio := float64(jd) / float64(totalRows)
	return scored{
		key: profile.CandidateKey{
			Columns:       names,
			DistinctRatio: ratio,
			NullRatioSum:  nullSum,
			Score:         Score(ratio, nullSum),
		},
		violations: violations,
		ordinals:   ordinals,
	}, nil
}

// combinations enumerates the index sets of size 2..maxCompound over n
// ranked singles. n is at most maxCompound.
func combinations(n int) [][]int {
	var out [][]int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, []int{i, j})
		}
	}
	if n >= 3 {
		out = append(out, []int{0, 1, 2})
	}
	return out
}

func rank(s []scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].key.Score != s[j].key.Score {
			return s[i].key.Score > s[j].key.Score
		}
		if s[i].violations != s[j].violations {
			return s[i].violations < s[j].violations
		}
		return len(s[i].key.Columns) < len(s[j].key.Columns)
	})
}

// Tuple hashing for joint distinctness and duplicate detection. Values are
// length-framed under SHA-256 with an explicit NULL sentinel so that no
// arrangement of data bytes can collide with a null or with a neighboring
// field.
var (
	tupleSep     = []byte{0x1f}
	nullSentinel = []byte{0x00}
)

// TupleKey hashes the values of one row's key columns into a fixed-size
// digest string suitable for a distinct index.
func TupleKey(values []string) string {
	h := sha256.New()
	for i, v := range values {
		if i > 0 {
			h.Write(tupleSep)
		}
		if infer.IsNull(v) {
			h.Write(nullSentinel)
			continue
		}
		var lenbuf [8]byte
		n := len(v)
		for b := 0; b < 8; b++ {
			lenbuf[b] = byte(n >> (8 * b))
		}
		h.Write(lenbuf[:])
		h.Write([]byte(v))
	}
	return string(h.Sum(nil))
}

// DuplicateCount derives the exact duplicate count from a tuple-hash index:
// the sum over hashes with count > 1 of count-1, which equals total minus
// distinct.
func DuplicateCount(idx distinct.Index) (int64, error) {
	d, err := idx.TotalDistinct()
	if err != nil {
		return 0, err
	}
	return idx.TotalCount() - d, nil
}
