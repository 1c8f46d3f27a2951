package distinct

import (
	"sort"
	"strconv"

	"profiler/internal/profile"
)

// topNMem ranks map entries by count descending, breaking ties by earliest
// arrival so repeated runs over the same stream rank identically.
func topNMem(vals map[string]*memEntry, k int) []profile.ValueCount {
	type ranked struct {
		v string
		e *memEntry
	}
	all := make([]ranked, 0, len(vals))
	for v, e := range vals {
		all = append(all, ranked{v, e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.n != all[j].e.n {
			return all[i].e.n > all[j].e.n
		}
		return all[i].e.first < all[j].e.first
	})
	if k > len(all) {
		k = len(all)
	}
	out := make([]profile.ValueCount, k)
	for i := 0; i < k; i++ {
		out[i] = profile.ValueCount{Value: all[i].v, Count: all[i].e.n}
	}
	return out
}

// walkMem enumerates map entries in sorted order. Numeric order parses each
// value as a float; unparseable values sort first so callers that filter on
// validity can skip them without breaking the ordered prefix-sum walk.
func walkMem(vals map[string]*memEntry, numeric bool, fn func(v string, count int64) error) error {
	keys := make([]string, 0, len(vals))
	for v := range vals {
		keys = append(keys, v)
	}
	if numeric {
		sort.Slice(keys, func(i, j int) bool {
			fi, erri := strconv.ParseFloat(keys[i], 64)
			fj, errj := strconv.ParseFloat(keys[j], 64)
			switch {
			case erri != nil && errj != nil:
				return keys[i] < keys[j]
			case erri != nil:
				return true
			case errj != nil:
				return false
			case fi != fj:
				return fi < fj
			default:
				return keys[i] < keys[j]
			}
		})
	} else {
		sort.Strings(keys)
	}
	for _, v := range keys {
		if err := fn(v, vals[v].n); err != nil {
			return err
		}
	}
	return nil
}
