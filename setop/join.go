package setop

import (
	"sort"
	"strings"
)

const reservedNameLabel = "__name__"

// joinKeyOf derives rv's join key: the subset of labels named by on, or
// every label except ignoring plus the reserved "__name__" label when on
// is empty. The second return value reports whether the derived key is
// empty (zero labels), which excludes it from a matched-set under the
// node's edge rules even though it is still emitted when it appears on
// the left-hand side.
func joinKeyOf(rv RangeVector, on, ignoring []string) (JoinKey, bool) {
	var kept []string
	if len(on) > 0 {
		want := toSet(on)
		for k := range rv.Labels {
			if _, ok := want[k]; ok {
				kept = append(kept, k)
			}
		}
	} else {
		exclude := toSet(ignoring)
		exclude[reservedNameLabel] = struct{}{}
		for k := range rv.Labels {
			if _, ok := exclude[k]; !ok {
				kept = append(kept, k)
			}
		}
	}
	if len(kept) == 0 {
		return "", true
	}
	sort.Strings(kept)
	var sb strings.Builder
	for i, k := range kept {
		if i > 0 {
			sb.WriteByte('\x1f')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(rv.Labels[k])
	}
	return JoinKey(sb.String()), false
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// keySet builds the set of join keys present among rvs, excluding any
// range vector whose join key is empty: an empty key never participates
// as a matchable member of a set, on either side of a set operation.
func keySet(rvs []RangeVector, on, ignoring []string) map[JoinKey]struct{} {
	set := make(map[JoinKey]struct{}, len(rvs))
	for _, rv := range rvs {
		key, empty := joinKeyOf(rv, on, ignoring)
		if empty {
			continue
		}
		set[key] = struct{}{}
	}
	return set
}
