package dedup

import (
	"sort"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

// Merge concatenates direct and organic candidates (direct first), keeps the
// first occurrence of every canonical URL, and stably re-sorts the survivors
// by Position ascending. Organic results that share a canonical URL keep the
// one that appears first in concatenation order, regardless of position.
func Merge(direct, organic []pulse.SearchResultCandidate) []pulse.SearchResultCandidate {
	seen := make(map[string]struct{}, len(direct)+len(organic))
	out := make([]pulse.SearchResultCandidate, 0, len(direct)+len(organic))
	add := func(list []pulse.SearchResultCandidate) {
		for _, c := range list {
			key := Normalize(c.URL)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	add(direct)
	add(organic)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}
