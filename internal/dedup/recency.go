package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

// RecentSet holds canonical URLs processed within the recency window.
type RecentSet struct {
	urls map[string]struct{}
}

// NewRecentSet builds a set from raw URLs.
func NewRecentSet(urls ...string) RecentSet {
	set := RecentSet{urls: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		if key := Normalize(u); key != "" {
			set.urls[key] = struct{}{}
		}
	}
	return set
}

// Contains reports whether rawURL's canonical form is in the set.
func (s RecentSet) Contains(rawURL string) bool {
	if len(s.urls) == 0 {
		return false
	}
	_, ok := s.urls[Normalize(rawURL)]
	return ok
}

// Len returns the number of canonical URLs in the set.
func (s RecentSet) Len() int {
	return len(s.urls)
}

// LoadRecent snapshots the URLs fetched within the trailing windowDays.
func LoadRecent(ctx context.Context, store pulse.RecencyStore, windowDays int, now time.Time) (RecentSet, error) {
	if store == nil {
		return NewRecentSet(), nil
	}
	if windowDays <= 0 {
		windowDays = pulse.DefaultRecencyDays
	}
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)
	urls, err := store.RecentURLs(ctx, since)
	if err != nil {
		return NewRecentSet(), fmt.Errorf("load recent urls: %w", err)
	}
	return NewRecentSet(urls...), nil
}

// FilterRecent drops candidates whose canonical URL is in set.
func FilterRecent(
	candidates []pulse.SearchResultCandidate,
	set RecentSet,
) (kept []pulse.SearchResultCandidate, skipped int) {
	kept = make([]pulse.SearchResultCandidate, 0, len(candidates))
	for _, c := range candidates {
		if set.Contains(c.URL) {
			skipped++
			continue
		}
		kept = append(kept, c)
	}
	return kept, skipped
}
