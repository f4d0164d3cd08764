package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

type storedItem struct {
	item        pulse.NormalizedItem
	collectedAt time.Time
}

// ItemStore keeps items in memory. It satisfies pulse.ItemStore.
type ItemStore struct {
	mu    sync.RWMutex
	clock pulse.Clock
	items map[string]storedItem
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// NewItemStore constructs an ItemStore. A nil clock uses wall time.
func NewItemStore(clock pulse.Clock) *ItemStore {
	if clock == nil {
		clock = wallClock{}
	}
	return &ItemStore{clock: clock, items: make(map[string]storedItem)}
}

// SaveItems stores items whose ID is not yet known and returns how many
// were added.
func (s *ItemStore) SaveItems(_ context.Context, items []pulse.NormalizedItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	inserted := 0
	for _, item := range items {
		if item.ID == "" {
			return inserted, fmt.Errorf("item id is required")
		}
		if _, exists := s.items[item.ID]; exists {
			continue
		}
		s.items[item.ID] = storedItem{item: item, collectedAt: now}
		inserted++
	}
	return inserted, nil
}

// RecentURLs lists URLs of items collected at or after since, including
// each item's requested URL when it differs.
func (s *ItemStore) RecentURLs(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var urls []string
	for _, stored := range s.items {
		if !stored.collectedAt.Before(since) {
			urls = append(urls, stored.item.URL)
			if req := stored.item.RequestedURL; req != "" && req != stored.item.URL {
				urls = append(urls, req)
			}
		}
	}
	sort.Strings(urls)
	return urls, nil
}

// Items returns every stored item, newest CreatedAt first.
func (s *ItemStore) Items() []pulse.NormalizedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pulse.NormalizedItem, 0, len(s.items))
	for _, stored := range s.items {
		out = append(out, stored.item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
