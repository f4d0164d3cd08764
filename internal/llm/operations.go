package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

const maxPromptContent = 12000

// dateLayouts are tried in order when a reply carries a date string.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"}

type generatedReply struct {
	Queries []struct {
		Text     string `json:"text"`
		Category string `json:"category"`
	} `json:"queries"`
	DirectURLs []struct {
		URL      string `json:"url"`
		Title    string `json:"title"`
		Category string `json:"category"`
	} `json:"direct_urls"`
}

// Generate asks for up to maxQueries search queries plus direct URLs.
// Unknown categories fall back to news.
func (c *Client) Generate(ctx context.Context, region pulse.RegionConfig, maxQueries int) (pulse.GeneratedQueries, error) {
	regionJSON, err := json.Marshal(region)
	if err != nil {
		return pulse.GeneratedQueries{}, fmt.Errorf("marshal region: %w", err)
	}
	user := fmt.Sprintf("Region: %s\nDate: %s\nReturn at most %d queries.",
		regionJSON, time.Now().UTC().Format("2006-01-02"), maxQueries)

	var reply generatedReply
	if err := c.complete(ctx, generateSystem, user, &reply); err != nil {
		return pulse.GeneratedQueries{}, fmt.Errorf("generate queries for %s: %w", region.Name, err)
	}

	var out pulse.GeneratedQueries
	for _, q := range reply.Queries {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		if maxQueries > 0 && len(out.Queries) >= maxQueries {
			break
		}
		out.Queries = append(out.Queries, pulse.Query{Text: text, Category: c.category(q.Category)})
	}
	for _, d := range reply.DirectURLs {
		u := strings.TrimSpace(d.URL)
		if !isHTTPURL(u) {
			continue
		}
		out.DirectURLs = append(out.DirectURLs, pulse.DirectURL{
			URL:      u,
			Title:    strings.TrimSpace(d.Title),
			Category: c.category(d.Category),
		})
	}
	if len(out.Queries) == 0 && len(out.DirectURLs) == 0 {
		return pulse.GeneratedQueries{}, fmt.Errorf("generate queries for %s: %w", region.Name, ErrEmptyReply)
	}
	return out, nil
}

type selectReply struct {
	Selected []int `json:"selected"`
}

// Select returns the chosen candidates in the model's order, skipping bad
// or repeated indices.
func (c *Client) Select(
	ctx context.Context,
	candidates []pulse.SearchResultCandidate,
	region pulse.RegionConfig,
	maxCount int,
) ([]pulse.SearchResultCandidate, error) {
	if len(candidates) == 0 || maxCount <= 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Region: %s (%s, %s)\nPick at most %d.\nCandidates:\n", region.Name, region.City, region.Country, maxCount)
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "%d. [%s] %s\n   %s\n   %s\n", i, cand.Category, cand.Title, cand.URL, cand.Snippet)
	}

	var reply selectReply
	if err := c.complete(ctx, selectSystem, sb.String(), &reply); err != nil {
		return nil, fmt.Errorf("select urls for %s: %w", region.Name, err)
	}

	seen := make(map[int]struct{}, len(reply.Selected))
	out := make([]pulse.SearchResultCandidate, 0, min(maxCount, len(reply.Selected)))
	for _, idx := range reply.Selected {
		if idx < 0 || idx >= len(candidates) {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, candidates[idx])
		if len(out) == maxCount {
			break
		}
	}
	return out, nil
}

type extractReply struct {
	Relevant     *bool    `json:"relevant"`
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Category     string   `json:"category"`
	Location     string   `json:"location"`
	CanonicalURL string   `json:"canonical_url"`
	Engagement   int      `json:"engagement"`
	Context      string   `json:"context"`
	MoodScore    *float64 `json:"mood_score"`
	EventDate    string   `json:"event_date"`
	PublishedAt  string   `json:"published_at"`
}

// Extract returns nil when the page is irrelevant or has no title.
func (c *Client) Extract(ctx context.Context, req pulse.ExtractRequest) (*pulse.ExtractedFields, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil
	}
	user := fmt.Sprintf("Region: %s (%s, %s)\nLanguage: %s\nCategory hint: %s\nURL: %s\nImage: %s\n\nContent:\n%s",
		req.Region.Name, req.Region.City, req.Region.Country, req.Language, req.CategoryHint,
		req.URL, req.ImageURL, clip(req.Content, maxPromptContent))

	var reply extractReply
	if err := c.complete(ctx, extractSystem, user, &reply); err != nil {
		return nil, fmt.Errorf("extract %s: %w", req.URL, err)
	}
	if reply.Relevant != nil && !*reply.Relevant {
		return nil, nil
	}
	title := strings.TrimSpace(reply.Title)
	if title == "" {
		return nil, nil
	}

	category := strings.TrimSpace(reply.Category)
	if category == "" {
		category = string(req.CategoryHint)
	}
	fields := &pulse.ExtractedFields{
		Title:        title,
		Summary:      strings.TrimSpace(reply.Summary),
		Category:     category,
		Location:     strings.TrimSpace(reply.Location),
		CanonicalURL: strings.TrimSpace(reply.CanonicalURL),
		Engagement:   max(reply.Engagement, 0),
		Context:      strings.TrimSpace(reply.Context),
		EventDate:    parseDate(reply.EventDate),
		PublishedAt:  parseDate(reply.PublishedAt),
	}
	if reply.MoodScore != nil {
		score := min(max(*reply.MoodScore, -1), 1)
		fields.MoodScore = &score
	}
	return fields, nil
}

type summarizeReply struct {
	Summary string `json:"summary"`
}

// Summarize writes a digest of a cluster's items.
func (c *Client) Summarize(ctx context.Context, cluster pulse.Cluster) (string, error) {
	if len(cluster.Items) == 0 {
		return "", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Region: %s\nLens: %s\nItems:\n", cluster.Region, cluster.Lens)
	for _, item := range cluster.Items {
		fmt.Fprintf(&sb, "- %s: %s\n", item.Title, clip(item.Text, 400))
	}

	var reply summarizeReply
	if err := c.complete(ctx, summarizeSystem, sb.String(), &reply); err != nil {
		return "", fmt.Errorf("summarize %s/%s: %w", cluster.Region, cluster.Lens, err)
	}
	return strings.TrimSpace(reply.Summary), nil
}

func (c *Client) category(raw string) pulse.Category {
	cat, err := pulse.ParseCategory(raw)
	if err != nil {
		c.logger.Debug("unknown category from model", zap.String("category", raw))
		return pulse.CategoryNews
	}
	return cat
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
