// Package search queries a SearXNG-compatible JSON search API.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// ErrNoBaseURL is returned when the client has no endpoint configured.
var ErrNoBaseURL = errors.New("search base url is required")

// Config describes the search endpoint.
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Engines    []string      `mapstructure:"engines"`
	TimeRange  string        `mapstructure:"time_range"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	RateBurst  int           `mapstructure:"rate_burst"`
	SafeSearch int           `mapstructure:"safe_search"`
}

// Client implements pulse.SearchProvider and pulse.AvailabilityChecker.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New validates cfg and builds a client. A nil httpClient gets a default with
// cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse search base url %q: invalid", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	burst := cfg.RateBurst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Client{
		cfg:     cfg,
		base:    base,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("search"),
	}, nil
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Engine  string  `json:"engine"`
	Score   float64 `json:"score"`
}

// Search runs one query. Positions are zero-based in provider order; results
// without a usable http(s) URL are dropped.
func (c *Client) Search(ctx context.Context, query string, opts pulse.SearchOptions) ([]pulse.SearchResultCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for search slot: %w", err)
	}

	var parsed searchResponse
	if err := c.getJSON(ctx, "/search", c.queryValues(query, opts), &parsed); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	limit := opts.Limit
	out := make([]pulse.SearchResultCandidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if limit > 0 && len(out) >= limit {
			break
		}
		u, err := url.Parse(strings.TrimSpace(r.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		out = append(out, pulse.SearchResultCandidate{
			URL:      u.String(),
			Title:    strings.TrimSpace(r.Title),
			Snippet:  strings.TrimSpace(r.Content),
			Position: len(out),
		})
	}
	c.logger.Debug("search complete", zap.String("query", query), zap.Int("results", len(out)))
	return out, nil
}

// Available issues a cheap probe query.
func (c *Client) Available(ctx context.Context) error {
	var parsed searchResponse
	values := url.Values{"q": {"weather"}, "format": {"json"}}
	if err := c.getJSON(ctx, "/search", values, &parsed); err != nil {
		return fmt.Errorf("search provider unavailable: %w", err)
	}
	return nil
}

func (c *Client) queryValues(query string, opts pulse.SearchOptions) url.Values {
	values := url.Values{
		"q":          {query},
		"format":     {"json"},
		"pageno":     {"1"},
		"safesearch": {fmt.Sprint(c.cfg.SafeSearch)},
	}
	if lang := searchLanguage(opts.Language, opts.Country); lang != "" {
		values.Set("language", lang)
	}
	if len(c.cfg.Engines) > 0 {
		values.Set("engines", strings.Join(c.cfg.Engines, ","))
	}
	if c.cfg.TimeRange != "" {
		values.Set("time_range", c.cfg.TimeRange)
	}
	return values
}

// searchLanguage builds a SearXNG locale such as "de-DE".
func searchLanguage(language, country string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	country = strings.ToUpper(strings.TrimSpace(country))
	switch {
	case language == "":
		return ""
	case len(country) == 2:
		return language + "-" + country
	default:
		return language
	}
}

func (c *Client) getJSON(ctx context.Context, path string, values url.Values, dst any) error {
	endpoint := *c.base
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	endpoint.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
