package scrape

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/fetcher"
	"github.com/JakeFAU/regionpulse/internal/headless/detector"
	"github.com/JakeFAU/regionpulse/internal/metrics"
	"github.com/JakeFAU/regionpulse/internal/pulse"
)

const defaultMaxContentChars = 20000

// Config tunes content handling.
type Config struct {
	// MaxContentChars caps the text handed to extraction.
	MaxContentChars int `mapstructure:"max_content_chars"`
	// MinTextLength is the readable-text length below which a headless
	// re-render is attempted.
	MinTextLength int `mapstructure:"min_text_length"`
	// BodyLengthThreshold bounds the script-density promotion rule.
	BodyLengthThreshold int `mapstructure:"body_length_threshold"`
}

// Limiter paces requests per domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Scraper implements pulse.Scraper.
type Scraper struct {
	cfg      Config
	http     fetcher.Fetcher
	headless fetcher.Fetcher
	detector *detector.Heuristic
	limiter  Limiter
	logger   *zap.Logger
}

// Option customizes a Scraper.
type Option func(*Scraper)

// WithHeadless enables headless re-rendering through f.
func WithHeadless(f fetcher.Fetcher) Option {
	return func(s *Scraper) { s.headless = f }
}

// WithLimiter paces fetches per domain.
func WithLimiter(l Limiter) Option {
	return func(s *Scraper) { s.limiter = l }
}

// New builds a Scraper over the primary HTTP fetcher.
func New(cfg Config, http fetcher.Fetcher, logger *zap.Logger, opts ...Option) (*Scraper, error) {
	if http == nil {
		return nil, errors.New("http fetcher is required")
	}
	if cfg.MaxContentChars == 0 {
		cfg.MaxContentChars = defaultMaxContentChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{
		cfg:      cfg,
		http:     http,
		detector: detector.NewHeuristic(cfg.BodyLengthThreshold, cfg.MinTextLength),
		logger:   logger.Named("scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scrape fetches rawURL and returns its readable content. Empty content is
// a valid result.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (pulse.ScrapedPage, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, rawURL); err != nil {
			return pulse.ScrapedPage{}, err
		}
	}
	resp, err := s.http.Fetch(ctx, fetcher.Request{URL: rawURL})
	if err != nil {
		return pulse.ScrapedPage{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.RobotsStatus == fetcher.RobotsStatusIndeterminate {
		metrics.ObserveRobotsIndeterminate(rawURL)
		s.logger.Warn("robots.txt unreadable, page fetched as allowed",
			zap.String("url", rawURL), zap.String("reason", resp.RobotsReason))
	}
	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	page := parse(resp.Body, finalURL)

	if s.headless != nil && s.detector.ShouldPromote(resp, len(page.Text)) {
		rendered, err := s.headless.Fetch(ctx, fetcher.Request{URL: rawURL})
		if err != nil {
			s.logger.Debug("headless render failed, keeping static page",
				zap.String("url", rawURL), zap.Error(err))
		} else {
			renderedURL := rendered.FinalURL
			if renderedURL == "" {
				renderedURL = finalURL
			}
			if alt := parse(rendered.Body, renderedURL); len(alt.Text) > len(page.Text) {
				page, finalURL = alt, renderedURL
			}
		}
	}

	return pulse.ScrapedPage{
		URL:        rawURL,
		FinalURL:   finalURL,
		Title:      page.Title,
		Content:    truncateRunes(page.Text, s.cfg.MaxContentChars),
		ImageURL:   page.ImageURL,
		FaviconURL: page.FaviconURL,
	}, nil
}
