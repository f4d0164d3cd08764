// Package geocode resolves free-form place names to coordinates through a
// Nominatim-compatible API, with an optional Redis cache in front.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

const (
	defaultBaseURL   = "https://nominatim.openstreetmap.org"
	defaultUserAgent = "regionpulse/1.0"
	defaultTimeout   = 10 * time.Second
)

// Config describes the Nominatim endpoint. The public instance allows one
// request per second.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Email     string        `mapstructure:"email"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// Nominatim implements pulse.Geocoder.
type Nominatim struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewNominatim builds a geocoder. Zero config values select the public
// instance at one request per second.
func NewNominatim(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Nominatim, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("parse geocode base url %q: invalid", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Nominatim{
		cfg:     cfg,
		base:    base,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		logger:  logger.Named("nominatim"),
	}, nil
}

type place struct {
	Lat     string `json:"lat"`
	Lon     string `json:"lon"`
	Address struct {
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// Geocode returns the best match for location, or nil when nothing matches.
func (n *Nominatim) Geocode(ctx context.Context, location string) (*pulse.GeoPoint, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for geocode slot: %w", err)
	}

	endpoint := *n.base
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/search"
	query := url.Values{
		"q":              {location},
		"format":         {"jsonv2"},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}
	if n.cfg.Email != "" {
		query.Set("email", n.cfg.Email)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", location, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			n.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode %q: unexpected status %d", location, resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}
	point, err := places[0].point()
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", location, err)
	}
	return point, nil
}

var errBadCoordinates = errors.New("bad coordinates")

func (p place) point() (*pulse.GeoPoint, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: lat %q", errBadCoordinates, p.Lat)
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: lon %q", errBadCoordinates, p.Lon)
	}
	return &pulse.GeoPoint{
		Lat:     lat,
		Lng:     lng,
		Country: strings.ToUpper(p.Address.CountryCode),
	}, nil
}
