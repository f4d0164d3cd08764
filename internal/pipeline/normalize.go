package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/dedup"
	"github.com/JakeFAU/regionpulse/internal/pulse"
)

// normalize turns extracted fields into the terminal item shape.
func (r *regionRun) normalize(
	ctx context.Context,
	page pulse.ScrapedPage,
	fields pulse.ExtractedFields,
) (pulse.NormalizedItem, error) {
	rawCategory := fields.Category
	if strings.TrimSpace(rawCategory) == "" {
		rawCategory = string(page.Category)
	}
	category, err := pulse.ParseCategory(rawCategory)
	if err != nil {
		return pulse.NormalizedItem{}, err
	}
	lens, err := pulse.LensFor(category)
	if err != nil {
		return pulse.NormalizedItem{}, err
	}

	finalURL := resolveFinalURL(fields.CanonicalURL, page.FinalURL, page.URL)
	id, err := r.p.deps.Hasher.Hash([]byte(dedup.Normalize(finalURL)))
	if err != nil {
		return pulse.NormalizedItem{}, fmt.Errorf("hash item url: %w", err)
	}
	if len(id) > itemIDLength {
		id = id[:itemIDLength]
	}

	title := strings.TrimSpace(fields.Title)
	if title == "" {
		title = strings.TrimSpace(page.Title)
	}
	text := strings.TrimSpace(fields.Summary)

	createdAt := r.p.deps.Clock.Now()
	if fields.PublishedAt != nil && !fields.PublishedAt.IsZero() {
		createdAt = fields.PublishedAt.UTC()
	}

	source := pulse.ItemSourceWeb
	if category == pulse.CategoryEvents {
		source = pulse.ItemSourceEvents
	}

	favicon := page.FaviconURL
	if favicon == "" {
		favicon = faviconFor(finalURL)
	}

	return pulse.NormalizedItem{
		ID:           id,
		Source:       source,
		Lens:         lens,
		Language:     r.detectLanguage(title, text),
		Title:        title,
		Text:         text,
		CreatedAt:    createdAt,
		URL:          finalURL,
		RequestedURL: page.URL,
		Engagement:   fields.Engagement,
		Context:      fields.Context,
		Region:       r.region.Name,
		ImageURL:     page.ImageURL,
		FaviconURL:   favicon,
		Location:     r.geocode(ctx, fields.Location),
		MoodScore:    fields.MoodScore,
		EventDate:    fields.EventDate,
	}, nil
}

func (r *regionRun) detectLanguage(title, text string) string {
	if r.p.deps.Language != nil {
		if lang := r.p.deps.Language.Detect(strings.TrimSpace(title + " " + text)); lang != "" {
			return lang
		}
	}
	return r.region.Language
}

// geocode resolves location text; lookup failures and invalid coordinates
// leave the item without a location.
func (r *regionRun) geocode(ctx context.Context, location string) *pulse.Location {
	location = strings.TrimSpace(location)
	if location == "" || r.p.deps.Geocoder == nil {
		return nil
	}
	point, err := r.p.deps.Geocoder.Geocode(ctx, location)
	if err != nil {
		r.logger.Debug("geocode failed", zap.String("location", location), zap.Error(err))
		return nil
	}
	if point == nil || !point.Valid() {
		return nil
	}
	return &pulse.Location{
		Name:    location,
		Lat:     point.Lat,
		Lng:     point.Lng,
		Country: point.Country,
	}
}

// resolveFinalURL prefers an absolute http(s) canonical URL, then the
// post-redirect URL, then the requested one.
func resolveFinalURL(canonical, final, requested string) string {
	if isAbsoluteHTTP(canonical) {
		return strings.TrimSpace(canonical)
	}
	if strings.TrimSpace(final) != "" {
		return strings.TrimSpace(final)
	}
	return strings.TrimSpace(requested)
}

func isAbsoluteHTTP(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func faviconFor(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico"
}
