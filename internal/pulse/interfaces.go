package pulse

import (
	"context"
	"io"
	"time"
)

// QueryGenerator produces search queries and direct URLs for a region.
type QueryGenerator interface {
	Generate(ctx context.Context, region RegionConfig, maxQueries int) (GeneratedQueries, error)
}

// SearchProvider runs one search query.
type SearchProvider interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResultCandidate, error)
}

// Scraper fetches page content, an optional image, and a title.
type Scraper interface {
	Scrape(ctx context.Context, url string) (ScrapedPage, error)
}

// URLSelector picks an ordered subset of candidates, at most maxCount long.
type URLSelector interface {
	Select(
		ctx context.Context,
		candidates []SearchResultCandidate,
		region RegionConfig,
		maxCount int,
	) ([]SearchResultCandidate, error)
}

// Extractor pulls structured fields out of scraped content. A nil result
// with a nil error means nothing usable was found.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*ExtractedFields, error)
}

// Summarizer writes a short digest for a cluster of items.
type Summarizer interface {
	Summarize(ctx context.Context, cluster Cluster) (string, error)
}

// Geocoder resolves free-form location text. A nil result means no location.
type Geocoder interface {
	Geocode(ctx context.Context, location string) (*GeoPoint, error)
}

// LanguageDetector returns an ISO 639-1 code, or "" when unsure.
type LanguageDetector interface {
	Detect(text string) string
}

// AvailabilityChecker verifies an external provider before any work starts.
type AvailabilityChecker interface {
	Available(ctx context.Context) error
}

// RecencyStore lists URLs of items fetched since the given time.
type RecencyStore interface {
	RecentURLs(ctx context.Context, since time.Time) ([]string, error)
}

// ItemStore persists normalized items. Saving an existing ID is a no-op.
type ItemStore interface {
	RecencyStore
	SaveItems(ctx context.Context, items []NormalizedItem) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Indexer pushes items into a search index.
type Indexer interface {
	IndexItems(ctx context.Context, items []NormalizedItem) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used for item identity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces scan IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// CheckerFunc adapts a function to AvailabilityChecker.
type CheckerFunc func(ctx context.Context) error

// Available calls f.
func (f CheckerFunc) Available(ctx context.Context) error {
	return f(ctx)
}

// CheckAll returns a checker that fails on the first unavailable provider.
func CheckAll(checkers ...AvailabilityChecker) AvailabilityChecker {
	return CheckerFunc(func(ctx context.Context) error {
		for _, c := range checkers {
			if c == nil {
				continue
			}
			if err := c.Available(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
