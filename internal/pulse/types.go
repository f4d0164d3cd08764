package pulse

import (
	"time"
)

// Item source values. Event items are tagged separately so consumers can
// render them differently.
const (
	ItemSourceWeb    = "web"
	ItemSourceEvents = "events"
)

// Non-fatal error sources recorded by the pipeline and the scan orchestrator.
const (
	SourceSearch    = "Search"
	SourceScrape    = "Scrape"
	SourceExtract   = "Extract"
	SourceSummarize = "Summarize"
)

// Defaults applied by Settings.WithDefaults.
const (
	DefaultSearchConcurrency = 5
	DefaultScrapeConcurrency = 5
	DefaultMaxQueries        = 8
	DefaultMaxURLs           = 20
	DefaultResultsPerQuery   = 10
	DefaultRecencyDays       = 7
)

// RegionConfig describes one geographic/topical scope processed by an
// independent pipeline instance.
type RegionConfig struct {
	Name       string   `json:"name" mapstructure:"name"`
	Country    string   `json:"country" mapstructure:"country"`
	City       string   `json:"city" mapstructure:"city"`
	Language   string   `json:"language" mapstructure:"language"`
	Latitude   float64  `json:"latitude" mapstructure:"latitude"`
	Longitude  float64  `json:"longitude" mapstructure:"longitude"`
	Topics     []string `json:"topics" mapstructure:"topics"`
	Sources    []string `json:"sources" mapstructure:"sources"`
	MaxQueries int      `json:"max_queries" mapstructure:"max_queries"`
}

// Settings holds the per-run pipeline knobs.
type Settings struct {
	SearchConcurrency int
	ScrapeConcurrency int
	MaxQueries        int
	MaxURLs           int
	ResultsPerQuery   int
	RecencyDays       int
}

// WithDefaults fills zero-valued knobs.
func (s Settings) WithDefaults() Settings {
	if s.SearchConcurrency <= 0 {
		s.SearchConcurrency = DefaultSearchConcurrency
	}
	if s.ScrapeConcurrency <= 0 {
		s.ScrapeConcurrency = DefaultScrapeConcurrency
	}
	if s.MaxQueries <= 0 {
		s.MaxQueries = DefaultMaxQueries
	}
	if s.MaxURLs <= 0 {
		s.MaxURLs = DefaultMaxURLs
	}
	if s.ResultsPerQuery <= 0 {
		s.ResultsPerQuery = DefaultResultsPerQuery
	}
	if s.RecencyDays <= 0 {
		s.RecencyDays = DefaultRecencyDays
	}
	return s
}

// Query is one search query produced by the generator.
type Query struct {
	Text     string   `json:"text"`
	Category Category `json:"category"`
}

// DirectURL is a candidate URL known up front for a region.
type DirectURL struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Category Category `json:"category"`
}

// GeneratedQueries is the output of the query/URL generation step.
type GeneratedQueries struct {
	Queries    []Query     `json:"queries"`
	DirectURLs []DirectURL `json:"direct_urls"`
}

// SearchOptions tunes a single search call.
type SearchOptions struct {
	Limit    int
	Language string
	Country  string
}

// SearchResultCandidate is a URL discovered by search or supplied directly.
// Position is the source ranking and the stable tie-break during dedup-sort.
type SearchResultCandidate struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Snippet  string   `json:"snippet"`
	Position int      `json:"position"`
	Category Category `json:"category"`
}

// ScrapedPage is the content returned by the scrape provider.
type ScrapedPage struct {
	URL        string `json:"url"`
	FinalURL   string `json:"final_url"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	ImageURL   string `json:"image_url,omitempty"`
	FaviconURL string `json:"favicon_url,omitempty"`
	// Category is the hint carried over from generation/selection.
	Category Category `json:"category"`
}

// ExtractRequest is the input to the extraction step.
type ExtractRequest struct {
	Content      string
	URL          string
	ImageURL     string
	Region       RegionConfig
	Language     string
	CategoryHint Category
}

// ExtractedFields is what the extractor pulls out of one page.
type ExtractedFields struct {
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	Category     string     `json:"category"`
	Location     string     `json:"location"`
	CanonicalURL string     `json:"canonical_url"`
	Engagement   int        `json:"engagement"`
	Context      string     `json:"context"`
	MoodScore    *float64   `json:"mood_score,omitempty"`
	EventDate    *time.Time `json:"event_date,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// GeoPoint is a geocoder result.
type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Country string  `json:"country,omitempty"`
}

// Valid reports whether the point holds usable coordinates.
func (g GeoPoint) Valid() bool {
	if g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180 {
		return false
	}
	return g.Lat != 0 || g.Lng != 0
}

// Location is the geocoded place attached to an item.
type Location struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Country string  `json:"country,omitempty"`
}

// NormalizedItem is the pipeline's terminal output unit. ID is derived from
// the final URL so repeated collection of the same URL yields the same ID.
type NormalizedItem struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Lens      Lens      `json:"lens"`
	Language  string    `json:"language"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url"`
	// RequestedURL is the search result URL that was scraped; URL may
	// differ after redirects or canonicalization.
	RequestedURL string     `json:"requested_url,omitempty"`
	Engagement   int        `json:"engagement"`
	Context      string     `json:"context"`
	Region       string     `json:"region"`
	ImageURL     string     `json:"image_url,omitempty"`
	FaviconURL   string     `json:"favicon_url,omitempty"`
	Location     *Location  `json:"location,omitempty"`
	MoodScore    *float64   `json:"mood_score,omitempty"`
	EventDate    *time.Time `json:"event_date,omitempty"`
}

// NonFatalError records a single failed unit of work.
type NonFatalError struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RegionResult is the outcome of one region's pipeline run.
type RegionResult struct {
	Region string           `json:"region"`
	Items  []NormalizedItem `json:"items"`
	Errors []NonFatalError  `json:"errors"`
	// Pages holds the scraped pages that produced items, for archiving.
	Pages []ScrapedPage `json:"-"`
}

// Cluster groups items of one lens within one region.
type Cluster struct {
	Region  string           `json:"region"`
	Lens    Lens             `json:"lens"`
	Items   []NormalizedItem `json:"items"`
	Summary string           `json:"summary,omitempty"`
}
