// Package elasticsearch indexes collected items for full-text search.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

const defaultIndex = "pulse_items"

// Config describes the cluster connection.
type Config struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	APIKey    string   `mapstructure:"api_key"`
	Index     string   `mapstructure:"index"`
}

// Indexer writes items to one index with the item ID as document ID, so
// re-indexing an item overwrites it.
type Indexer struct {
	client *es.Client
	index  string
	logger *zap.Logger
}

// New wraps an existing client.
func New(client *es.Client, index string, logger *zap.Logger) (*Indexer, error) {
	if client == nil {
		return nil, fmt.Errorf("elasticsearch client is required")
	}
	if index == "" {
		index = defaultIndex
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{client: client, index: index, logger: logger.Named("es_indexer")}, nil
}

// Open builds a client from cfg.
func Open(cfg Config, logger *zap.Logger) (*Indexer, error) {
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return New(client, cfg.Index, logger)
}

type document struct {
	ID         string     `json:"id"`
	Region     string     `json:"region"`
	Source     string     `json:"source"`
	Lens       string     `json:"lens"`
	Language   string     `json:"language"`
	Title      string     `json:"title"`
	Text       string     `json:"text"`
	URL        string     `json:"url"`
	Context    string     `json:"context,omitempty"`
	Engagement int        `json:"engagement"`
	CreatedAt  time.Time  `json:"created_at"`
	EventDate  *time.Time `json:"event_date,omitempty"`
	MoodScore  *float64   `json:"mood_score,omitempty"`
	Place      string     `json:"place,omitempty"`
	Location   *geoPoint  `json:"location,omitempty"`
}

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func toDocument(item pulse.NormalizedItem) document {
	doc := document{
		ID:         item.ID,
		Region:     item.Region,
		Source:     item.Source,
		Lens:       string(item.Lens),
		Language:   item.Language,
		Title:      item.Title,
		Text:       item.Text,
		URL:        item.URL,
		Context:    item.Context,
		Engagement: item.Engagement,
		CreatedAt:  item.CreatedAt,
		EventDate:  item.EventDate,
		MoodScore:  item.MoodScore,
	}
	if item.Location != nil {
		doc.Place = item.Location.Name
		doc.Location = &geoPoint{Lat: item.Location.Lat, Lon: item.Location.Lng}
	}
	return doc
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":         {"type": "keyword"},
      "region":     {"type": "keyword"},
      "source":     {"type": "keyword"},
      "lens":       {"type": "keyword"},
      "language":   {"type": "keyword"},
      "title":      {"type": "text"},
      "text":       {"type": "text"},
      "url":        {"type": "keyword"},
      "context":    {"type": "text"},
      "engagement": {"type": "integer"},
      "created_at": {"type": "date"},
      "event_date": {"type": "date"},
      "mood_score": {"type": "float"},
      "place":      {"type": "keyword"},
      "location":   {"type": "geo_point"}
    }
  }
}`

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: %s", i.index, res.String())
	}

	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", i.index, res.String())
	}
	i.logger.Info("index created", zap.String("index", i.index))
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// IndexItems bulk-indexes items. Any per-document failure fails the call.
func (i *Indexer) IndexItems(ctx context.Context, items []pulse.NormalizedItem) error {
	if len(items) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		meta := map[string]any{"index": map[string]any{"_index": i.index, "_id": item.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := enc.Encode(toDocument(item)); err != nil {
			return fmt.Errorf("encode document %s: %w", item.ID, err)
		}
	}

	res, err := i.client.Bulk(bytes.NewReader(buf.Bytes()), i.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk indexing error: %s", res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		i.logger.Debug("items indexed", zap.Int("count", len(items)))
		return nil
	}
	failed := 0
	first := ""
	for _, entry := range parsed.Items {
		for _, result := range entry {
			if result.Error == nil {
				continue
			}
			failed++
			if first == "" {
				first = fmt.Sprintf("%s: %s", result.ID, result.Error.Reason)
			}
		}
	}
	return fmt.Errorf("bulk indexing: %d of %d documents failed (first: %s)", failed, len(items), first)
}
