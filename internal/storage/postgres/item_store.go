package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

const defaultItemsTable = "items"

// ItemStore persists normalized items and serves the recency window.
type ItemStore struct {
	db     DB
	table  string
	logger *zap.Logger
}

// NewItemStore wraps db. An empty table defaults to "items".
func NewItemStore(db DB, table string, logger *zap.Logger) (*ItemStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if table == "" {
		table = defaultItemsTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemStore{db: db, table: table, logger: logger.Named("item_store")}, nil
}

// Close releases the underlying pool.
func (s *ItemStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// SaveItems inserts items, skipping IDs that already exist. It returns the
// number of rows actually inserted.
func (s *ItemStore) SaveItems(ctx context.Context, items []pulse.NormalizedItem) (int, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, region, source, lens, language, title, body, url, requested_url, engagement, context,
	image_url, favicon_url, location_name, lat, lng, country, mood_score, event_date, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
ON CONFLICT (id) DO NOTHING`, s.table)

	inserted := 0
	for _, item := range items {
		if item.ID == "" {
			return inserted, fmt.Errorf("item id is required")
		}
		tag, err := s.db.Exec(ctx, query, itemArgs(item)...)
		if err != nil {
			return inserted, fmt.Errorf("insert item %s: %w", item.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	s.logger.Debug("items saved", zap.Int("offered", len(items)), zap.Int("inserted", inserted))
	return inserted, nil
}

func itemArgs(item pulse.NormalizedItem) []any {
	var (
		locName, country *string
		lat, lng         *float64
	)
	if item.Location != nil {
		locName = &item.Location.Name
		lat = &item.Location.Lat
		lng = &item.Location.Lng
		if item.Location.Country != "" {
			country = &item.Location.Country
		}
	}
	return []any{
		item.ID,
		item.Region,
		item.Source,
		string(item.Lens),
		item.Language,
		item.Title,
		item.Text,
		item.URL,
		nullable(item.RequestedURL),
		item.Engagement,
		item.Context,
		nullable(item.ImageURL),
		nullable(item.FaviconURL),
		locName,
		lat,
		lng,
		country,
		item.MoodScore,
		item.EventDate,
		item.CreatedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RecentURLs lists URLs of items collected at or after since. Both the
// stored URL and the requested URL are returned, so a search result that
// redirected elsewhere is still recognized next run.
func (s *ItemStore) RecentURLs(ctx context.Context, since time.Time) ([]string, error) {
	query := fmt.Sprintf(`SELECT url, requested_url FROM %s WHERE collected_at >= $1`, s.table)
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query recent urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var (
			u         string
			requested *string
		)
		if err := rows.Scan(&u, &requested); err != nil {
			return nil, fmt.Errorf("scan url row: %w", err)
		}
		urls = append(urls, u)
		if requested != nil && *requested != "" && *requested != u {
			urls = append(urls, *requested)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate url rows: %w", err)
	}
	return urls, nil
}
