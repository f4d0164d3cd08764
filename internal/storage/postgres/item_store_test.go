package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

func TestSaveItemsCountsInsertedRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewItemStore(mock, "", nil)
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	mood := 0.4
	fresh := pulse.NormalizedItem{
		ID:           "aaa",
		Region:       "berlin",
		Source:       pulse.ItemSourceWeb,
		Lens:         pulse.LensHeadlines,
		Language:     "de",
		Title:        "Title",
		Text:         "Body",
		URL:          "https://example.com/a",
		RequestedURL: "https://example.com/a?from=search",
		CreatedAt:    created,
		Location:     &pulse.Location{Name: "Mitte", Lat: 52.52, Lng: 13.4},
		MoodScore:    &mood,
	}
	known := pulse.NormalizedItem{ID: "bbb", Region: "berlin", URL: "https://example.com/b", CreatedAt: created}

	name, lat, lng, requested := "Mitte", 52.52, 13.4, "https://example.com/a?from=search"
	mock.ExpectExec("INSERT INTO items").
		WithArgs(
			"aaa", "berlin", pulse.ItemSourceWeb, "Headlines", "de", "Title", "Body",
			"https://example.com/a", &requested, 0, "",
			(*string)(nil), (*string)(nil), &name, &lat, &lng, (*string)(nil),
			&mood, (*time.Time)(nil), created,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	n, err := s.SaveItems(context.Background(), []pulse.NormalizedItem{fresh, known})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveItemsStopsOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewItemStore(mock, "pulse_items", nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pulse_items").WillReturnError(errors.New("disk full"))

	_, err = s.SaveItems(context.Background(), []pulse.NormalizedItem{{ID: "a"}, {ID: "b"}})
	require.ErrorContains(t, err, "insert item a: disk full")
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = s.SaveItems(context.Background(), []pulse.NormalizedItem{{}})
	require.ErrorContains(t, err, "item id is required")
}

func TestNewItemStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewItemStore(mock, "items; DROP TABLE x", nil)
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewItemStore(nil, "", nil)
	require.Error(t, err)
}

func TestRecentURLs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewItemStore(mock, "", nil)
	require.NoError(t, err)

	since := time.Unix(1700000000, 0).UTC()
	redirected := "https://short.example/b"
	same := "https://example.com/c"
	mock.ExpectQuery("SELECT url, requested_url FROM items WHERE collected_at >= \\$1").
		WithArgs(since).
		WillReturnRows(mock.NewRows([]string{"url", "requested_url"}).
			AddRow("https://example.com/a", (*string)(nil)).
			AddRow("https://example.com/b", &redirected).
			AddRow("https://example.com/c", &same))

	urls, err := s.RecentURLs(context.Background(), since)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://short.example/b",
		"https://example.com/c",
	}, urls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentURLsQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewItemStore(mock, "", nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT url").WillReturnError(errors.New("timeout"))
	_, err = s.RecentURLs(context.Background(), time.Now())
	require.ErrorContains(t, err, "query recent urls")
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS items").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}
