package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

func TestSearchParsesResults(t *testing.T) {
	t.Parallel()

	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		if r.URL.Path != "/search" || r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://news.example.com/a","title":" First ","content":"snippet a"},
			{"url":"javascript:void(0)","title":"bad"},
			{"url":"https://news.example.com/b","title":"Second","content":"snippet b"},
			{"url":"https://news.example.com/c","title":"Third"}
		]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/", APIKey: "secret", Engines: []string{"bing", "ddg"}}, srv.Client(), nil)
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "berlin news", pulse.SearchOptions{
		Limit:    2,
		Language: "DE",
		Country:  "de",
	})
	require.NoError(t, err)
	require.Equal(t, []pulse.SearchResultCandidate{
		{URL: "https://news.example.com/a", Title: "First", Snippet: "snippet a", Position: 0},
		{URL: "https://news.example.com/b", Title: "Second", Snippet: "snippet b", Position: 1},
	}, results)

	q := gotQuery.Load().(url.Values)
	require.Equal(t, []string{"berlin news"}, q["q"])
	require.Equal(t, []string{"json"}, q["format"])
	require.Equal(t, []string{"de-DE"}, q["language"])
	require.Equal(t, []string{"bing,ddg"}, q["engines"])
}

func TestSearchErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "garbage" {
			_, _ = w.Write([]byte("not json"))
			return
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "anything", pulse.SearchOptions{})
	require.ErrorContains(t, err, "unexpected status 429")

	_, err = c.Search(context.Background(), "garbage", pulse.SearchOptions{})
	require.ErrorContains(t, err, "decode response")

	_, err = c.Search(context.Background(), "   ", pulse.SearchOptions{})
	require.Error(t, err)

	require.Error(t, c.Available(context.Background()))
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, RateLimit: 100}, srv.Client(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Available(context.Background()))
}

func TestSearchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	c, err := New(Config{BaseURL: "http://127.0.0.1:1", RateLimit: 0.001, RateBurst: 1}, nil, nil)
	require.NoError(t, err)
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Search(ctx, "query", pulse.SearchOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.ErrorIs(t, err, ErrNoBaseURL)

	_, err = New(Config{BaseURL: "not a url"}, nil, nil)
	require.Error(t, err)
}

func TestSearchLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		language, country, want string
	}{
		{"", "DE", ""},
		{"fr", "", "fr"},
		{"en", "gb", "en-GB"},
		{"en", "europe", "en"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, searchLanguage(tt.language, tt.country))
	}
}
