package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

func TestNominatimGeocode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Header.Get("User-Agent") != "pulse-test" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("q") {
		case "Alexanderplatz, Berlin":
			_, _ = w.Write([]byte(`[{"lat":"52.5219","lon":"13.4132","address":{"country_code":"de"}}]`))
		case "Atlantis":
			_, _ = w.Write([]byte(`[]`))
		case "Broken":
			_, _ = w.Write([]byte(`[{"lat":"north","lon":"13"}]`))
		default:
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	g, err := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "pulse-test", RateLimit: 1000}, srv.Client(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	point, err := g.Geocode(ctx, " Alexanderplatz, Berlin ")
	require.NoError(t, err)
	require.Equal(t, &pulse.GeoPoint{Lat: 52.5219, Lng: 13.4132, Country: "DE"}, point)

	point, err = g.Geocode(ctx, "Atlantis")
	require.NoError(t, err)
	require.Nil(t, point)

	point, err = g.Geocode(ctx, "")
	require.NoError(t, err)
	require.Nil(t, point)

	_, err = g.Geocode(ctx, "Broken")
	require.ErrorIs(t, err, errBadCoordinates)

	_, err = g.Geocode(ctx, "Elsewhere")
	require.ErrorContains(t, err, "unexpected status 503")
}

func TestNewNominatimValidation(t *testing.T) {
	t.Parallel()

	_, err := NewNominatim(Config{BaseURL: "::"}, nil, nil)
	require.Error(t, err)

	g, err := NewNominatim(Config{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, g.cfg.BaseURL)
	require.Equal(t, defaultUserAgent, g.cfg.UserAgent)
}
