package pulse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLensForCoversEveryCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Lens
	}{
		{raw: "events", want: LensEvents},
		{raw: "tech", want: LensTech},
		{raw: "weather", want: LensWeather},
		{raw: "social", want: LensConversation},
		{raw: "news", want: LensHeadlines},
		{raw: "", want: LensHeadlines},
		{raw: " Tech ", want: LensTech},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			c, err := ParseCategory(tt.raw)
			require.NoError(t, err)
			lens, err := LensFor(c)
			require.NoError(t, err)
			require.Equal(t, tt.want, lens)
		})
	}
}

func TestParseCategoryRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := ParseCategory("sports")
	require.ErrorIs(t, err, ErrUnknownCategory)

	_, err = LensFor(Category("sports"))
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestGeoPointValid(t *testing.T) {
	t.Parallel()

	require.True(t, GeoPoint{Lat: 52.52, Lng: 13.4}.Valid())
	require.False(t, GeoPoint{}.Valid())
	require.False(t, GeoPoint{Lat: 91, Lng: 0}.Valid())
	require.False(t, GeoPoint{Lat: 10, Lng: -181}.Valid())
}

func TestSettingsWithDefaults(t *testing.T) {
	t.Parallel()

	s := Settings{MaxURLs: 3}.WithDefaults()
	require.Equal(t, 3, s.MaxURLs)
	require.Equal(t, DefaultSearchConcurrency, s.SearchConcurrency)
	require.Equal(t, DefaultRecencyDays, s.RecencyDays)
}

func TestCheckAllStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	calls := 0
	ok := CheckerFunc(func(context.Context) error { calls++; return nil })
	bad := CheckerFunc(func(context.Context) error { calls++; return boom })

	err := CheckAll(ok, nil, bad, ok).Available(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, calls)
}
