package pulse

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCategory is returned for category strings outside the vocabulary.
var ErrUnknownCategory = errors.New("unknown category")

// Category is the input classification hint assigned during generation.
type Category string

// Supported categories.
const (
	CategoryNews    Category = "news"
	CategoryEvents  Category = "events"
	CategoryTech    Category = "tech"
	CategoryWeather Category = "weather"
	CategorySocial  Category = "social"
)

// Lens is the fixed output category vocabulary.
type Lens string

// Supported lenses.
const (
	LensHeadlines    Lens = "Headlines"
	LensTech         Lens = "Tech"
	LensWeather      Lens = "Weather"
	LensConversation Lens = "Conversation"
	LensEvents       Lens = "Events"
)

var lensByCategory = map[Category]Lens{
	CategoryNews:    LensHeadlines,
	CategoryEvents:  LensEvents,
	CategoryTech:    LensTech,
	CategoryWeather: LensWeather,
	CategorySocial:  LensConversation,
}

// ParseCategory maps a raw string onto the closed category vocabulary. The
// empty string is news.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c == "" {
		return CategoryNews, nil
	}
	if _, ok := lensByCategory[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
	}
	return c, nil
}

// LensFor returns the output lens for a category.
func LensFor(c Category) (Lens, error) {
	lens, ok := lensByCategory[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
	return lens, nil
}
