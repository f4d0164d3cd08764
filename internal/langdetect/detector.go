// Package langdetect guesses the language of short item texts.
package langdetect

import (
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

const (
	defaultMinLength     = 20
	defaultMinConfidence = 0.5
)

// Detector implements pulse.LanguageDetector on top of trigram detection.
type Detector struct {
	minLength     int
	minConfidence float64
}

// New builds a detector. Texts shorter than minLength runes, or results below
// minConfidence, yield no answer. Zero values select defaults.
func New(minLength int, minConfidence float64) *Detector {
	if minLength <= 0 {
		minLength = defaultMinLength
	}
	if minConfidence <= 0 {
		minConfidence = defaultMinConfidence
	}
	return &Detector{minLength: minLength, minConfidence: minConfidence}
}

// Detect returns an ISO 639-1 code, or "" when unsure.
func (d *Detector) Detect(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < d.minLength {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() && info.Confidence < d.minConfidence {
		return ""
	}
	return Canonical(info.Lang.Iso6393())
}

// Canonical reduces a language tag or ISO 639-2/3 code to its two-letter
// base, or "" when it cannot be parsed.
func Canonical(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if base, err := language.ParseBase(code); err == nil {
		return base.String()
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}
