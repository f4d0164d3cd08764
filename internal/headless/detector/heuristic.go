// Package detector decides when a plain HTTP fetch needs a headless re-render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/regionpulse/internal/fetcher"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	// BodyLengthThreshold bounds the script-density rule to small documents.
	BodyLengthThreshold int
	// MinTextLength promotes pages whose extracted text is shorter than this.
	MinTextLength int
}

// NewHeuristic creates a detector. Zero values select 2048 bytes and 200 characters.
func NewHeuristic(threshold, minText int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	if minText <= 0 {
		minText = 200
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinTextLength: minText}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required. textLen is the
// length of the readable text extracted from the static HTML.
func (h *Heuristic) ShouldPromote(resp fetcher.Response, textLen int) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(body) == 0 || textLen < h.MinTextLength {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
