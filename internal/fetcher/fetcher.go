// Package fetcher defines the page fetch contract shared by the HTTP and
// headless implementations.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// RobotsStatus records how robots.txt was evaluated for a fetch.
type RobotsStatus string

// Robots evaluation outcomes.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// Request describes one page fetch.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the raw result of a fetch.
type Response struct {
	// URL is the requested URL; FinalURL is where redirects ended.
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	RobotsStatus RobotsStatus
	RobotsReason string
}

// Fetcher retrieves a page.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}
