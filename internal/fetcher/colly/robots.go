package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/regionpulse/internal/fetcher"
)

// robotsHandshakeReason is attached to fetches whose robots.txt never
// answered within the retry budget.
const robotsHandshakeReason = "robots.txt unreachable: TLS handshake timeout"

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGuard sits in front of the collector transport. Page requests pass
// straight through; robots.txt lookups are retried on transient TLS failures
// and, once retries run out, answered with an allow-all document so the page
// fetch can proceed. Such fetches are flagged indeterminate.
type robotsGuard struct {
	next    http.RoundTripper
	backoff []time.Duration

	mu     sync.Mutex
	status fetcher.RobotsStatus
	reason string
}

func newRobotsGuard(next http.RoundTripper) *robotsGuard {
	return &robotsGuard{next: next, backoff: defaultRobotsBackoff}
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}
	return g.fetchRobots(req)
}

func (g *robotsGuard) fetchRobots(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		resp, err := g.next.RoundTrip(req.Clone(ctx))
		if err == nil {
			return resp, nil
		}
		if !transientTLS(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempt >= len(g.backoff) {
			g.flag(robotsHandshakeReason)
			return allowAllResponse(req), nil
		}
		timer := time.NewTimer(g.backoff[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("fetch robots.txt: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// flag keeps the first reason recorded for this fetch.
func (g *robotsGuard) flag(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == fetcher.RobotsStatusIndeterminate {
		return
	}
	g.status = fetcher.RobotsStatusIndeterminate
	g.reason = reason
}

// annotate copies the robots outcome onto resp. Fetches whose robots.txt
// resolved normally are left untouched.
func (g *robotsGuard) annotate(resp *fetcher.Response) {
	if g == nil || resp == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == fetcher.RobotsStatusUnknown {
		return
	}
	resp.RobotsStatus = g.status
	resp.RobotsReason = g.reason
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func transientTLS(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "tls: handshake timeout")
}
