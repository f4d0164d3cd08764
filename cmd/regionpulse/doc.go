// Package main hosts the regionpulse service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, live scan status, region listing, scan history, and
//     scan submission. Submitted scans are queued on a bounded in-memory queue and run one at a time by the
//     dispatcher; a cron scheduler can submit scans on its own.
//   - Scan orchestration: internal/scan.Service runs every requested region through the pipeline concurrently,
//     then merges, clusters, summarizes, and saves the items while the progress tracker walks the scan phases.
//   - Region pipeline: the LLM generates queries, SearXNG searches them, recently collected URLs are dropped, the
//     LLM selects the best candidates, pages are scraped through Colly (with an optional Chromedp fallback), and
//     the LLM extracts structured items that are geocoded and language-tagged.
//   - Persistence & fanout: items and scan history go to Postgres (or memory), scraped pages are archived to the
//     configured BlobStore (memory/local/GCS), items are optionally indexed in Elasticsearch, and a scan summary is
//     published to Pub/Sub when a project is configured.
//   - Configuration & plumbing: Viper populates config from files and PULSE_* env vars; zap provides structured
//     logging; Prometheus metrics are exported at /metrics.
//
// Quick checklist:
//   - Configure at least one region, llm.api_key (or PULSE_LLM_API_KEY), and search.base_url.
//   - Run locally: go run ./cmd/regionpulse serve --config config.yaml
//   - One-off scan: go run ./cmd/regionpulse scan --config config.yaml --region Berlin
package main
