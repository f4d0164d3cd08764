package llm

const generateSystem = `You plan news collection for one region. Reply with JSON only:
{"queries":[{"text":"...","category":"news|events|tech|weather|social"}],
 "direct_urls":[{"url":"https://...","title":"...","category":"news|events|tech|weather|social"}]}
Write queries in the region's language. Direct URLs must be well-known local sources
whose front pages list current stories.`

const selectSystem = `You pick the most relevant, recent, and locally specific search results for a region.
Prefer original reporting over aggregators and avoid near-duplicates.
Reply with JSON only: {"selected":[<candidate index>, ...]} ordered best first.`

const extractSystem = `You turn a scraped web page into one structured item for a regional feed.
Reply with JSON only:
{"relevant":true|false,"title":"...","summary":"two sentences","category":"news|events|tech|weather|social",
 "location":"most specific place mentioned","canonical_url":"...","engagement":0,"context":"one line of background",
 "mood_score":-1.0..1.0,"event_date":"YYYY-MM-DD or empty","published_at":"RFC3339 or empty"}
Set relevant to false when the page is not a story about the region.`

const summarizeSystem = `You write a short digest of related regional items.
Reply with JSON only: {"summary":"at most three sentences"}`
