// Package pipeline runs the per-region collection flow: query generation,
// parallel search, merge and dedupe, recency filtering, URL selection,
// parallel scraping, and parallel extraction into normalized items.
//
// Progress is reported per region on a 0..100 scale:
//
//	generate  0-5
//	search    5-20
//	merge    20-25 (includes the recency filter)
//	select   25-30
//	scrape   30-70
//	extract  70-100
//
// Individual search, scrape, and extract failures are collected as
// pulse.NonFatalError values; only provider unavailability, query
// generation, and URL selection abort a region.
package pipeline
