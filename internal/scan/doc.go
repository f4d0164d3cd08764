// Package scan orchestrates one multi-region collection run through the
// fetching, processing, clustering, summarizing, and saving phases, driving
// the progress tracker as it goes. At most one scan runs per Service.
package scan
