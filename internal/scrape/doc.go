// Package scrape turns a URL into readable page text. Pages are fetched over
// plain HTTP first and re-rendered in a headless browser when the static HTML
// looks like a client-rendered shell.
package scrape
