package scrape

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/jaytaylor/html2text"
)

var whitespaceRun = regexp.MustCompile(`[ \t\r\f\v]*\n[\s]*|[ \t\r\f\v]{2,}`)

// parsedPage is what parse pulls out of one HTML document.
type parsedPage struct {
	Title      string
	Text       string
	ImageURL   string
	FaviconURL string
}

// parse extracts title, readable text, lead image, and favicon. Readability
// supplies the text; html2text is the fallback when it finds nothing.
func parse(body []byte, pageURL string) parsedPage {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	var page parsedPage
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		page.Title = firstNonEmpty(
			metaContent(doc, "og:title"),
			metaContent(doc, "twitter:title"),
			strings.TrimSpace(doc.Find("title").First().Text()),
		)
		page.ImageURL = resolve(base, firstNonEmpty(
			metaContent(doc, "og:image"),
			metaContent(doc, "twitter:image"),
		))
		page.FaviconURL = resolve(base, favicon(doc))
	}

	if base != nil {
		if article, err := readability.FromReader(bytes.NewReader(body), base); err == nil {
			page.Text = strings.TrimSpace(article.TextContent)
			if page.Title == "" {
				page.Title = strings.TrimSpace(article.Title)
			}
			if page.ImageURL == "" {
				page.ImageURL = resolve(base, article.Image)
			}
		}
	}
	if page.Text == "" {
		if text, err := html2text.FromString(string(body), html2text.Options{TextOnly: true}); err == nil {
			page.Text = strings.TrimSpace(text)
		}
	}
	page.Text = collapseWhitespace(page.Text)
	return page
}

func metaContent(doc *goquery.Document, key string) string {
	sel := doc.Find(`meta[property="` + key + `"], meta[name="` + key + `"]`).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}

func favicon(doc *goquery.Document) string {
	var href string
	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		for _, token := range strings.Fields(strings.ToLower(rel)) {
			if token == "icon" {
				href, _ = s.Attr("href")
				return false
			}
		}
		return true
	})
	return strings.TrimSpace(href)
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func collapseWhitespace(text string) string {
	return whitespaceRun.ReplaceAllStringFunc(text, func(run string) string {
		if strings.Contains(run, "\n") {
			return "\n"
		}
		return " "
	})
}

// truncateRunes cuts s to at most n runes. n <= 0 disables truncation.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
