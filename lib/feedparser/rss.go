package feedparser

import (
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed/rss"
)

// ParseRSS handles RSS 0.9x, 1.0 (RDF) and 2.0.
func ParseRSS(content []byte) (*ParsedFeed, error) {
	content = trimPrologue(content)
	src, err := parseLenient(content, (&rss.Parser{}).Parse)
	if err != nil {
		return nil, err
	}

	feed := &ParsedFeed{
		Type:        TypeRSS,
		Title:       clean(src.Title),
		Description: clean(src.Description),
		SiteURL:     strings.TrimSpace(src.Link),
		HubURL:      extLink(src.Extensions, "hub"),
		SelfURL:     extLink(src.Extensions, "self"),
		Syndication: syndicationHint(src.Extensions),
	}
	if feed.Title == "" {
		if !hasElement(content, "channel") {
			return nil, ErrMissingChannel
		}
		return nil, ErrMissingTitle
	}
	if src.Image != nil {
		feed.IconURL = strings.TrimSpace(src.Image.URL)
	}
	if ttl, err := strconv.Atoi(strings.TrimSpace(src.TTL)); err == nil && ttl > 0 {
		feed.TTLMinutes = &ttl
	}

	feed.Items = make([]ParsedEntry, 0, len(src.Items))
	for _, item := range src.Items {
		if item != nil {
			feed.Items = append(feed.Items, parseRSSItem(item))
		}
	}
	return feed, nil
}

func parseRSSItem(item *rss.Item) ParsedEntry {
	entry := ParsedEntry{
		Title:   clean(item.Title),
		Link:    strings.TrimSpace(item.Link),
		Summary: clean(item.Description),
		Content: clean(item.Content),
		Author:  clean(item.Author),
		PubDate: parseDatePtr(item.PubDate),
	}
	if entry.Content == "" {
		entry.Content = entry.Summary
	}

	if dc := item.DublinCoreExt; dc != nil {
		if len(dc.Creator) > 0 && clean(dc.Creator[0]) != "" {
			entry.Author = clean(dc.Creator[0])
		}
		if entry.PubDate == nil && len(dc.Date) > 0 {
			entry.PubDate = parseDatePtr(dc.Date[0])
		}
	}

	if item.GUID != nil {
		entry.GUID = clean(item.GUID.Value)
		if entry.Link == "" && !strings.EqualFold(item.GUID.IsPermalink, "false") && isHTTPURL(entry.GUID) {
			entry.Link = entry.GUID
		}
	}
	return entry
}

func isHTTPURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
