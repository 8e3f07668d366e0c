package feedparser

import (
	"strings"

	"github.com/mmcdole/gofeed/atom"
)

// ParseAtom handles Atom 0.3 and 1.0.
func ParseAtom(content []byte) (*ParsedFeed, error) {
	src, err := parseLenient(trimPrologue(content), (&atom.Parser{}).Parse)
	if err != nil {
		return nil, err
	}

	links := atomLinks(src.Links)
	feed := &ParsedFeed{
		Type:        TypeAtom,
		Title:       clean(src.Title),
		Description: clean(src.Subtitle),
		SiteURL:     links.alternate,
		HubURL:      links.hub,
		SelfURL:     links.self,
		IconURL:     strings.TrimSpace(src.Icon),
		Syndication: syndicationHint(src.Extensions),
	}
	if feed.Title == "" {
		return nil, ErrMissingTitle
	}
	if feed.IconURL == "" {
		feed.IconURL = strings.TrimSpace(src.Logo)
	}

	feedAuthor := personName(src.Authors)
	feed.Items = make([]ParsedEntry, 0, len(src.Entries))
	for _, e := range src.Entries {
		if e != nil {
			feed.Items = append(feed.Items, parseAtomEntry(e, feedAuthor))
		}
	}
	return feed, nil
}

func parseAtomEntry(e *atom.Entry, feedAuthor string) ParsedEntry {
	entry := ParsedEntry{
		GUID:    clean(e.ID),
		Link:    atomLinks(e.Links).alternate,
		Title:   clean(e.Title),
		Summary: clean(e.Summary),
		Author:  personName(e.Authors),
	}
	if entry.Author == "" {
		entry.Author = feedAuthor
	}

	if c := e.Content; c != nil {
		body := clean(c.Value)
		// Out-of-line content is referenced, not embedded.
		if !(strings.TrimSpace(c.Src) != "" && body == "") {
			entry.Content = body
		}
	}
	if entry.Content == "" {
		entry.Content = entry.Summary
	}

	entry.PubDate = parseDatePtr(e.Published)
	if entry.PubDate == nil {
		entry.PubDate = parseDatePtr(e.Updated)
	}
	return entry
}

type linkSet struct {
	alternate string
	hub       string
	self      string
}

func atomLinks(links []*atom.Link) linkSet {
	var set linkSet
	var fallback string
	for _, link := range links {
		if link == nil {
			continue
		}
		href := strings.TrimSpace(link.Href)
		if href == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(link.Rel)) {
		case "alternate":
			if set.alternate == "" {
				set.alternate = href
			}
		case "":
			if fallback == "" {
				fallback = href
			}
		case "hub":
			if set.hub == "" {
				set.hub = href
			}
		case "self":
			if set.self == "" {
				set.self = href
			}
		}
	}
	if set.alternate == "" {
		set.alternate = fallback
	}
	return set
}

func personName(people []*atom.Person) string {
	for _, p := range people {
		if p == nil {
			continue
		}
		if name := clean(p.Name); name != "" {
			return name
		}
		if email := clean(p.Email); email != "" {
			return email
		}
	}
	return ""
}
