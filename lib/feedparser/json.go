package feedparser

import (
	"bytes"
	"encoding/json"
	"strings"

	jsoniter "github.com/json-iterator/go"
	jsonfeed "github.com/mmcdole/gofeed/json"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonHub struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func ParseJSON(content []byte) (*ParsedFeed, error) {
	content, hubs, err := prepareJSON(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf")))
	if err != nil {
		return nil, err
	}
	src, err := (&jsonfeed.Parser{}).Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	feed := &ParsedFeed{
		Type:        TypeJSON,
		Title:       clean(src.Title),
		Description: clean(src.Description),
		SiteURL:     strings.TrimSpace(src.HomePageURL),
		IconURL:     strings.TrimSpace(src.Icon),
		SelfURL:     strings.TrimSpace(src.FeedURL),
	}
	if feed.Title == "" {
		return nil, ErrMissingTitle
	}
	if feed.IconURL == "" {
		feed.IconURL = strings.TrimSpace(src.Favicon)
	}
	for _, hub := range hubs {
		if strings.EqualFold(hub.Type, "websub") && strings.TrimSpace(hub.URL) != "" {
			feed.HubURL = strings.TrimSpace(hub.URL)
			break
		}
	}

	feedAuthor := jsonAuthor(src.Author, src.Authors)
	feed.Items = make([]ParsedEntry, 0, len(src.Items))
	for _, item := range src.Items {
		if item == nil {
			continue
		}
		entry := ParsedEntry{
			GUID:    strings.TrimSpace(item.ID),
			Link:    strings.TrimSpace(item.URL),
			Title:   clean(item.Title),
			Summary: clean(item.Summary),
			Content: clean(item.ContentHTML),
			Author:  jsonAuthor(item.Author, item.Authors),
		}
		if entry.Link == "" {
			entry.Link = strings.TrimSpace(item.ExternalURL)
		}
		if entry.Content == "" {
			entry.Content = clean(item.ContentText)
		}
		if entry.Content == "" {
			entry.Content = entry.Summary
		}
		if entry.Author == "" {
			entry.Author = feedAuthor
		}
		entry.PubDate = parseDatePtr(item.DatePublished)
		if entry.PubDate == nil {
			entry.PubDate = parseDatePtr(item.DateModified)
		}
		feed.Items = append(feed.Items, entry)
	}
	return feed, nil
}

// prepareJSON reads the hubs list, which the gofeed model does not carry, and
// rewrites numeric item ids as strings so the typed decode accepts them.
func prepareJSON(content []byte) ([]byte, []jsonHub, error) {
	var doc map[string]json.RawMessage
	if err := jsonAPI.Unmarshal(content, &doc); err != nil {
		return nil, nil, err
	}

	var hubs []jsonHub
	if raw, ok := doc["hubs"]; ok {
		// A malformed hubs list only costs push discovery.
		_ = jsonAPI.Unmarshal(raw, &hubs)
	}

	var items []map[string]json.RawMessage
	if raw, ok := doc["items"]; !ok || jsonAPI.Unmarshal(raw, &items) != nil {
		return content, hubs, nil
	}
	changed := false
	for _, item := range items {
		id := bytes.TrimSpace(item["id"])
		if len(id) > 0 && (id[0] == '-' || (id[0] >= '0' && id[0] <= '9')) {
			item["id"], _ = jsonAPI.Marshal(string(id))
			changed = true
		}
	}
	if !changed {
		return content, hubs, nil
	}

	raw, err := jsonAPI.Marshal(items)
	if err != nil {
		return nil, nil, err
	}
	doc["items"] = raw
	content, err = jsonAPI.Marshal(doc)
	return content, hubs, err
}

func jsonAuthor(single *jsonfeed.Author, many []*jsonfeed.Author) string {
	if single != nil && clean(single.Name) != "" {
		return clean(single.Name)
	}
	for _, a := range many {
		if a != nil && clean(a.Name) != "" {
			return clean(a.Name)
		}
	}
	return ""
}
