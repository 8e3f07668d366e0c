package feedparser

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/mmcdole/gofeed"
)

// DetectFeedType sniffs the document structure. The Content-Type header is
// deliberately not consulted.
func DetectFeedType(content []byte) Type {
	switch gofeed.DetectFeedType(bytes.NewReader(content)) {
	case gofeed.FeedTypeRSS:
		return TypeRSS
	case gofeed.FeedTypeAtom:
		return TypeAtom
	case gofeed.FeedTypeJSON:
		// Any JSON object passes the sniff; only feed-shaped ones count.
		if looksLikeJSONFeed(content) {
			return TypeJSON
		}
	}
	return TypeUnknown
}

func looksLikeJSONFeed(content []byte) bool {
	var shape struct {
		Version string            `json:"version"`
		Items   []json.RawMessage `json:"items"`
	}
	if err := jsonAPI.Unmarshal(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf")), &shape); err != nil {
		return false
	}
	return strings.Contains(shape.Version, "jsonfeed.org") || shape.Items != nil
}
