package entry

import (
	"net/url"
	"strings"
	"time"

	"github.com/fiffu/feedwatch/lib/feedparser"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
)

// Processed is one item ready to be upserted.
type Processed struct {
	GUID        string
	Status      Status
	Title       string
	Link        string
	Author      string
	Content     string
	Summary     string
	ContentHash string
	PublishedAt *time.Time
}

type Processor struct {
	rules         Rules
	summaryLength int
}

func NewProcessor(rules Rules, summaryLength int) *Processor {
	return &Processor{rules: rules, summaryLength: summaryLength}
}

// Process derives identity, cleans content and classifies every item against
// existing, a map of guid to content hash for entries already stored for the
// feed. Items without identity and repeated guids within one document are
// skipped and counted.
func (p *Processor) Process(feedURL string, items []feedparser.ParsedEntry, existing map[string]string) ([]Processed, int) {
	out := make([]Processed, 0, len(items))
	seen := make(map[string]bool, len(items))
	skipped := 0

	for _, item := range items {
		guid, err := DeriveGUID(item)
		if err != nil || seen[guid] {
			skipped++
			continue
		}
		seen[guid] = true

		link := absoluteLink(feedURL, item.Link)
		cleaned := CleanEntryContent(item, Options{
			EntryURL:      link,
			FeedURL:       feedURL,
			Rules:         p.rules,
			SummaryLength: p.summaryLength,
		})

		hash := ContentHash(cleaned.Content)
		status := StatusNew
		if prev, ok := existing[guid]; ok {
			status = StatusUnchanged
			if prev != hash {
				status = StatusUpdated
			}
		}

		out = append(out, Processed{
			GUID:        guid,
			Status:      status,
			Title:       item.Title,
			Link:        link,
			Author:      item.Author,
			Content:     cleaned.Content,
			Summary:     cleaned.Summary,
			ContentHash: hash,
			PublishedAt: item.PubDate,
		})
	}
	return out, skipped
}

func absoluteLink(feedURL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	base, err := url.Parse(feedURL)
	if err != nil || !base.IsAbs() {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}
