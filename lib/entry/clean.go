// Package entry turns parsed feed items into stored entries: identity,
// content cleanup, summaries and change detection.
package entry

import (
	"strings"
	"unicode"

	"github.com/fiffu/feedwatch/lib/feedparser"
)

const (
	DefaultSummaryLength = 300
	// summaryWindow is how far back from the cut a word boundary is looked for.
	summaryWindow = 40
	ellipsis      = "…"
)

type Options struct {
	EntryURL string
	FeedURL  string

	Rules         Rules
	SummaryLength int
}

type Cleaned struct {
	// Original is content, or summary when the item has no content.
	Original string
	// Content is the cleaned body. It equals Original when cleanup changed nothing.
	Content string
	Summary string
}

// CleanEntryContent picks the authoritative body of an item, resolves relative
// URLs, applies site rules and produces a plain-text summary.
func CleanEntryContent(e feedparser.ParsedEntry, opts Options) Cleaned {
	original := e.Content
	if original == "" {
		original = e.Summary
	}
	if original == "" {
		return Cleaned{}
	}

	cleaned := original
	if opts.EntryURL != "" {
		cleaned = RewriteRelativeURLs(cleaned, opts.EntryURL)
	}
	cleaned = opts.Rules.Apply(opts.FeedURL, cleaned)

	out := Cleaned{Original: original, Content: original}
	if cleaned != original {
		out.Content = cleaned
	}

	limit := opts.SummaryLength
	if limit <= 0 {
		limit = DefaultSummaryLength
	}
	// A summary identical to the content is not an excerpt.
	if e.Content != "" && e.Summary != "" && e.Content != e.Summary {
		out.Summary = Summarize(e.Summary, limit)
	} else {
		out.Summary = Summarize(out.Content, limit)
	}
	return out
}

// Summarize reduces markup to text of at most limit runes plus an ellipsis.
// The cut lands on a word boundary when one lies close enough to the limit.
func Summarize(content string, limit int) string {
	text := ExtractText(content)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}

	cut := limit
	for i := limit; i > limit-summaryWindow && i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	head := strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return head + ellipsis
}
