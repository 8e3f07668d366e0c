package feedparser

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	ext "github.com/mmcdole/gofeed/extensions"
)

func extText(exts ext.Extensions, prefix, name string) string {
	if values := exts[prefix][name]; len(values) > 0 {
		return clean(values[0].Value)
	}
	return ""
}

// extLink finds an atom:link by rel among the extension elements. Feeds bind
// the Atom namespace to whatever prefix they like, so "atom" is only tried
// first.
func extLink(exts ext.Extensions, rel string) string {
	prefixes := slices.Sorted(maps.Keys(exts))
	slices.SortStableFunc(prefixes, func(a, b string) int {
		switch {
		case a == "atom" && b != "atom":
			return -1
		case b == "atom" && a != "atom":
			return 1
		}
		return 0
	})

	for _, prefix := range prefixes {
		for _, link := range exts[prefix]["link"] {
			href := strings.TrimSpace(link.Attrs["href"])
			if href != "" && strings.EqualFold(strings.TrimSpace(link.Attrs["rel"]), rel) {
				return href
			}
		}
	}
	return ""
}

func syndicationHint(exts ext.Extensions) *Syndication {
	period := strings.ToLower(extText(exts, "sy", "updatePeriod"))
	rawFreq := extText(exts, "sy", "updateFrequency")
	if period == "" && rawFreq == "" {
		return nil
	}

	hint := &Syndication{UpdatePeriod: period, UpdateFrequency: 1}
	if hint.UpdatePeriod == "" {
		hint.UpdatePeriod = "daily"
	}
	if freq, err := strconv.Atoi(rawFreq); err == nil && freq > 0 {
		hint.UpdateFrequency = freq
	}
	return hint
}
