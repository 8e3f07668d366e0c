package entry

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Rule is a site-specific cleanup: Transform runs on the content of entries
// whose feed URL satisfies Match.
type Rule struct {
	Name      string
	Match     func(feedURL string) bool
	Transform func(content string) string
}

type Rules []Rule

// Apply runs every matching rule in order.
func (rs Rules) Apply(feedURL, content string) string {
	for _, r := range rs {
		if r.Match != nil && r.Transform != nil && r.Match(feedURL) {
			content = r.Transform(content)
		}
	}
	return content
}

// PatternRule builds a rule that replaces pattern with replace in the content
// of feeds whose URL matches feedPattern.
func PatternRule(name, feedPattern, pattern, replace string) (Rule, error) {
	feedRe, err := regexp.Compile(feedPattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: feed pattern: %w", name, err)
	}
	contentRe, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: pattern: %w", name, err)
	}
	return Rule{
		Name:      name,
		Match:     feedRe.MatchString,
		Transform: func(content string) string { return contentRe.ReplaceAllString(content, replace) },
	}, nil
}

// Some press-release feeds prefix every entry with a dateline.
var publishedOnPrefix = regexp.MustCompile(
	`(?i)^\s*(?:<p>\s*published on [^<]{3,60}?\d{4}\.?\s*</p>|published on [^<\n]{3,60}?\d{4}\.?)\s*`,
)

var pressFeed = regexp.MustCompile(`(?i)/(?:press|newsroom|pressroom|news-releases|press-releases)(?:[/.?]|$)`)

func DefaultRules() Rules {
	return Rules{
		{
			Name:      "published-on-prefix",
			Match:     pressFeed.MatchString,
			Transform: func(content string) string { return publishedOnPrefix.ReplaceAllString(content, "") },
		},
	}
}

type ruleFile struct {
	Rules []ruleSpec `toml:"rule"`
}

type ruleSpec struct {
	Name        string `toml:"name"`
	FeedPattern string `toml:"feed_pattern"`
	Pattern     string `toml:"pattern"`
	Replace     string `toml:"replace"`
}

// LoadRules reads additional rules from a TOML file of [[rule]] tables.
func LoadRules(path string) (Rules, error) {
	var file ruleFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("load cleanup rules: %w", err)
	}
	return compileRules(file)
}

// ParseRules is LoadRules for an in-memory document.
func ParseRules(doc string) (Rules, error) {
	var file ruleFile
	if _, err := toml.Decode(doc, &file); err != nil {
		return nil, fmt.Errorf("parse cleanup rules: %w", err)
	}
	return compileRules(file)
}

func compileRules(file ruleFile) (Rules, error) {
	rules := make(Rules, 0, len(file.Rules))
	for _, def := range file.Rules {
		r, err := PatternRule(def.Name, def.FeedPattern, def.Pattern, def.Replace)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
