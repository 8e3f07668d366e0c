package entry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fiffu/feedwatch/lib/feedparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveGUID(t *testing.T) {
	published := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	guid, err := DeriveGUID(feedparser.ParsedEntry{GUID: "  abc  ", Link: "https://x/1"})
	require.NoError(t, err)
	assert.Equal(t, "abc", guid)

	guid, err = DeriveGUID(feedparser.ParsedEntry{Link: "https://x/1"})
	require.NoError(t, err)
	assert.Equal(t, "https://x/1", guid)

	e := feedparser.ParsedEntry{Title: "Hello", PubDate: &published}
	first, err := DeriveGUID(e)
	require.NoError(t, err)
	second, err := DeriveGUID(e)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "sha256:"))

	other, err := DeriveGUID(feedparser.ParsedEntry{Title: "Hello!", PubDate: &published})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	_, err = DeriveGUID(feedparser.ParsedEntry{Content: "body only"})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", ContentHash(""))
	assert.NotEqual(t, ContentHash("a"), ContentHash("b"))
}

func TestRewriteRelativeURLs(t *testing.T) {
	in := `<p>See <a href="/post/2">this</a> and <img src="img/a.png"> or <a href="https://other/x">that</a> <a href="#top">top</a></p>`
	out := RewriteRelativeURLs(in, "https://example.com/blog/post/1")

	assert.Contains(t, out, `href="https://example.com/post/2"`)
	assert.Contains(t, out, `src="https://example.com/blog/post/img/a.png"`)
	assert.Contains(t, out, `href="https://other/x"`)
	assert.Contains(t, out, `href="#top"`)

	untouched := `<p>No links <b>here</b></p>`
	assert.Equal(t, untouched, RewriteRelativeURLs(untouched, "https://example.com/"))
	assert.Equal(t, in, RewriteRelativeURLs(in, "not a url"))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "Short text", Summarize("<p>Short   <b>text</b></p>", 100))
	assert.Equal(t, "One Two", Summarize("<p>One</p><p>Two</p><script>alert(1)</script>", 100))

	long := "The quick brown fox jumps over the lazy dog"
	assert.Equal(t, "The quick brown fox…", Summarize(long, 22))

	noSpaces := strings.Repeat("x", 100)
	assert.Equal(t, strings.Repeat("x", 50)+"…", Summarize(noSpaces, 50))
}

func TestCleanEntryContentSummarySource(t *testing.T) {
	distinct := feedparser.ParsedEntry{Content: "<p>Full article body</p>", Summary: "Teaser"}
	c := CleanEntryContent(distinct, Options{})
	assert.Equal(t, "<p>Full article body</p>", c.Content)
	assert.Equal(t, "Teaser", c.Summary)

	same := feedparser.ParsedEntry{Content: "<p>Same body</p>", Summary: "<p>Same body</p>"}
	c = CleanEntryContent(same, Options{})
	assert.Equal(t, "Same body", c.Summary)

	summaryOnly := feedparser.ParsedEntry{Summary: "<i>only</i>"}
	c = CleanEntryContent(summaryOnly, Options{})
	assert.Equal(t, "<i>only</i>", c.Original)
	assert.Equal(t, "only", c.Summary)

	assert.Equal(t, Cleaned{}, CleanEntryContent(feedparser.ParsedEntry{Title: "nothing"}, Options{}))
}

func TestCleanEntryContentAppliesRules(t *testing.T) {
	e := feedparser.ParsedEntry{Content: "<p>Published on March 1, 2024</p><p>Acme announced things.</p>"}

	c := CleanEntryContent(e, Options{FeedURL: "https://acme.example/newsroom/feed", Rules: DefaultRules()})
	assert.Equal(t, "<p>Acme announced things.</p>", c.Content)
	assert.Equal(t, e.Content, c.Original)
	assert.Equal(t, "Acme announced things.", c.Summary)

	c = CleanEntryContent(e, Options{FeedURL: "https://blog.example/feed", Rules: DefaultRules()})
	assert.Equal(t, e.Content, c.Content, "rule does not match this feed")

	plain := feedparser.ParsedEntry{Content: "Published on 2 Jan 2024. Body"}
	c = CleanEntryContent(plain, Options{FeedURL: "https://x.example/press/", Rules: DefaultRules()})
	assert.Equal(t, "Body", c.Content)
}

func TestParseAndLoadRules(t *testing.T) {
	doc := `
[[rule]]
name = "sponsor"
feed_pattern = "example\\.org"
pattern = "(?i)<p>sponsored</p>"
replace = ""
`
	rules, err := ParseRules(doc)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "<p>Body</p>", rules.Apply("https://example.org/feed", "<p>Sponsored</p><p>Body</p>"))
	assert.Equal(t, "<p>Sponsored</p>", rules.Apply("https://other.org/feed", "<p>Sponsored</p>"))

	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	loaded, err := LoadRules(path)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	_, err = ParseRules("[[rule]]\nname = \"bad\"\nfeed_pattern = \"(\"\n")
	assert.Error(t, err)
}

func TestProcessorClassifies(t *testing.T) {
	items := []feedparser.ParsedEntry{
		{GUID: "a", Link: "/a", Title: "A", Content: "<p>alpha <a href=\"x\">x</a></p>"},
		{GUID: "b", Content: "beta"},
		{GUID: "c", Content: "gamma v2"},
		{GUID: "a", Content: "duplicate"},
		{Content: "no identity"},
	}
	existing := map[string]string{
		"b": ContentHash("beta"),
		"c": ContentHash("gamma v1"),
	}

	out, skipped := NewProcessor(nil, 0).Process("https://example.com/feed.xml", items, existing)
	assert.Equal(t, 2, skipped)
	require.Len(t, out, 3)

	assert.Equal(t, StatusNew, out[0].Status)
	assert.Equal(t, "https://example.com/a", out[0].Link)
	assert.Contains(t, out[0].Content, `href="https://example.com/x"`)
	assert.Equal(t, ContentHash(out[0].Content), out[0].ContentHash)

	assert.Equal(t, StatusUnchanged, out[1].Status)
	assert.Equal(t, StatusUpdated, out[2].Status)
}
