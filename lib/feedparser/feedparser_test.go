package feedparser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rss2 = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"
  xmlns:content="http://purl.org/rss/1.0/modules/content/"
  xmlns:dc="http://purl.org/dc/elements/1.1/"
  xmlns:atom="http://www.w3.org/2005/Atom"
  xmlns:sy="http://purl.org/rss/1.0/modules/syndication/">
<channel>
  <title>Example &amp; Co</title>
  <link>https://example.com/</link>
  <description>News from example</description>
  <ttl>90</ttl>
  <sy:updatePeriod>hourly</sy:updatePeriod>
  <sy:updateFrequency>2</sy:updateFrequency>
  <atom:link rel="hub" href="https://hub.example.com/"/>
  <atom:link rel="self" href="https://example.com/feed.xml" type="application/rss+xml"/>
  <image><url>https://example.com/icon.png</url></image>
  <item>
    <title>First post</title>
    <link>https://example.com/1</link>
    <description>Short teaser</description>
    <content:encoded><![CDATA[<p>The full <b>body</b></p>]]></content:encoded>
    <dc:creator>Jane</dc:creator>
    <author>jane@example.com</author>
    <guid isPermaLink="false"><![CDATA[tag:example.com,2024:1]]></guid>
    <pubDate>Fri, 01 Mar 2024 10:00:00 EST</pubDate>
    <unknown:thing xmlns:unknown="urn:x">ignored</unknown:thing>
  </item>
  <item>
    <title>It&amp;#039;s here</title>
    <description>Only a description</description>
    <guid>https://example.com/2</guid>
    <dc:date>2024-03-02T08:30:00Z</dc:date>
  </item>
</channel>
</rss>`

func TestParseRSS2(t *testing.T) {
	feed, err := ParseFeed([]byte(rss2))
	require.NoError(t, err)

	assert.Equal(t, TypeRSS, feed.Type)
	assert.Equal(t, "Example & Co", feed.Title)
	assert.Equal(t, "News from example", feed.Description)
	assert.Equal(t, "https://example.com/", feed.SiteURL)
	assert.Equal(t, "https://example.com/icon.png", feed.IconURL)
	assert.Equal(t, "https://hub.example.com/", feed.HubURL)
	assert.Equal(t, "https://example.com/feed.xml", feed.SelfURL)
	require.NotNil(t, feed.TTLMinutes)
	assert.Equal(t, 90, *feed.TTLMinutes)
	assert.Equal(t, &Syndication{UpdatePeriod: "hourly", UpdateFrequency: 2}, feed.Syndication)

	require.Len(t, feed.Items, 2)
	first := feed.Items[0]
	assert.Equal(t, "<p>The full <b>body</b></p>", first.Content)
	assert.Equal(t, "Short teaser", first.Summary)
	assert.Equal(t, "Jane", first.Author)
	assert.Equal(t, "tag:example.com,2024:1", first.GUID)
	assert.Equal(t, "https://example.com/1", first.Link)
	require.NotNil(t, first.PubDate)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC), *first.PubDate)

	second := feed.Items[1]
	assert.Equal(t, "It's here", second.Title)
	assert.Equal(t, "Only a description", second.Content)
	assert.Equal(t, second.Content, second.Summary)
	assert.Equal(t, "https://example.com/2", second.Link, "permalink guid doubles as link")
	require.NotNil(t, second.PubDate)
	assert.Equal(t, time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC), *second.PubDate)
}

func TestParseRSSWithoutNamespaceDeclarations(t *testing.T) {
	doc := `<rss><channel><title>Loose</title>
	<item><title>Only</title><content:encoded>full</content:encoded><description>short</description></item>
	</channel></rss>`

	feed, err := ParseFeed([]byte(doc))
	require.NoError(t, err)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, "full", feed.Items[0].Content)
	assert.Equal(t, "short", feed.Items[0].Summary)
	assert.Nil(t, feed.TTLMinutes)
	assert.Nil(t, feed.Syndication)
}

func TestParseRDF(t *testing.T) {
	doc := `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
         xmlns="http://purl.org/rss/1.0/"
         xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel rdf:about="https://example.org/">
    <title>RDF Feed</title>
    <link>https://example.org/</link>
    <description>old school</description>
  </channel>
  <image rdf:about="https://example.org/logo.gif"><url>https://example.org/logo.gif</url></image>
  <item rdf:about="https://example.org/a">
    <title>A</title>
    <link>https://example.org/a</link>
    <dc:creator>Bob</dc:creator>
    <dc:date>2024-01-05T12:00:00+01:00</dc:date>
  </item>
  <item rdf:about="https://example.org/b">
    <title>B</title>
    <link>https://example.org/b</link>
  </item>
</rdf:RDF>`

	feed, err := ParseFeed([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, TypeRSS, feed.Type)
	assert.Equal(t, "RDF Feed", feed.Title)
	assert.Equal(t, "https://example.org/logo.gif", feed.IconURL)
	require.Len(t, feed.Items, 2)
	assert.Equal(t, "Bob", feed.Items[0].Author)
	assert.Equal(t, "https://example.org/a", feed.Items[0].Link)
	require.NotNil(t, feed.Items[0].PubDate)
	assert.Equal(t, time.Date(2024, 1, 5, 11, 0, 0, 0, time.UTC), *feed.Items[0].PubDate)
}

func TestParseRSSFailures(t *testing.T) {
	_, err := ParseFeed([]byte(`<rss version="2.0"><channel><link>x</link></channel></rss>`))
	assert.ErrorIs(t, err, ErrMissingTitle)

	_, err = ParseFeed([]byte(`<rss version="2.0"></rss>`))
	assert.ErrorIs(t, err, ErrMissingChannel)

	_, err = ParseFeed([]byte(`<html><body>nope</body></html>`))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, TypeUnknown, perr.Type)
}

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title type="text">Atom Example</title>
  <subtitle>Things happen</subtitle>
  <link href="https://example.net/"/>
  <link rel="self" href="https://example.net/atom.xml"/>
  <link rel="hub" href="https://pubsub.example.net/"/>
  <logo>https://example.net/logo.png</logo>
  <author><name>Feed Author</name></author>
  <id>urn:uuid:feed</id>
  <updated>2024-03-01T00:00:00Z</updated>
  <entry>
    <title type="html">Caf&#233; &amp;#x27;news&amp;#x27;</title>
    <link rel="alternate" href="https://example.net/e1"/>
    <link rel="replies" href="https://example.net/e1#comments"/>
    <id>urn:uuid:e1</id>
    <published>2024-02-28T09:00:00Z</published>
    <updated>2024-02-29T09:00:00Z</updated>
    <author><name>Alice</name></author>
    <author><name>Carol</name></author>
    <summary>Short</summary>
    <content type="xhtml"><div xmlns="http://www.w3.org/1999/xhtml"><p>Hello <a href="/x">world</a></p></div></content>
  </entry>
  <entry>
    <title>Linked out</title>
    <id>urn:uuid:e2</id>
    <updated>2024-02-27T09:00:00Z</updated>
    <summary>Teaser only</summary>
    <content src="https://example.net/e2.html" type="text/html"/>
  </entry>
  <entry>
    <title>No summary either</title>
    <id>urn:uuid:e3</id>
    <content src="https://example.net/e3.html"/>
  </entry>
</feed>`

func TestParseAtom(t *testing.T) {
	feed, err := ParseFeed([]byte(atomDoc))
	require.NoError(t, err)

	assert.Equal(t, TypeAtom, feed.Type)
	assert.Equal(t, "Atom Example", feed.Title)
	assert.Equal(t, "Things happen", feed.Description)
	assert.Equal(t, "https://example.net/", feed.SiteURL)
	assert.Equal(t, "https://example.net/atom.xml", feed.SelfURL)
	assert.Equal(t, "https://pubsub.example.net/", feed.HubURL)
	assert.Equal(t, "https://example.net/logo.png", feed.IconURL)

	require.Len(t, feed.Items, 3)
	e1 := feed.Items[0]
	assert.Equal(t, "Café 'news'", e1.Title)
	assert.Equal(t, "https://example.net/e1", e1.Link)
	assert.Equal(t, "urn:uuid:e1", e1.GUID)
	assert.Equal(t, "Alice", e1.Author)
	assert.Equal(t, "Short", e1.Summary)
	assert.Equal(t, `<p>Hello <a href="/x">world</a></p>`, e1.Content)
	require.NotNil(t, e1.PubDate)
	assert.Equal(t, time.Date(2024, 2, 28, 9, 0, 0, 0, time.UTC), *e1.PubDate)

	e2 := feed.Items[1]
	assert.Equal(t, "Teaser only", e2.Content, "out-of-line content falls back to summary")
	assert.Equal(t, "Feed Author", e2.Author)
	assert.Empty(t, e2.Link)

	e3 := feed.Items[2]
	assert.Empty(t, e3.Content)
	assert.Nil(t, e3.PubDate)
}

func TestParseAtomMissingTitle(t *testing.T) {
	_, err := ParseFeed([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"><entry><id>x</id></entry></feed>`))
	assert.ErrorIs(t, err, ErrMissingTitle)
}

func TestParseJSONFeed(t *testing.T) {
	doc := `{
	  "version": "https://jsonfeed.org/version/1.1",
	  "title": "JSON Example",
	  "home_page_url": "https://example.io/",
	  "feed_url": "https://example.io/feed.json",
	  "hubs": [{"type": "WebSub", "url": "https://hub.example.io/"}],
	  "authors": [{"name": "Dana"}],
	  "items": [
	    {"id": "1", "url": "https://example.io/1", "title": "One",
	     "content_html": "<p>one</p>", "summary": "first",
	     "date_published": "2024-04-01T10:00:00-07:00"},
	    {"id": "2", "content_text": "plain"}
	  ]
	}`

	feed, err := ParseFeed([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, TypeJSON, feed.Type)
	assert.Equal(t, "JSON Example", feed.Title)
	assert.Equal(t, "https://hub.example.io/", feed.HubURL)
	assert.Equal(t, "https://example.io/feed.json", feed.SelfURL)
	require.Len(t, feed.Items, 2)
	assert.Equal(t, "<p>one</p>", feed.Items[0].Content)
	assert.Equal(t, "first", feed.Items[0].Summary)
	assert.Equal(t, "Dana", feed.Items[0].Author)
	require.NotNil(t, feed.Items[0].PubDate)
	assert.Equal(t, time.Date(2024, 4, 1, 17, 0, 0, 0, time.UTC), *feed.Items[0].PubDate)
	assert.Equal(t, "plain", feed.Items[1].Content)
}

func TestParseJSONFeedNumericIDs(t *testing.T) {
	doc := `{
	  "version": "https://jsonfeed.org/version/1",
	  "title": "Numbered",
	  "hubs": "not a list",
	  "items": [{"id": 42, "content_text": "a"}, {"id": "x-1", "content_text": "b"}]
	}`

	feed, err := ParseFeed([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, feed.HubURL)
	require.Len(t, feed.Items, 2)
	assert.Equal(t, "42", feed.Items[0].GUID)
	assert.Equal(t, "x-1", feed.Items[1].GUID)
}

func TestParseRSSHubUnderAnyAtomPrefix(t *testing.T) {
	doc := `<rss version="2.0" xmlns:a10="http://www.w3.org/2005/Atom"><channel>
	<title>Prefixed</title>
	<a10:link rel="self" href="https://example.com/rss"/>
	<a10:link rel="hub" href="https://hub.example.com/"/>
	</channel></rss>`

	feed, err := ParseFeed([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "https://hub.example.com/", feed.HubURL)
	assert.Equal(t, "https://example.com/rss", feed.SelfURL)
	assert.Empty(t, feed.Items)
}

func TestParseIsIdempotent(t *testing.T) {
	for _, doc := range []string{rss2, atomDoc} {
		a, err := ParseFeed([]byte(doc))
		require.NoError(t, err)
		b, err := ParseFeed([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestDetectFeedType(t *testing.T) {
	cases := []struct {
		doc  string
		want Type
	}{
		{"\xef\xbb\xbf  <?xml version=\"1.0\"?><rss><channel/></rss>", TypeRSS},
		{`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"/>`, TypeRSS},
		{`<!-- c --><feed xmlns="http://www.w3.org/2005/Atom"/>`, TypeAtom},
		{`{"version":"https://jsonfeed.org/version/1","items":[]}`, TypeJSON},
		{`{"hello":"world"}`, TypeUnknown},
		{`<html></html>`, TypeUnknown},
		{``, TypeUnknown},
		{`plain text`, TypeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectFeedType([]byte(tc.doc)), tc.doc)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)
	for _, in := range []string{
		"Fri, 01 Mar 2024 15:04:05 +0000",
		"Fri, 1 Mar 2024 15:04:05 GMT",
		"Fri, 01 Mar 2024 10:04:05 EST",
		"Fri, 01 Mar 2024 07:04:05 PST",
		"  Fri,  01 Mar 2024 16:04:05 CET ",
		"2024-03-01T15:04:05Z",
		"2024-03-01T17:04:05+02:00",
		"2024-03-01 15:04:05",
		"1 Mar 2024 15:04:05 +0000",
	} {
		got, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseDate("yesterday-ish")
	assert.False(t, ok)
	_, ok = ParseDate("")
	assert.False(t, ok)
}

func TestDecodeNumericRefs(t *testing.T) {
	assert.Equal(t, "it's 'quoted'", DecodeNumericRefs("it&#039;s &#x27;quoted&#X27;"))
	assert.Equal(t, "&#0; &#xD800;", DecodeNumericRefs("&#0; &#xD800;"))
	assert.Equal(t, "no refs", DecodeNumericRefs("no refs"))
}

func TestParseTruncatedDocumentKeepsItems(t *testing.T) {
	doc := `<rss><channel><title>Cut</title><item><title>kept</title></item><item><title>half`
	feed, err := ParseFeed([]byte(doc))
	require.NoError(t, err)
	require.NotEmpty(t, feed.Items)
	assert.Equal(t, "kept", feed.Items[0].Title)
}

func TestParseLatin1Declared(t *testing.T) {
	doc := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><rss><channel><title>Caf`), 0xE9)
	doc = append(doc, []byte(`</title></channel></rss>`)...)
	feed, err := ParseFeed(doc)
	require.NoError(t, err)
	assert.Equal(t, "Café", feed.Title)
}
