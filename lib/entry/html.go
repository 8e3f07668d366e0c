package entry

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
)

var urlAttributes = []string{"href", "src", "poster"}

// parseFragment parses markup as the content of a body element and hangs the
// result off a detached div.
func parseFragment(content string) (*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(content), body)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

func renderChildren(root *html.Node) (string, error) {
	buf := new(bytes.Buffer)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// RewriteRelativeURLs resolves href, src and poster attributes against base.
// Content comes back untouched when nothing needed resolving or base is not
// an absolute URL.
func RewriteRelativeURLs(content, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() || content == "" {
		return content
	}
	root, err := parseFragment(content)
	if err != nil {
		return content
	}

	changed := false
	for _, n := range htmlquery.Find(root, "//*[@href or @src or @poster]") {
		for i, a := range n.Attr {
			if !isURLAttribute(a.Key) {
				continue
			}
			if resolved, ok := resolve(baseURL, a.Val); ok {
				n.Attr[i].Val = resolved
				changed = true
			}
		}
	}
	if !changed {
		return content
	}

	out, err := renderChildren(root)
	if err != nil {
		return content
	}
	return out
}

func isURLAttribute(key string) bool {
	for _, k := range urlAttributes {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true, atom.Td: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Hr: true, atom.Section: true, atom.Article: true,
	atom.Figcaption: true, atom.Dd: true, atom.Dt: true,
}

// ExtractText flattens markup into a single line of text.
func ExtractText(content string) string {
	root, err := parseFragment(content)
	if err != nil {
		return compactWhitespace(content)
	}
	return digForText(root)
}

func digForText(n *html.Node) string {
	if n == nil {
		return ""
	}
	buf := new(bytes.Buffer)
	dig(n, buf)
	return compactWhitespace(buf.String())
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	switch n.Type {
	case html.TextNode:
		buf.WriteString(n.Data)
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
	if n.Type == html.ElementNode && blockElements[n.DataAtom] {
		buf.WriteByte(' ')
	}
}

func compactWhitespace(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ")
	return s
}
