package fetch

import (
	"strings"
)

const defaultAppName = "feedwatch"

// Identity describes who is fetching, for the User-Agent header. Origins use
// it to triage abusive or broken clients.
type Identity struct {
	AppName string
	Build   string // commit or release identifier
	Contact string // URL or mailto: address
}

// UserAgent renders the identity plus an optional per-feed debugging context,
// e.g. "feedwatch/4f2a9c1 (+https://ops.example.com; feed 42)".
func UserAgent(id Identity, feedContext string) string {
	var b strings.Builder

	name := strings.TrimSpace(id.AppName)
	if name == "" {
		name = defaultAppName
	}
	b.WriteString(name)
	if build := strings.TrimSpace(id.Build); build != "" {
		b.WriteString("/")
		b.WriteString(build)
	}

	var comments []string
	if contact := strings.TrimSpace(id.Contact); contact != "" {
		comments = append(comments, "+"+contact)
	}
	if ctx := sanitizeComment(feedContext); ctx != "" {
		comments = append(comments, ctx)
	}
	if len(comments) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(comments, "; "))
		b.WriteString(")")
	}
	return b.String()
}

// sanitizeComment drops characters that would break the header's comment syntax.
func sanitizeComment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '(' || r == ')' || r == ';':
			return -1
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
