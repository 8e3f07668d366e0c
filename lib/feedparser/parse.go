// Package feedparser normalises RSS, Atom and JSON Feed documents into a
// single ParsedFeed model. Parsing is lenient: unknown elements are ignored,
// encodings are converted from the XML declaration and broken trailing markup
// does not discard what was already read.
package feedparser

// ParseFeed sniffs the format of content and parses it. Failures are returned
// as *ParseError so callers can report the detected format.
func ParseFeed(content []byte) (*ParsedFeed, error) {
	kind := DetectFeedType(content)

	var (
		feed *ParsedFeed
		err  error
	)
	switch kind {
	case TypeRSS:
		feed, err = ParseRSS(content)
	case TypeAtom:
		feed, err = ParseAtom(content)
	case TypeJSON:
		feed, err = ParseJSON(content)
	default:
		err = ErrUnknownFormat
	}
	if err != nil {
		return nil, &ParseError{Type: kind, Err: err}
	}
	return feed, nil
}
