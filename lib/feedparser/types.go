package feedparser

import (
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypeRSS     Type = "rss"
	TypeAtom    Type = "atom"
	TypeJSON    Type = "json"
	TypeUnknown Type = "unknown"
)

var (
	ErrUnknownFormat  = errors.New("unknown feed format")
	ErrMissingTitle   = errors.New("feed has no title")
	ErrMissingChannel = errors.New("feed has no channel or root element")
)

// ParseError wraps a parse failure with the format that was detected.
type ParseError struct {
	Type Type
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s feed: %v", e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Syndication is the RSS syndication-module refresh hint.
type Syndication struct {
	UpdatePeriod    string
	UpdateFrequency int
}

type ParsedFeed struct {
	Type        Type
	Title       string
	Description string
	SiteURL     string
	IconURL     string
	HubURL      string
	SelfURL     string
	TTLMinutes  *int
	Syndication *Syndication
	Items       []ParsedEntry
}

// ParsedEntry fields are all optional; empty means absent.
type ParsedEntry struct {
	GUID    string
	Link    string
	Title   string
	Author  string
	Content string
	Summary string
	PubDate *time.Time
}
