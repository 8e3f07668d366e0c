package entry

import (
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiffu/feedwatch/lib/feedparser"
)

var ErrNoIdentity = errors.New("entry has no guid, link, title or date")

// DeriveGUID returns the declared GUID, else the link, else a hash over title,
// link and publication date.
func DeriveGUID(e feedparser.ParsedEntry) (string, error) {
	if guid := strings.TrimSpace(e.GUID); guid != "" {
		return guid, nil
	}
	if link := strings.TrimSpace(e.Link); link != "" {
		return link, nil
	}

	title := strings.TrimSpace(e.Title)
	var published string
	if e.PubDate != nil {
		published = e.PubDate.UTC().Format(time.RFC3339)
	}
	if title == "" && published == "" {
		return "", ErrNoIdentity
	}
	sum := sha256.Sum256([]byte(title + "\n" + strings.TrimSpace(e.Link) + "\n" + published))
	return fmt.Sprintf("sha256:%x", sum), nil
}

// ContentHash fingerprints entry content for edit detection.
func ContentHash(content string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(content)))
}
