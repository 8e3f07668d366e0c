package feedparser

import (
	"regexp"
	"strings"
	"time"
)

var numericLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 06 15:04:05 -0700",
	"Mon,2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	"Monday, 02-Jan-06 15:04:05 -0700",
	"Mon, 02 January 2006 15:04:05 -0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// namedLayouts are only tried once abbreviation substitution has failed.
// Unknown abbreviations parse as UTC.
var namedLayouts = []string{
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04 MST",
	"2 Jan 2006 15:04:05 MST",
	time.RFC850,
	time.UnixDate,
	time.ANSIC,
}

var zoneOffsets = map[string]string{
	"UT":   "+0000",
	"UTC":  "+0000",
	"GMT":  "+0000",
	"Z":    "+0000",
	"EST":  "-0500",
	"EDT":  "-0400",
	"CST":  "-0600",
	"CDT":  "-0500",
	"MST":  "-0700",
	"MDT":  "-0600",
	"PST":  "-0800",
	"PDT":  "-0700",
	"BST":  "+0100",
	"CET":  "+0100",
	"CEST": "+0200",
	"EET":  "+0200",
	"EEST": "+0300",
	"IST":  "+0530",
	"JST":  "+0900",
	"KST":  "+0900",
	"AEST": "+1000",
	"AEDT": "+1100",
	"NZST": "+1200",
	"NZDT": "+1300",
}

var trailingZone = regexp.MustCompile(`\s*\b([A-Za-z]{1,4})$`)

// ParseDate accepts RFC 2822, ISO 8601 and the usual variations found in
// feeds. Timezone abbreviations are replaced by numeric offsets before a
// second attempt. The result is in UTC.
func ParseDate(value string) (time.Time, bool) {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return time.Time{}, false
	}

	if t, ok := tryLayouts(value, numericLayouts); ok {
		return t, true
	}

	if m := trailingZone.FindStringSubmatchIndex(value); m != nil {
		abbr := strings.ToUpper(value[m[2]:m[3]])
		if offset, ok := zoneOffsets[abbr]; ok {
			substituted := strings.TrimSpace(value[:m[0]]) + " " + offset
			if t, ok := tryLayouts(substituted, numericLayouts); ok {
				return t, true
			}
		}
	}

	return tryLayouts(value, namedLayouts)
}

func tryLayouts(value string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseDatePtr(value string) *time.Time {
	if t, ok := ParseDate(value); ok {
		return &t
	}
	return nil
}
