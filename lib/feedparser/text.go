package feedparser

import (
	"regexp"
	"strconv"
	"strings"
)

// clean is the single normalisation applied to every text field once the
// format parser has decoded it: numeric references that survived decoding are
// resolved and surrounding whitespace is dropped.
func clean(s string) string {
	return strings.TrimSpace(DecodeNumericRefs(s))
}

var numericRef = regexp.MustCompile(`&#(?:[xX]([0-9a-fA-F]{1,6})|([0-9]{1,7}));`)

// DecodeNumericRefs decodes &#039; and &#x27; style references, which show up
// literally when a feed double-escapes its text.
func DecodeNumericRefs(s string) string {
	if !strings.Contains(s, "&#") {
		return s
	}
	return numericRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := numericRef.FindStringSubmatch(ref)
		var code uint64
		var err error
		if m[1] != "" {
			code, err = strconv.ParseUint(m[1], 16, 32)
		} else {
			code, err = strconv.ParseUint(m[2], 10, 32)
		}
		if err != nil || code == 0 || code > 0x10FFFF || (code >= 0xD800 && code <= 0xDFFF) {
			return ref
		}
		return string(rune(code))
	})
}
