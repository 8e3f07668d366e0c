package cacheheader

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/pquerna/cachecontrol/cacheobject"
)

// Directives is the parsed form of a Cache-Control header.
type Directives struct {
	MaxAge         *int // seconds
	SMaxAge        *int // seconds
	NoStore        bool
	NoCache        bool
	Private        bool
	Public         bool
	MustRevalidate bool
	Immutable      bool

	// Extensions holds directives this package does not interpret.
	Extensions map[string]string
}

// Headers collects the caching-related response headers of one fetch.
type Headers struct {
	CacheControl *Directives // nil when the response carried no Cache-Control header
	ETag         string
	LastModified string
}

// EffectiveMaxAge returns the freshness lifetime in seconds that a shared cache
// would use. s-maxage wins over max-age; no-store voids both.
func (d Directives) EffectiveMaxAge() (int, bool) {
	if d.NoStore {
		return 0, false
	}
	if d.SMaxAge != nil {
		return *d.SMaxAge, true
	}
	if d.MaxAge != nil {
		return *d.MaxAge, true
	}
	return 0, false
}

// interpreted lists the directives that map onto Directives fields; the rest
// are kept as extensions.
var interpreted = map[string]bool{
	"max-age":         true,
	"s-maxage":        true,
	"no-store":        true,
	"no-cache":        true,
	"private":         true,
	"public":          true,
	"must-revalidate": true,
	"immutable":       true,
}

// ParseCacheControl parses a Cache-Control header value. Unknown directives are
// kept in Extensions, malformed numeric values are ignored, and when a
// directive repeats the first occurrence wins.
func ParseCacheControl(header string) Directives {
	d := Directives{}
	seen := make(map[string]bool)

	for _, part := range splitDirectives(header) {
		name, value, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = unquote(strings.TrimSpace(value))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		if !interpreted[name] {
			if d.Extensions == nil {
				d.Extensions = make(map[string]string)
			}
			d.Extensions[name] = value
			continue
		}

		// One directive at a time, so a malformed one does not void the header.
		token := name
		if name == "max-age" || name == "s-maxage" {
			token = name + "=" + clampDelta(value)
		}
		cd, err := cacheobject.ParseResponseCacheControl(token)
		if err != nil || cd == nil {
			continue
		}
		d.merge(cd)
	}
	return d
}

func (d *Directives) merge(cd *cacheobject.ResponseCacheDirectives) {
	if cd.MaxAge >= 0 {
		d.MaxAge = seconds(cd.MaxAge)
	}
	if cd.SMaxAge >= 0 {
		d.SMaxAge = seconds(cd.SMaxAge)
	}
	d.NoStore = d.NoStore || cd.NoStore
	d.NoCache = d.NoCache || cd.NoCachePresent
	d.Private = d.Private || cd.PrivatePresent
	d.Public = d.Public || cd.Public
	d.MustRevalidate = d.MustRevalidate || cd.MustRevalidate
	d.Immutable = d.Immutable || cd.Immutable
}

func seconds(delta cacheobject.DeltaSeconds) *int {
	n := int(delta)
	return &n
}

// clampDelta caps an all-digit delta-seconds value at 2^31-1, the largest
// value a cache has to represent.
func clampDelta(value string) string {
	if value == "" || strings.Trim(value, "0123456789") != "" {
		return value
	}
	if n, err := strconv.ParseUint(value, 10, 64); err != nil || n > math.MaxInt32 {
		return strconv.Itoa(math.MaxInt32)
	}
	return value
}

// FromResponse extracts the caching headers of a response.
func FromResponse(h http.Header) Headers {
	out := Headers{
		ETag:         strings.TrimSpace(h.Get("ETag")),
		LastModified: strings.TrimSpace(h.Get("Last-Modified")),
	}
	if values := h.Values("Cache-Control"); len(values) > 0 {
		d := ParseCacheControl(strings.Join(values, ","))
		out.CacheControl = &d
	}
	return out
}

// splitDirectives splits on commas that are not inside a quoted string, e.g.
// `no-cache="Set-Cookie, Vary", max-age=60`.
func splitDirectives(header string) []string {
	var parts []string
	var buf strings.Builder
	quoted := false
	escaped := false

	for _, r := range header {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			if s := strings.TrimSpace(buf.String()); s != "" {
				parts = append(parts, s)
			}
			buf.Reset()
			continue
		}
		buf.WriteRune(r)
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `\"`, `"`)
	}
	return s
}
