package fetch

import (
	"github.com/fiffu/feedwatch/lib/cacheheader"
)

type Kind string

const (
	KindSuccess           Kind = "success"
	KindNotModified       Kind = "not_modified"
	KindPermanentRedirect Kind = "permanent_redirect"
	KindClientError       Kind = "client_error"
	KindServerError       Kind = "server_error"
	KindRateLimited       Kind = "rate_limited"
	KindNetworkError      Kind = "network_error"
	KindTooManyRedirects  Kind = "too_many_redirects"
)

type RedirectKind string

const (
	RedirectPermanent RedirectKind = "permanent"
	RedirectTemporary RedirectKind = "temporary"
)

// RedirectHop is one followed redirect. URL is the hop's target.
type RedirectHop struct {
	URL        string
	Kind       RedirectKind
	StatusCode int
}

// Outcome is the result of one fetch attempt. It is implemented only by the
// variant types in this file; callers switch on the concrete type.
type Outcome interface {
	Kind() Kind
	Redirects() []RedirectHop
	outcome()
}

type chain struct {
	RedirectChain []RedirectHop
}

func (c chain) Redirects() []RedirectHop { return c.RedirectChain }
func (chain) outcome()                   {}

type Success struct {
	chain
	StatusCode   int
	Body         []byte
	ContentType  string
	FinalURL     string
	CacheHeaders cacheheader.Headers
}

type NotModified struct {
	chain
	StatusCode   int
	FinalURL     string
	CacheHeaders cacheheader.Headers
}

type PermanentRedirect struct {
	chain
	StatusCode int
	NewURL     string
}

type ClientError struct {
	chain
	StatusCode int
	Permanent  bool

	// Violation is set when the error stands in for a protocol violation
	// rather than a 4xx answer from the origin.
	Violation string
}

type ServerError struct {
	chain
	StatusCode        int
	RetryAfterSeconds *int
}

type RateLimited struct {
	chain
	RetryAfterSeconds *int
}

type NetworkError struct {
	chain
	TimedOut bool
	Category ErrorCategory
	Err      error
}

type TooManyRedirects struct {
	chain
	LastURL string
}

func (Success) Kind() Kind           { return KindSuccess }
func (NotModified) Kind() Kind       { return KindNotModified }
func (PermanentRedirect) Kind() Kind { return KindPermanentRedirect }
func (ClientError) Kind() Kind       { return KindClientError }
func (ServerError) Kind() Kind       { return KindServerError }
func (RateLimited) Kind() Kind       { return KindRateLimited }
func (NetworkError) Kind() Kind      { return KindNetworkError }
func (TooManyRedirects) Kind() Kind  { return KindTooManyRedirects }

// AllPermanent reports whether every hop of a non-empty chain was a permanent
// redirect, i.e. the final URL may be stored as the feed's canonical URL.
func AllPermanent(hops []RedirectHop) bool {
	if len(hops) == 0 {
		return false
	}
	for _, h := range hops {
		if h.Kind != RedirectPermanent {
			return false
		}
	}
	return true
}

// Violation returns the protocol-violation description carried by o, if any.
func Violation(o Outcome) string {
	switch v := o.(type) {
	case ClientError:
		return v.Violation
	case TooManyRedirects:
		return "too many redirects"
	}
	return ""
}
