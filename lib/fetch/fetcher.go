package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/feedwatch/lib/cacheheader"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 5
	DefaultMaxBodyBytes = 10 << 20

	acceptHeader = "application/rss+xml, application/atom+xml, application/feed+json, " +
		"application/rdf+xml;q=0.9, application/xml;q=0.9, text/xml;q=0.9, " +
		"application/json;q=0.8, */*;q=0.5"
)

var ErrMalformedRedirect = errors.New("redirect response without a usable Location")

// Options are per-request knobs. Zero values fall back to the defaults above.
type Options struct {
	ETag         string
	LastModified string

	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64

	// NoFollowRedirects reports the first redirect instead of following it:
	// 301/308 become PermanentRedirect, other redirects TooManyRedirects.
	NoFollowRedirects bool

	Identity    Identity
	FeedContext string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return o
}

// Fetcher performs conditional GETs and classifies every result into an Outcome.
type Fetcher struct {
	client *http.Client
	now    func() time.Time
}

// NewFetcher builds a Fetcher on top of transport. Redirects are never followed
// by the client itself so that every hop can be classified.
func NewFetcher(transport http.RoundTripper) *Fetcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		now: time.Now,
	}
}

type response struct {
	status      int
	header      http.Header
	body        []byte
	tooLarge    bool
	contentType string
}

// Fetch retrieves rawURL. It never returns an error: every failure mode is one
// of the Outcome variants.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) Outcome {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	hops := []RedirectHop{}
	current := rawURL

	for {
		res, err := f.get(ctx, current, opts)
		if err != nil {
			cat, timedOut := ClassifyTransportError(err)
			if ctx.Err() != nil {
				cat, timedOut = CategoryRequestTimeout, true
			}
			return NetworkError{chain: chain{hops}, TimedOut: timedOut, Category: cat, Err: err}
		}

		kind, isRedirect := redirectKind(res.status)
		if !isRedirect {
			return f.classify(res, current, hops)
		}

		next, err := resolveLocation(current, res.header.Get("Location"))
		if err != nil {
			return ClientError{
				chain:      chain{hops},
				StatusCode: res.status,
				Violation:  fmt.Sprintf("%d from %s: %v", res.status, current, err),
			}
		}

		if opts.NoFollowRedirects {
			if kind == RedirectPermanent {
				return PermanentRedirect{chain: chain{hops}, StatusCode: res.status, NewURL: next}
			}
			return TooManyRedirects{chain: chain{hops}, LastURL: current}
		}
		if len(hops) >= opts.MaxRedirects {
			return TooManyRedirects{chain: chain{hops}, LastURL: current}
		}

		hops = append(hops, RedirectHop{URL: next, Kind: kind, StatusCode: res.status})
		current = next
	}
}

func (f *Fetcher) get(ctx context.Context, target string, opts Options) (*response, error) {
	res := &response{}

	rb := requests.URL(target).
		Client(f.client).
		Header("Accept", acceptHeader).
		Header("User-Agent", UserAgent(opts.Identity, opts.FeedContext)).
		AddValidator(nil).
		Handle(func(r *http.Response) error {
			res.status = r.StatusCode
			res.header = r.Header
			res.contentType = r.Header.Get("Content-Type")
			if r.StatusCode != http.StatusOK {
				return nil
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, opts.MaxBodyBytes+1))
			if err != nil {
				return err
			}
			if int64(len(body)) > opts.MaxBodyBytes {
				res.tooLarge = true
				body = nil
			}
			res.body = body
			return nil
		})

	if opts.ETag != "" {
		rb.Header("If-None-Match", opts.ETag)
	}
	if opts.LastModified != "" {
		rb.Header("If-Modified-Since", opts.LastModified)
	}

	if err := rb.Fetch(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (f *Fetcher) classify(res *response, finalURL string, hops []RedirectHop) Outcome {
	c := chain{hops}
	status := res.status

	switch {
	case status == http.StatusNotModified:
		return NotModified{
			chain:        c,
			StatusCode:   status,
			FinalURL:     finalURL,
			CacheHeaders: cacheheader.FromResponse(res.header),
		}

	case status == http.StatusOK:
		if res.tooLarge {
			return ClientError{chain: c, StatusCode: status, Violation: "response body exceeds size limit"}
		}
		return Success{
			chain:        c,
			StatusCode:   status,
			Body:         res.body,
			ContentType:  res.contentType,
			FinalURL:     finalURL,
			CacheHeaders: cacheheader.FromResponse(res.header),
		}

	case status == http.StatusTooManyRequests:
		return RateLimited{chain: c, RetryAfterSeconds: ParseRetryAfter(res.header.Get("Retry-After"), f.now())}

	case status >= 400 && status <= 499:
		permanent := status == http.StatusNotFound || status == http.StatusGone
		return ClientError{chain: c, StatusCode: status, Permanent: permanent}

	case status >= 500 && status <= 599:
		return ServerError{chain: c, StatusCode: status, RetryAfterSeconds: ParseRetryAfter(res.header.Get("Retry-After"), f.now())}
	}

	return ClientError{chain: c, StatusCode: status}
}

func redirectKind(status int) (RedirectKind, bool) {
	switch status {
	case http.StatusMovedPermanently, http.StatusPermanentRedirect:
		return RedirectPermanent, true
	case http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		return RedirectTemporary, true
	}
	return "", false
}

func resolveLocation(base, location string) (string, error) {
	if location == "" {
		return "", ErrMalformedRedirect
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRedirect, err)
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRedirect, err)
	}
	next := b.ResolveReference(loc)
	if next.Scheme != "http" && next.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedRedirect, next.Scheme)
	}
	return next.String(), nil
}
