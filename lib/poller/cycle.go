package poller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fiffu/feedwatch/lib/cacheheader"
	"github.com/fiffu/feedwatch/lib/entry"
	"github.com/fiffu/feedwatch/lib/feedparser"
	"github.com/fiffu/feedwatch/lib/fetch"
	"github.com/fiffu/feedwatch/lib/metrics"
	"github.com/fiffu/feedwatch/lib/models"
	"github.com/fiffu/feedwatch/lib/schedule"
	"github.com/fiffu/feedwatch/lib/store"
)

// CycleResult summarises one fetch cycle.
type CycleResult struct {
	Outcome   fetch.Kind
	New       int
	Updated   int
	Unchanged int
	Skipped   int
	Schedule  schedule.Result

	// ParseErr is set when a successful fetch returned an unparseable body.
	ParseErr error
	// Permanent failures are only retried at the maximum interval.
	Permanent bool
}

func (r *CycleResult) Failed() bool {
	if r.ParseErr != nil {
		return true
	}
	return r.Outcome != fetch.KindSuccess && r.Outcome != fetch.KindNotModified
}

// RunCycle fetches one feed now, regardless of its next fetch time. It waits
// for any cycle or push delivery already running for the feed.
func (p *Poller) RunCycle(ctx context.Context, feedID uint) (*CycleResult, error) {
	lock := p.feedLock(feedID)
	lock.Lock()
	defer lock.Unlock()

	feed, err := p.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	return p.runCycle(ctx, feed)
}

// runCycle must be called with the feed's lock held.
func (p *Poller) runCycle(ctx context.Context, feed *models.Feed) (*CycleResult, error) {
	observeCycle(1)
	defer observeCycle(-1)

	opts := p.cfg.Fetch
	opts.ETag = feed.ETag
	opts.LastModified = feed.LastModified
	opts.FeedContext = fmt.Sprintf("feed %d", feed.ID)

	started := time.Now()
	outcome := p.fetcher.Fetch(ctx, feed.URL, opts)
	metrics.FetchDuration.Observe(time.Since(started).Seconds())
	metrics.FetchOutcomes.WithLabelValues(string(outcome.Kind())).Inc()

	now := p.cfg.Now()
	res := &CycleResult{Outcome: outcome.Kind()}
	feed.LastFetchedAt = sql.NullTime{Time: now, Valid: true}
	feed.LastOutcome = string(outcome.Kind())
	feed.LastError = ""

	var (
		cache     *cacheheader.Directives
		parsed    *feedparser.ParsedFeed
		processed []entry.Processed
		permanent bool
	)

	switch o := outcome.(type) {
	case fetch.Success:
		cache = o.CacheHeaders.CacheControl

		var err error
		parsed, err = feedparser.ParseFeed(o.Body)
		if err != nil {
			// Validators are stored only for bodies that parsed.
			if errors.Is(err, feedparser.ErrUnknownFormat) {
				p.violation(feed, err.Error())
			}
			feed.LastError = err.Error()
			res.ParseErr = err
			permanent = true
			break
		}
		updateValidators(feed, o.CacheHeaders)
		if fetch.AllPermanent(o.Redirects()) {
			p.adoptURL(ctx, feed, o.FinalURL)
		}
		processed, err = p.ingest(ctx, feed, parsed, res)
		if err != nil {
			return nil, err
		}

	case fetch.NotModified:
		cache = o.CacheHeaders.CacheControl
		updateValidators(feed, o.CacheHeaders)
		if fetch.AllPermanent(o.Redirects()) {
			p.adoptURL(ctx, feed, o.FinalURL)
		}

	case fetch.PermanentRedirect:
		p.adoptURL(ctx, feed, o.NewURL)

	case fetch.ClientError:
		if o.Violation != "" {
			p.violation(feed, o.Violation)
			feed.LastError = o.Violation
		} else {
			feed.LastError = fmt.Sprintf("HTTP %d", o.StatusCode)
		}
		permanent = o.Permanent

	case fetch.ServerError:
		feed.LastError = fmt.Sprintf("HTTP %d", o.StatusCode)

	case fetch.RateLimited:
		feed.LastError = "rate limited"

	case fetch.NetworkError:
		feed.LastError = fmt.Sprintf("%s: %v", o.Category, o.Err)

	case fetch.TooManyRedirects:
		p.violation(feed, fetch.Violation(o))
		feed.LastError = fmt.Sprintf("too many redirects after %s", o.LastURL)
	}

	res.Permanent = permanent
	switch {
	case permanent:
		feed.ConsecutiveFailures = max(feed.ConsecutiveFailures+1, schedule.MaxFailureCount)
	case res.Failed():
		feed.ConsecutiveFailures++
	default:
		feed.ConsecutiveFailures = 0
	}

	res.Schedule = p.scheduler.CalculateNextFetch(schedule.Input{
		CacheControl:            cache,
		Hints:                   hintsOf(feed),
		ConsecutiveFailureCount: feed.ConsecutiveFailures,
		PushSubscriptionActive:  p.push.IsActive(ctx, feed.ID),
		ReferenceTime:           now,
	})
	next := res.Schedule.NextFetchAt
	if fetch.ShouldRetry(outcome) {
		if retryAt := now.Add(fetch.RetryDelay(outcome, feed.ConsecutiveFailures-1)); retryAt.After(next) {
			next = retryAt
		}
	}
	feed.NextFetchAt = next.UTC()
	feed.ScheduleReason = string(res.Schedule.Reason)
	metrics.ScheduleReasons.WithLabelValues(feed.ScheduleReason).Inc()

	if err := p.store.SaveCycle(ctx, feed, processed); err != nil {
		return nil, err
	}

	p.log.Sugar().Infow("Feed cycle completed",
		"feed_id", feed.ID,
		"url", feed.URL,
		"outcome", feed.LastOutcome,
		"new", res.New,
		"updated", res.Updated,
		"reason", feed.ScheduleReason,
		"next_fetch_at", feed.NextFetchAt,
	)

	if parsed != nil {
		p.discover(ctx, feed, parsed)
	}
	return res, nil
}

// ApplyDelivery treats a verified push payload as the body of a successful
// fetch. Only entries and feed metadata change; the schedule is untouched.
func (p *Poller) ApplyDelivery(ctx context.Context, feedID uint, body []byte, contentType string) error {
	lock := p.feedLock(feedID)
	lock.Lock()
	defer lock.Unlock()

	feed, err := p.store.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}

	parsed, err := feedparser.ParseFeed(body)
	if err != nil {
		p.log.Sugar().Warnw("Discarding unparseable push delivery",
			"feed_id", feedID, "content_type", contentType, "err", err)
		return err
	}

	res := &CycleResult{Outcome: fetch.KindSuccess}
	processed, err := p.ingest(ctx, feed, parsed, res)
	if err != nil {
		return err
	}
	if err := p.store.SaveCycle(ctx, feed, processed); err != nil {
		return err
	}

	p.log.Sugar().Infow("Push delivery applied", "feed_id", feedID, "new", res.New, "updated", res.Updated)
	return nil
}

// ingest copies feed metadata and hints from parsed and classifies its items.
func (p *Poller) ingest(ctx context.Context, feed *models.Feed, parsed *feedparser.ParsedFeed, res *CycleResult) ([]entry.Processed, error) {
	existing, err := p.store.ExistingHashes(ctx, feed.ID)
	if err != nil {
		return nil, err
	}
	processed, skipped := p.processor.Process(feed.URL, parsed.Items, existing)

	res.Skipped = skipped
	for _, e := range processed {
		switch e.Status {
		case entry.StatusNew:
			res.New++
		case entry.StatusUpdated:
			res.Updated++
		case entry.StatusUnchanged:
			res.Unchanged++
		}
		metrics.Entries.WithLabelValues(string(e.Status)).Inc()
	}
	if skipped > 0 {
		metrics.Entries.WithLabelValues("skipped").Add(float64(skipped))
	}

	feed.Title = parsed.Title
	if parsed.SiteURL != "" {
		feed.SiteURL = parsed.SiteURL
	}
	if parsed.IconURL != "" {
		feed.IconURL = parsed.IconURL
	}
	feed.HubURL = parsed.HubURL
	feed.SelfURL = parsed.SelfURL

	feed.TTLMinutes = sql.NullInt32{}
	if parsed.TTLMinutes != nil {
		feed.TTLMinutes = sql.NullInt32{Int32: int32(*parsed.TTLMinutes), Valid: true}
	}
	feed.SyndicationPeriod, feed.SyndicationFrequency = "", 0
	if s := parsed.Syndication; s != nil {
		feed.SyndicationPeriod, feed.SyndicationFrequency = s.UpdatePeriod, s.UpdateFrequency
	}
	return processed, nil
}

func (p *Poller) discover(ctx context.Context, feed *models.Feed, parsed *feedparser.ParsedFeed) {
	topic := parsed.SelfURL
	if topic == "" {
		topic = feed.URL
	}
	if err := p.push.Discovered(ctx, feed.ID, parsed.HubURL, topic); err != nil {
		p.log.Sugar().Warnw("Push subscription update failed", "feed_id", feed.ID, "hub", parsed.HubURL, "err", err)
	}
}

// adoptURL moves the feed to its new canonical URL unless another feed
// already owns that URL.
func (p *Poller) adoptURL(ctx context.Context, feed *models.Feed, newURL string) {
	if newURL == "" || newURL == feed.URL {
		return
	}
	other, err := p.store.FindFeedByURL(ctx, newURL)
	switch {
	case err == nil:
		p.log.Sugar().Warnw("Permanent redirect to a URL already tracked",
			"feed_id", feed.ID, "url", feed.URL, "new_url", newURL, "other_feed_id", other.ID)
	case errors.Is(err, store.ErrNotFound):
		p.log.Sugar().Infow("Feed moved permanently", "feed_id", feed.ID, "url", feed.URL, "new_url", newURL)
		feed.URL = newURL
	default:
		p.log.Sugar().Errorw("Failed to check redirect target", "feed_id", feed.ID, "err", err)
	}
}

func (p *Poller) violation(feed *models.Feed, detail string) {
	metrics.ProtocolViolations.Inc()
	p.log.Sugar().Warnw("Protocol violation", "feed_id", feed.ID, "url", feed.URL, "violation", detail)
}

// Validators are only replaced when the response carries new ones.
func updateValidators(feed *models.Feed, h cacheheader.Headers) {
	if h.ETag != "" {
		feed.ETag = h.ETag
	}
	if h.LastModified != "" {
		feed.LastModified = h.LastModified
	}
}

func hintsOf(feed *models.Feed) schedule.Hints {
	var h schedule.Hints
	if feed.TTLMinutes.Valid {
		ttl := int(feed.TTLMinutes.Int32)
		h.TTLMinutes = &ttl
	}
	if feed.SyndicationPeriod != "" {
		h.Syndication = &feedparser.Syndication{
			UpdatePeriod:    feed.SyndicationPeriod,
			UpdateFrequency: feed.SyndicationFrequency,
		}
	}
	return h
}
