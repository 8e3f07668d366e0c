// Package schedule decides when a feed should be fetched next.
package schedule

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/fiffu/feedwatch/lib/cacheheader"
	"github.com/fiffu/feedwatch/lib/feedparser"
)

type Reason string

const (
	ReasonFailureBackoff Reason = "failure_backoff"
	ReasonWebSubBackup   Reason = "websub_backup"

	ReasonCacheControl           Reason = "cache_control"
	ReasonCacheControlClampedMin Reason = "cache_control_clamped_min"
	ReasonCacheControlClampedMax Reason = "cache_control_clamped_max"

	ReasonFeedTTL           Reason = "feed_ttl"
	ReasonFeedTTLClampedMin Reason = "feed_ttl_clamped_min"
	ReasonFeedTTLClampedMax Reason = "feed_ttl_clamped_max"

	ReasonSyndication           Reason = "syndication"
	ReasonSyndicationClampedMin Reason = "syndication_clamped_min"
	ReasonSyndicationClampedMax Reason = "syndication_clamped_max"

	ReasonDefault           Reason = "default"
	ReasonDefaultClampedMin Reason = "default_clamped_min"
	ReasonDefaultClampedMax Reason = "default_clamped_max"
)

const (
	MaxInterval        = 7 * 24 * time.Hour
	PushBackupInterval = 24 * time.Hour
	FailureBase        = 30 * time.Minute
	MaxFailureCount    = 10

	jitterFraction = 0.1
	jitterCap      = 30 * time.Minute
)

// Config carries the tunable parts of the schedule. Zero durations fall back
// to DefaultConfig.
type Config struct {
	// DefaultInterval applies when a feed gives no hint at all.
	DefaultInterval time.Duration
	// MinInterval is the floor for feed-declared hints and the default.
	MinInterval time.Duration
	// CacheMinInterval is the floor for intervals taken from Cache-Control.
	CacheMinInterval time.Duration

	// Rand returns a draw in [0, 1) used for jitter.
	Rand func() float64
}

func DefaultConfig() Config {
	return Config{
		DefaultInterval:  60 * time.Minute,
		MinInterval:      60 * time.Minute,
		CacheMinInterval: 10 * time.Minute,
		Rand:             rand.Float64,
	}
}

// Hints are the refresh hints a feed declares about itself.
type Hints struct {
	TTLMinutes  *int
	Syndication *feedparser.Syndication
}

type Input struct {
	CacheControl            *cacheheader.Directives
	Hints                   Hints
	ConsecutiveFailureCount int
	PushSubscriptionActive  bool
	ReferenceTime           time.Time
}

type Result struct {
	NextFetchAt time.Time
	// IntervalSeconds is the clamped interval before jitter.
	IntervalSeconds int
	JitterSeconds   int
	Reason          Reason
}

type Scheduler struct {
	cfg Config
}

func NewScheduler(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = def.DefaultInterval
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.CacheMinInterval <= 0 {
		cfg.CacheMinInterval = def.CacheMinInterval
	}
	if cfg.Rand == nil {
		cfg.Rand = def.Rand
	}
	return &Scheduler{cfg: cfg}
}

// CalculateNextFetch applies the first matching rule: failure backoff, then
// the most authoritative interval hint, clamped, then jitter.
func (s *Scheduler) CalculateNextFetch(in Input) Result {
	if in.ConsecutiveFailureCount > 0 {
		return s.finish(in.ReferenceTime, FailureBackoff(in.ConsecutiveFailureCount), ReasonFailureBackoff)
	}

	interval, source := s.baseInterval(in)

	floor := s.cfg.MinInterval
	switch {
	case in.PushSubscriptionActive:
		floor = PushBackupInterval
	case source == ReasonCacheControl:
		floor = s.cfg.CacheMinInterval
	}

	reason := source
	switch {
	case interval < floor:
		interval, reason = floor, source+"_clamped_min"
	case interval > MaxInterval:
		interval, reason = MaxInterval, source+"_clamped_max"
	}
	if in.PushSubscriptionActive {
		reason = ReasonWebSubBackup
	}
	return s.finish(in.ReferenceTime, interval, reason)
}

func (s *Scheduler) baseInterval(in Input) (time.Duration, Reason) {
	if in.CacheControl != nil {
		if maxAge, ok := in.CacheControl.EffectiveMaxAge(); ok {
			return scaled(maxAge, time.Second), ReasonCacheControl
		}
	}
	if ttl := in.Hints.TTLMinutes; ttl != nil && *ttl > 0 {
		return scaled(*ttl, time.Minute), ReasonFeedTTL
	}
	if sy := in.Hints.Syndication; sy != nil {
		if period, ok := SyndicationPeriod(sy.UpdatePeriod); ok {
			return period / time.Duration(max(1, sy.UpdateFrequency)), ReasonSyndication
		}
	}
	if in.PushSubscriptionActive {
		return PushBackupInterval, ReasonWebSubBackup
	}
	return s.cfg.DefaultInterval, ReasonDefault
}

// scaled converts n units to a duration. Counts past the maximum interval are
// capped just above it, so they clamp to the maximum instead of overflowing.
func scaled(n int, unit time.Duration) time.Duration {
	if limit := int(MaxInterval / unit); n > limit {
		n = limit + 1
	}
	return time.Duration(n) * unit
}

func (s *Scheduler) finish(ref time.Time, interval time.Duration, reason Reason) Result {
	jitter := Jitter(interval, s.cfg.Rand())
	return Result{
		NextFetchAt:     ref.Add(interval + jitter),
		IntervalSeconds: int(interval / time.Second),
		JitterSeconds:   int(jitter / time.Second),
		Reason:          reason,
	}
}

// FailureBackoff doubles from 30 minutes per consecutive failure. Ten or more
// failures always give the seven day maximum.
func FailureBackoff(count int) time.Duration {
	if count <= 0 {
		return 0
	}
	if count >= MaxFailureCount {
		return MaxInterval
	}
	return min(FailureBase<<(count-1), MaxInterval)
}

// Jitter returns up to 10% of interval, capped at 30 minutes, scaled by draw
// and floored to whole seconds. It never returns a negative duration.
func Jitter(interval time.Duration, draw float64) time.Duration {
	if interval <= 0 || draw <= 0 {
		return 0
	}
	span := min(interval.Seconds()*jitterFraction, jitterCap.Seconds())
	return time.Duration(math.Floor(span*min(draw, 1))) * time.Second
}

var syndicationPeriods = map[string]time.Duration{
	"hourly":  time.Hour,
	"daily":   24 * time.Hour,
	"weekly":  7 * 24 * time.Hour,
	"monthly": 30 * 24 * time.Hour,
	"yearly":  365 * 24 * time.Hour,
}

func SyndicationPeriod(period string) (time.Duration, bool) {
	d, ok := syndicationPeriods[strings.ToLower(strings.TrimSpace(period))]
	return d, ok
}
