// Package poller drives feed cycles: it wakes up periodically, selects the
// feeds whose next fetch time has passed and runs fetch, parse, entry
// processing and rescheduling for each of them.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiffu/feedwatch/lib/entry"
	"github.com/fiffu/feedwatch/lib/fetch"
	"github.com/fiffu/feedwatch/lib/metrics"
	"github.com/fiffu/feedwatch/lib/models"
	"github.com/fiffu/feedwatch/lib/schedule"
	"github.com/fiffu/feedwatch/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	WakeupInterval time.Duration // Interval to check for due feeds
	Concurrency    int           // Feeds mid-fetch at once, process-wide
	BatchSize      int           // Feeds loaded from the store per query
	RatePerSecond  float64       // Fetch starts per second, process-wide

	// Fetch holds the process-wide fetch options. Validators and the
	// per-feed context are filled in per cycle.
	Fetch fetch.Options

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.WakeupInterval <= 0 {
		c.WakeupInterval = time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 20
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Push is the part of the WebSub manager a cycle talks to.
type Push interface {
	Discovered(ctx context.Context, feedID uint, hubURL, topicURL string) error
	IsActive(ctx context.Context, feedID uint) bool
}

type Poller struct {
	cfg       Config
	log       *zap.Logger
	store     *store.Store
	fetcher   *fetch.Fetcher
	scheduler *schedule.Scheduler
	processor *entry.Processor
	push      Push

	limiter *rate.Limiter
	sem     chan struct{}

	mu      sync.Mutex // held for the duration of one PollDue
	locksMu sync.Mutex
	locks   map[uint]*sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(
	lc fx.Lifecycle,
	cfg Config,
	log *zap.Logger,
	st *store.Store,
	fetcher *fetch.Fetcher,
	scheduler *schedule.Scheduler,
	processor *entry.Processor,
	push Push,
) *Poller {
	cfg = cfg.withDefaults()
	p := &Poller{
		cfg:       cfg,
		log:       log,
		store:     st,
		fetcher:   fetcher,
		scheduler: scheduler,
		processor: processor,
		push:      push,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Concurrency),
		sem:       make(chan struct{}, cfg.Concurrency),
		locks:     make(map[uint]*sync.Mutex),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop poller")
			p.Stop()
			return nil
		},
	})

	return p
}

// tickerWithImmediateTick fires once right away and then on every interval.
// The returned channel is closed once ctx is done.
func (p *Poller) tickerWithImmediateTick(ctx context.Context, interval time.Duration) *time.Ticker {
	withImmediateTick := make(chan time.Time, 1)

	ticker := time.NewTicker(interval)
	tickerC := ticker.C
	go func() {
		defer close(withImmediateTick)
		withImmediateTick <- time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-tickerC:
				select {
				case withImmediateTick <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	ticker.C = withImmediateTick
	return ticker
}

func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		ticker := p.tickerWithImmediateTick(ctx, p.cfg.WakeupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.log.Sugar().Info("Poller stopped")
				return

			case _, ok := <-ticker.C:
				if !ok {
					continue
				}
				p.PollDue(ctx, p.cfg.Now())
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight cycles to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

// feedLock returns the mutex serializing cycles and deliveries for one feed.
func (p *Poller) feedLock(feedID uint) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()

	l, ok := p.locks[feedID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[feedID] = l
	}
	return l
}

// PollDue runs a cycle for every feed due at now. Feeds whose previous cycle
// is still running are skipped; they stay due and are picked up next time.
func (p *Poller) PollDue(ctx context.Context, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := &pollMetrics{}
	err := p.store.DueFeeds(ctx, now, p.cfg.BatchSize, func(batch models.Feeds) error {
		m.Add(p.pollBatch(ctx, batch, now))
		return ctx.Err()
	})
	if err != nil && ctx.Err() == nil {
		p.log.Sugar().Errorw("Failed to select due feeds", "err", err)
	}

	if m.selected > 0 {
		args := make([]any, 0)
		if m.failed != 0 {
			args = append(args, "failed", m.failed)
		}
		if m.busy != 0 {
			args = append(args, "busy", m.busy)
		}
		if m.newEntries != 0 {
			args = append(args, "new_entries", m.newEntries)
		}
		if m.updatedEntries != 0 {
			args = append(args, "updated_entries", m.updatedEntries)
		}

		p.log.Sugar().Infow(
			fmt.Sprintf("Processed %d feeds", m.selected),
			args...,
		)
	}

	elapsed := p.cfg.Now().Sub(now)
	p.log.Sugar().Debugw("Poll completed", "elapsed_msecs", int(elapsed.Milliseconds()))
}

func (p *Poller) pollBatch(ctx context.Context, batch models.Feeds, now time.Time) *pollMetrics {
	var wg sync.WaitGroup
	var mu sync.Mutex
	m := &pollMetrics{selected: len(batch)}

	for _, feed := range batch {
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		p.sem <- struct{}{}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-p.sem }()

			fm := p.pollFeed(ctx, feed, now)
			mu.Lock()
			m.Add(fm)
			mu.Unlock()
		}()
	}

	wg.Wait()
	return m
}

// pollFeed runs a cycle for a feed selected as due at now. The batch row may
// be stale by the time the lock is held, so the feed is read again and left
// alone if another cycle has already rescheduled or removed it.
func (p *Poller) pollFeed(ctx context.Context, selected *models.Feed, now time.Time) *pollMetrics {
	lock := p.feedLock(selected.ID)
	if !lock.TryLock() {
		return &pollMetrics{busy: 1}
	}
	defer lock.Unlock()

	feed, err := p.store.GetFeed(ctx, selected.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &pollMetrics{busy: 1}
	case err != nil:
		p.log.Sugar().Errorw("Failed to reload feed", "feed_id", selected.ID, "err", err)
		return &pollMetrics{failed: 1}
	case feed.NextFetchAt.After(now):
		return &pollMetrics{busy: 1}
	}

	res, err := p.runCycle(ctx, feed)
	if err != nil {
		p.log.Sugar().Errorw("Feed cycle failed", "feed_id", feed.ID, "url", feed.URL, "err", err)
		return &pollMetrics{failed: 1}
	}

	m := &pollMetrics{newEntries: res.New, updatedEntries: res.Updated}
	if res.Failed() {
		m.failed = 1
	}
	return m
}

type pollMetrics struct {
	selected       int
	busy           int
	failed         int
	newEntries     int
	updatedEntries int
}

func (m *pollMetrics) Add(other *pollMetrics) {
	m.selected += other.selected
	m.busy += other.busy
	m.failed += other.failed
	m.newEntries += other.newEntries
	m.updatedEntries += other.updatedEntries
}

func observeCycle(delta int) {
	metrics.CyclesInFlight.Add(float64(delta))
}
