package app

import (
	"net/http"

	"github.com/fiffu/feedwatch/config"
	"github.com/fiffu/feedwatch/lib/entry"
	"github.com/fiffu/feedwatch/lib/fetch"
	"github.com/fiffu/feedwatch/lib/poller"
	"github.com/fiffu/feedwatch/lib/schedule"
	"github.com/fiffu/feedwatch/lib/store"
	"github.com/fiffu/feedwatch/lib/websub"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewFetcher(transport http.RoundTripper) *fetch.Fetcher {
	return fetch.NewFetcher(transport)
}

func NewScheduler(cfg *config.Config) *schedule.Scheduler {
	return schedule.NewScheduler(schedule.Config{
		DefaultInterval:  cfg.Schedule.DefaultInterval,
		MinInterval:      cfg.Schedule.MinInterval,
		CacheMinInterval: cfg.Schedule.CacheMinInterval,
	})
}

// NewProcessor loads the built-in cleanup rules plus those from
// CLEANUP_RULES_PATH, if set.
func NewProcessor(cfg *config.Config, log *zap.Logger) (*entry.Processor, error) {
	rules := entry.DefaultRules()
	if path := cfg.CleanupRulesPath; path != "" {
		extra, err := entry.LoadRules(path)
		if err != nil {
			return nil, err
		}
		log.Sugar().Infow("Loaded cleanup rules", "path", path, "count", len(extra))
		rules = append(rules, extra...)
	}
	return entry.NewProcessor(rules, entry.DefaultSummaryLength), nil
}

func NewHubClient(cfg *config.Config, transport http.RoundTripper, log *zap.Logger) *websub.HubClient {
	return websub.NewHubClient(transport, log, cfg.Fetch.Timeout)
}

func NewWebSubManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, st *store.Store, hub *websub.HubClient) *websub.Manager {
	return websub.NewManager(lc, websub.Config{
		Enabled:         cfg.WebSub.Enabled,
		CallbackBaseURL: cfg.PublicBaseURL,
		LeaseSeconds:    int(cfg.WebSub.Lease.Seconds()),
		RenewBefore:     cfg.WebSub.RenewBefore,
		ChallengeWindow: cfg.WebSub.ChallengeWindow,
		RenewInterval:   cfg.WebSub.RenewInterval,
	}, log, st, hub)
}

// NewPoller also registers the poller as the consumer of push deliveries.
func NewPoller(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	st *store.Store,
	fetcher *fetch.Fetcher,
	scheduler *schedule.Scheduler,
	processor *entry.Processor,
	push *websub.Manager,
) *poller.Poller {
	p := poller.NewPoller(lc, poller.Config{
		WakeupInterval: cfg.Poller.WakeupInterval,
		Concurrency:    cfg.Poller.Concurrency,
		BatchSize:      cfg.Poller.BatchSize,
		RatePerSecond:  cfg.Poller.RatePerSecond,
		Fetch: fetch.Options{
			Timeout:      cfg.Fetch.Timeout,
			MaxRedirects: cfg.Fetch.MaxRedirects,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
			Identity: fetch.Identity{
				AppName: cfg.Fetch.AppName,
				Build:   cfg.Fetch.Build,
				Contact: cfg.Fetch.Contact,
			},
		},
	}, log, st, fetcher, scheduler, processor, push)

	push.SetDeliverer(p)
	return p
}
