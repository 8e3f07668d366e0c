package lib

import (
	"context"
	"errors"

	"github.com/fiffu/feedwatch/lib/models"
	"github.com/fiffu/feedwatch/lib/poller"
	"github.com/fiffu/feedwatch/lib/store"
	"github.com/fiffu/feedwatch/lib/websub"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const DefaultEntryLimit = 50

var ErrNotFound = store.ErrNotFound

type Service struct {
	log    *zap.Logger
	store  *store.Store
	poller *poller.Poller
	push   *websub.Manager

	*addFeed
}

func NewService(lc fx.Lifecycle, log *zap.Logger, st *store.Store, p *poller.Poller, push *websub.Manager) *Service {
	return &Service{
		log, st, p, push,
		&addFeed{log, st, p},
	}
}

func (svc *Service) ListFeeds(ctx context.Context) (models.Feeds, error) {
	return svc.store.ListFeeds(ctx)
}

func (svc *Service) GetFeed(ctx context.Context, feedID uint) (*models.Feed, error) {
	return svc.store.GetFeed(ctx, feedID)
}

func (svc *Service) ListEntries(ctx context.Context, feedID uint, limit int) (models.Entries, error) {
	if _, err := svc.store.GetFeed(ctx, feedID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = DefaultEntryLimit
	}
	return svc.store.ListEntries(ctx, feedID, limit)
}

// RefreshFeed runs a cycle for the feed right away.
func (svc *Service) RefreshFeed(ctx context.Context, feedID uint) (*poller.CycleResult, error) {
	return svc.poller.RunCycle(ctx, feedID)
}

// RemoveFeed drops the feed's push subscription, then the feed and its entries.
func (svc *Service) RemoveFeed(ctx context.Context, feedID uint) error {
	if err := svc.push.Unsubscribe(ctx, feedID); err != nil && !errors.Is(err, store.ErrNotFound) {
		svc.log.Sugar().Warnw("Failed to unsubscribe removed feed", "feed_id", feedID, "err", err)
	}
	if err := svc.store.DeleteFeed(ctx, feedID); err != nil {
		return err
	}
	svc.log.Sugar().Infow("Removed feed", "feed_id", feedID)
	return nil
}
