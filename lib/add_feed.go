package lib

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fiffu/feedwatch/lib/models"
	"github.com/fiffu/feedwatch/lib/poller"
	"github.com/fiffu/feedwatch/lib/store"
	"go.uber.org/zap"
)

var (
	ErrInvalidURL = errors.New("feed URL must be an absolute http(s) URL")
	ErrFeedExists = errors.New("feed is already tracked")
	ErrNotAFeed   = errors.New("URL did not return a usable feed")
)

type addFeed struct {
	log    *zap.Logger
	store  *store.Store
	poller *poller.Poller
}

// AddFeed starts tracking rawURL. The first cycle runs immediately; a URL
// that permanently fails or does not parse as a feed is not kept.
func (svc *addFeed) AddFeed(ctx context.Context, rawURL string) (*models.Feed, *poller.CycleResult, error) {
	feedURL, err := normalizeFeedURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	if existing, err := svc.store.FindFeedByURL(ctx, feedURL); err == nil {
		return existing, nil, ErrFeedExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	feed := &models.Feed{URL: feedURL, NextFetchAt: time.Now().UTC()}
	if err := svc.store.CreateFeed(ctx, feed); err != nil {
		return nil, nil, err
	}

	res, err := svc.poller.RunCycle(ctx, feed.ID)
	if err != nil {
		return nil, nil, err
	}
	if res.Permanent {
		if err := svc.store.DeleteFeed(ctx, feed.ID); err != nil {
			svc.log.Sugar().Errorw("Failed to drop rejected feed", "feed_id", feed.ID, "err", err)
		}
		return nil, res, fmt.Errorf("%w: %s", ErrNotAFeed, feedURL)
	}

	feed, err = svc.store.GetFeed(ctx, feed.ID)
	if err != nil {
		return nil, nil, err
	}
	svc.log.Sugar().Infow("Added feed", "feed_id", feed.ID, "url", feed.URL, "outcome", res.Outcome, "new", res.New)
	return feed, res, nil
}

func normalizeFeedURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidURL
	}
	u.Fragment = ""
	return u.String(), nil
}
