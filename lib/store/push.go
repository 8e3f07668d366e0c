package store

import (
	"context"
	"time"

	"github.com/fiffu/feedwatch/lib/models"
)

func (s *Store) SubscriptionByFeed(ctx context.Context, feedID uint) (*models.PushSubscription, error) {
	sub := &models.PushSubscription{}
	tx := s.db.WithContext(ctx).Where("feed_id = ?", feedID).First(sub)
	if err := tx.Error; err != nil {
		return nil, notFound(err)
	}
	return sub, nil
}

func (s *Store) SubscriptionByCallback(ctx context.Context, callbackID string) (*models.PushSubscription, error) {
	sub := &models.PushSubscription{}
	tx := s.db.WithContext(ctx).Where("callback_id = ?", callbackID).First(sub)
	if err := tx.Error; err != nil {
		return nil, notFound(err)
	}
	return sub, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub *models.PushSubscription) error {
	return s.db.WithContext(ctx).Save(sub).Error
}

// SubscriptionsInState lists subscriptions in any of states.
func (s *Store) SubscriptionsInState(ctx context.Context, states ...string) (models.PushSubscriptions, error) {
	var subs models.PushSubscriptions
	tx := s.db.WithContext(ctx).Where("state IN ?", states).Order("id").Find(&subs)
	return subs, tx.Error
}

// LeasesEndingBefore lists subscriptions in state whose lease ends before t.
func (s *Store) LeasesEndingBefore(ctx context.Context, state string, t time.Time) (models.PushSubscriptions, error) {
	var subs models.PushSubscriptions
	tx := s.db.WithContext(ctx).
		Where("state = ?", state).
		Where("expires_at IS NOT NULL AND expires_at <= ?", t).
		Order("expires_at").
		Find(&subs)
	return subs, tx.Error
}
