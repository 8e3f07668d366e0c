package websub

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fiffu/feedwatch/lib/models"
)

// Start runs RenewDue on every RenewInterval until Stop is called.
func (m *Manager) Start() {
	interval := m.cfg.RenewInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.log.Sugar().Info("Push renewal stopped")
				return
			case <-ticker.C:
				if err := m.RenewDue(ctx); err != nil {
					m.log.Sugar().Errorw("Push renewal failed", "err", err)
				}
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// RenewDue expires requests the hub never verified and renews leases that
// end within RenewBefore. A lease that already lapsed is marked expired and
// left for the next Discovered call to re-subscribe.
func (m *Manager) RenewDue(ctx context.Context) error {
	now := m.now()
	var errs []error

	pending, err := m.store.SubscriptionsInState(ctx, string(StateRequested), string(StateRenewing))
	if err != nil {
		return err
	}
	for _, sub := range pending {
		if sub.RequestedAt.Valid && now.Sub(sub.RequestedAt.Time) <= m.cfg.ChallengeWindow {
			continue
		}
		sub.LastError = "verification not received"
		m.transition(sub, timedOutState(State(sub.State)))
		if err := m.store.SaveSubscription(ctx, sub); err != nil {
			errs = append(errs, err)
		}
	}

	due, err := m.store.LeasesEndingBefore(ctx, string(StateActive), now.Add(m.cfg.RenewBefore))
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, sub := range due {
		if !sub.ExpiresAt.Time.After(now) {
			if err := m.expire(ctx, sub, "lease lapsed"); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		sub.RequestedAt = sql.NullTime{Time: now, Valid: true}
		m.transition(sub, StateRenewing)
		if err := m.store.SaveSubscription(ctx, sub); err != nil {
			errs = append(errs, err)
			continue
		}
		err := m.hub.Request(ctx, sub.HubURL, HubRequest{
			Mode:         ModeSubscribe,
			Topic:        sub.TopicURL,
			Callback:     m.callbackURL(sub.CallbackID),
			Secret:       sub.Secret,
			LeaseSeconds: m.cfg.LeaseSeconds,
		})
		if err != nil {
			errs = append(errs, m.fail(ctx, sub, StateExpired, err))
		}
	}

	return errors.Join(errs...)
}

// Expire ends a feed's lease locally; the feed falls back to its polling
// schedule until the next successful subscribe.
func (m *Manager) Expire(ctx context.Context, feedID uint) error {
	sub, err := m.store.SubscriptionByFeed(ctx, feedID)
	if err != nil {
		return err
	}
	if !isLeased(State(sub.State)) {
		return nil
	}
	return m.expire(ctx, sub, "expired")
}

func (m *Manager) expire(ctx context.Context, sub *models.PushSubscription, reason string) error {
	sub.LastError = reason
	sub.ExpiresAt = sql.NullTime{}
	m.transition(sub, StateExpired)
	return m.store.SaveSubscription(ctx, sub)
}
