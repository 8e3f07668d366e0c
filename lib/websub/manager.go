// Package websub keeps an optional push subscription per feed. Push only
// adds freshness on top of polling: every failure here falls back to the
// regular schedule.
package websub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fiffu/feedwatch/lib/metrics"
	"github.com/fiffu/feedwatch/lib/models"
	"github.com/fiffu/feedwatch/lib/store"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type State string

const (
	StateNone      State = "none"
	StateRequested State = "requested"
	StateVerified  State = "verified"
	StateActive    State = "active"
	StateRenewing  State = "renewing"
	StateExpired   State = "expired"
)

var (
	ErrUnknownSubscription = errors.New("unknown push subscription")
	ErrChallengeMismatch   = errors.New("verification does not match a pending request")
	ErrBadSignature        = errors.New("invalid push signature")
	ErrInactive            = errors.New("push subscription is not active")
)

type Config struct {
	Enabled bool
	// CallbackBaseURL is the public URL under which /websub/{id} is served.
	CallbackBaseURL string
	LeaseSeconds    int
	RenewBefore     time.Duration
	ChallengeWindow time.Duration
	RenewInterval   time.Duration
}

type Store interface {
	SubscriptionByFeed(ctx context.Context, feedID uint) (*models.PushSubscription, error)
	SubscriptionByCallback(ctx context.Context, callbackID string) (*models.PushSubscription, error)
	SaveSubscription(ctx context.Context, sub *models.PushSubscription) error
	SubscriptionsInState(ctx context.Context, states ...string) (models.PushSubscriptions, error)
	LeasesEndingBefore(ctx context.Context, state string, t time.Time) (models.PushSubscriptions, error)
}

// Deliverer consumes verified push payloads as fetch results.
type Deliverer interface {
	ApplyDelivery(ctx context.Context, feedID uint, body []byte, contentType string) error
}

// Verification holds the query parameters of a hub's verification request.
type Verification struct {
	Mode         string
	Topic        string
	Challenge    string
	LeaseSeconds int
	Reason       string
}

type Manager struct {
	cfg   Config
	log   *zap.Logger
	store Store
	hub   *HubClient
	now   func() time.Time

	mu        sync.Mutex
	deliverer Deliverer
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewManager(lc fx.Lifecycle, cfg Config, log *zap.Logger, st Store, hub *HubClient) *Manager {
	m := &Manager{
		cfg:   cfg,
		log:   log,
		store: st,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Enabled {
				m.Start()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			m.Stop()
			return nil
		},
	})
	return m
}

// SetDeliverer wires the consumer of push payloads. It is set after
// construction because the consumer itself depends on the manager.
func (m *Manager) SetDeliverer(d Deliverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverer = d
}

func (m *Manager) callbackURL(callbackID string) string {
	return strings.TrimRight(m.cfg.CallbackBaseURL, "/") + "/websub/" + callbackID
}

func (m *Manager) transition(sub *models.PushSubscription, to State) {
	from := sub.State
	if from == "" {
		from = string(StateNone)
	}
	sub.State = string(to)
	metrics.PushTransitions.WithLabelValues(from, string(to)).Inc()
	m.log.Sugar().Infow("Push subscription transition",
		"feed_id", sub.FeedID, "hub", sub.HubURL, "from", from, "to", string(to))
}

// IsActive reports whether the feed currently has a confirmed lease.
func (m *Manager) IsActive(ctx context.Context, feedID uint) bool {
	sub, err := m.store.SubscriptionByFeed(ctx, feedID)
	if err != nil {
		return false
	}
	return isLeased(State(sub.State))
}

func isLeased(s State) bool {
	return s == StateActive || s == StateRenewing
}

func isPending(s State) bool {
	return s == StateRequested || s == StateRenewing
}

// Discovered is called after every successful parse with the hub and self
// links the feed advertised. It subscribes, moves to a new hub, or
// unsubscribes when the feed stopped advertising one.
func (m *Manager) Discovered(ctx context.Context, feedID uint, hubURL, topicURL string) error {
	if !m.cfg.Enabled {
		return nil
	}
	if hubURL == "" {
		return m.Unsubscribe(ctx, feedID)
	}
	return m.Subscribe(ctx, feedID, hubURL, topicURL)
}

// Subscribe asks hubURL to push topicURL to us. It is a no-op while an
// equivalent subscription is pending or leased, and while a recent attempt
// is still inside its challenge window.
func (m *Manager) Subscribe(ctx context.Context, feedID uint, hubURL, topicURL string) error {
	if !m.cfg.Enabled {
		return nil
	}
	now := m.now()

	sub, err := m.store.SubscriptionByFeed(ctx, feedID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sub = &models.PushSubscription{FeedID: feedID, CallbackID: uuid.NewString(), State: string(StateNone)}
	case err != nil:
		return err
	}

	sameTarget := sub.HubURL == hubURL && sub.TopicURL == topicURL
	state := State(sub.State)
	if sameTarget && state != StateNone && state != StateExpired {
		return nil
	}
	if sameTarget && sub.RequestedAt.Valid && now.Sub(sub.RequestedAt.Time) < m.cfg.ChallengeWindow {
		return nil
	}

	sub.HubURL = hubURL
	sub.TopicURL = topicURL
	sub.Secret = newSecret()
	sub.RequestedAt = sql.NullTime{Time: now, Valid: true}
	sub.LastError = ""
	m.transition(sub, StateRequested)
	if err := m.store.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	err = m.hub.Request(ctx, hubURL, HubRequest{
		Mode:         ModeSubscribe,
		Topic:        topicURL,
		Callback:     m.callbackURL(sub.CallbackID),
		Secret:       sub.Secret,
		LeaseSeconds: m.cfg.LeaseSeconds,
	})
	if err != nil {
		return m.fail(ctx, sub, StateNone, err)
	}
	return nil
}

// Unsubscribe tells the hub to stop pushing. The local state is dropped to
// none whether or not the hub answers.
func (m *Manager) Unsubscribe(ctx context.Context, feedID uint) error {
	sub, err := m.store.SubscriptionByFeed(ctx, feedID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if State(sub.State) == StateNone {
		return nil
	}

	wasLeased := isLeased(State(sub.State))
	m.transition(sub, StateNone)
	sub.ExpiresAt = sql.NullTime{}
	if err := m.store.SaveSubscription(ctx, sub); err != nil {
		return err
	}
	if !wasLeased || !m.cfg.Enabled {
		return nil
	}

	err = m.hub.Request(ctx, sub.HubURL, HubRequest{
		Mode:     ModeUnsubscribe,
		Topic:    sub.TopicURL,
		Callback: m.callbackURL(sub.CallbackID),
	})
	if err != nil {
		m.log.Sugar().Warnw("Unsubscribe request failed", "feed_id", feedID, "hub", sub.HubURL, "err", err)
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, sub *models.PushSubscription, to State, cause error) error {
	sub.LastError = cause.Error()
	m.transition(sub, to)
	m.log.Sugar().Warnw("Push subscription failed", "feed_id", sub.FeedID, "hub", sub.HubURL, "err", cause)
	if err := m.store.SaveSubscription(ctx, sub); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// VerifyChallenge handles a hub's GET on the callback. It returns the
// challenge to echo, or an error when the request does not match.
func (m *Manager) VerifyChallenge(ctx context.Context, callbackID string, v Verification) (string, error) {
	sub, err := m.store.SubscriptionByCallback(ctx, callbackID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnknownSubscription
	}
	if err != nil {
		return "", err
	}
	if v.Topic != sub.TopicURL {
		return "", fmt.Errorf("%w: topic %q", ErrChallengeMismatch, v.Topic)
	}

	now := m.now()
	state := State(sub.State)

	switch v.Mode {
	case ModeSubscribe:
		if !isPending(state) || v.Challenge == "" {
			return "", fmt.Errorf("%w: state %s", ErrChallengeMismatch, state)
		}
		if !sub.RequestedAt.Valid || now.Sub(sub.RequestedAt.Time) > m.cfg.ChallengeWindow {
			return "", m.fail(ctx, sub, timedOutState(state), fmt.Errorf("%w: challenge window elapsed", ErrChallengeMismatch))
		}

		lease := v.LeaseSeconds
		if lease <= 0 {
			lease = m.cfg.LeaseSeconds
		}
		if state == StateRequested {
			m.transition(sub, StateVerified)
			sub.VerifiedAt = sql.NullTime{Time: now, Valid: true}
		}
		m.transition(sub, StateActive)
		sub.LeaseSeconds = lease
		sub.ExpiresAt = sql.NullTime{Time: now.Add(time.Duration(lease) * time.Second), Valid: true}
		sub.LastError = ""
		if err := m.store.SaveSubscription(ctx, sub); err != nil {
			return "", err
		}
		return v.Challenge, nil

	case ModeUnsubscribe:
		if state != StateNone || v.Challenge == "" {
			return "", fmt.Errorf("%w: unsubscribe while %s", ErrChallengeMismatch, state)
		}
		return v.Challenge, nil

	case ModeDenied:
		sub.LastError = "denied: " + v.Reason
		m.transition(sub, StateNone)
		sub.ExpiresAt = sql.NullTime{}
		return "", m.store.SaveSubscription(ctx, sub)
	}
	return "", fmt.Errorf("%w: mode %q", ErrChallengeMismatch, v.Mode)
}

// A first request that times out reverts to none; a renewal expires.
func timedOutState(s State) State {
	if s == StateRenewing {
		return StateExpired
	}
	return StateNone
}

// HandleDelivery authenticates a pushed payload and hands it to the
// deliverer. Payloads with a bad signature are dropped.
func (m *Manager) HandleDelivery(ctx context.Context, callbackID string, body []byte, contentType, signature string) error {
	sub, err := m.store.SubscriptionByCallback(ctx, callbackID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.PushDeliveries.WithLabelValues("unknown").Inc()
		return ErrUnknownSubscription
	}
	if err != nil {
		return err
	}
	if !isLeased(State(sub.State)) {
		metrics.PushDeliveries.WithLabelValues("inactive").Inc()
		return ErrInactive
	}
	if sub.Secret != "" {
		if err := VerifySignature(sub.Secret, body, signature); err != nil {
			metrics.PushDeliveries.WithLabelValues("bad_signature").Inc()
			m.log.Sugar().Warnw("Dropping push delivery", "feed_id", sub.FeedID, "err", err)
			return err
		}
	}

	m.mu.Lock()
	deliverer := m.deliverer
	m.mu.Unlock()
	if deliverer == nil {
		return errors.New("no push deliverer configured")
	}

	metrics.PushDeliveries.WithLabelValues("accepted").Inc()
	return deliverer.ApplyDelivery(ctx, sub.FeedID, body, contentType)
}

func newSecret() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
