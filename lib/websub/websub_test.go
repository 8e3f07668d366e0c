package websub

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fiffu/feedwatch/lib/models"
	"github.com/fiffu/feedwatch/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

const topic = "https://example.com/feed.xml"

type fakeHub struct {
	mu     sync.Mutex
	status int
	forms  []url.Values
	srv    *httptest.Server
}

func newFakeHub(t *testing.T) *fakeHub {
	h := &fakeHub{status: http.StatusAccepted}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		h.mu.Lock()
		defer h.mu.Unlock()
		h.forms = append(h.forms, r.PostForm)
		w.WriteHeader(h.status)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) setStatus(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = code
}

func (h *fakeHub) requests() []url.Values {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]url.Values(nil), h.forms...)
}

type recordingDeliverer struct {
	feedIDs []uint
	bodies  []string
}

func (d *recordingDeliverer) ApplyDelivery(ctx context.Context, feedID uint, body []byte, contentType string) error {
	d.feedIDs = append(d.feedIDs, feedID)
	d.bodies = append(d.bodies, string(body))
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() Config {
	return Config{
		Enabled:         true,
		CallbackBaseURL: "https://watcher.example.net/",
		LeaseSeconds:    86400,
		RenewBefore:     time.Hour,
		ChallengeWindow: 10 * time.Minute,
		RenewInterval:   time.Hour,
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *store.Store, *clock) {
	t.Helper()
	db, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	st := store.New(db)

	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	log := zap.NewNop()
	m := NewManager(fxtest.NewLifecycle(t), cfg, log, st, NewHubClient(nil, log, 5*time.Second))
	m.now = c.now
	return m, st, c
}

func TestSubscribeVerifyDeliver(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	m, st, c := newTestManager(t, testConfig())
	d := &recordingDeliverer{}
	m.SetDeliverer(d)

	require.NoError(t, m.Subscribe(ctx, 7, hub.srv.URL, topic))

	reqs := hub.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "subscribe", reqs[0].Get("hub.mode"))
	assert.Equal(t, topic, reqs[0].Get("hub.topic"))
	assert.Equal(t, "86400", reqs[0].Get("hub.lease_seconds"))
	assert.NotEmpty(t, reqs[0].Get("hub.secret"))

	sub, err := st.SubscriptionByFeed(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, string(StateRequested), sub.State)
	assert.Equal(t, "https://watcher.example.net/websub/"+sub.CallbackID, reqs[0].Get("hub.callback"))
	assert.False(t, m.IsActive(ctx, 7))

	c.advance(time.Minute)
	echo, err := m.VerifyChallenge(ctx, sub.CallbackID, Verification{
		Mode: ModeSubscribe, Topic: topic, Challenge: "abc123", LeaseSeconds: 3600,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", echo)

	sub, err = st.SubscriptionByFeed(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, string(StateActive), sub.State)
	assert.Equal(t, 3600, sub.LeaseSeconds)
	assert.WithinDuration(t, c.t.Add(time.Hour), sub.ExpiresAt.Time, time.Second)
	assert.True(t, sub.VerifiedAt.Valid)
	assert.True(t, m.IsActive(ctx, 7))

	body := []byte(`<rss><channel><title>x</title></channel></rss>`)
	require.NoError(t, m.HandleDelivery(ctx, sub.CallbackID, body, "application/rss+xml", Sign("sha256", sub.Secret, body)))
	assert.Equal(t, []uint{7}, d.feedIDs)

	err = m.HandleDelivery(ctx, sub.CallbackID, body, "application/rss+xml", Sign("sha256", "wrong", body))
	assert.ErrorIs(t, err, ErrBadSignature)
	err = m.HandleDelivery(ctx, "nope", body, "application/rss+xml", "")
	assert.ErrorIs(t, err, ErrUnknownSubscription)
	assert.Len(t, d.bodies, 1)
}

func TestSubscribeSkipsWhilePending(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	m, _, _ := newTestManager(t, testConfig())

	require.NoError(t, m.Subscribe(ctx, 1, hub.srv.URL, topic))
	require.NoError(t, m.Subscribe(ctx, 1, hub.srv.URL, topic))
	require.NoError(t, m.Discovered(ctx, 1, hub.srv.URL, topic))
	assert.Len(t, hub.requests(), 1)
}

func TestSubscribeHubFailure(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	hub.setStatus(http.StatusInternalServerError)
	m, st, c := newTestManager(t, testConfig())

	assert.Error(t, m.Subscribe(ctx, 1, hub.srv.URL, topic))
	sub, err := st.SubscriptionByFeed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, string(StateNone), sub.State)
	assert.NotEmpty(t, sub.LastError)
	assert.False(t, m.IsActive(ctx, 1))

	// Inside the challenge window the attempt is not repeated.
	require.NoError(t, m.Subscribe(ctx, 1, hub.srv.URL, topic))
	assert.Len(t, hub.requests(), 1)

	hub.setStatus(http.StatusAccepted)
	c.advance(11 * time.Minute)
	require.NoError(t, m.Subscribe(ctx, 1, hub.srv.URL, topic))
	assert.Len(t, hub.requests(), 2)
}

func TestVerifyChallengeRejects(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	m, st, c := newTestManager(t, testConfig())

	require.NoError(t, m.Subscribe(ctx, 3, hub.srv.URL, topic))
	sub, err := st.SubscriptionByFeed(ctx, 3)
	require.NoError(t, err)

	_, err = m.VerifyChallenge(ctx, "missing", Verification{Mode: ModeSubscribe, Topic: topic, Challenge: "x"})
	assert.ErrorIs(t, err, ErrUnknownSubscription)

	_, err = m.VerifyChallenge(ctx, sub.CallbackID, Verification{Mode: ModeSubscribe, Topic: "https://other.example/", Challenge: "x"})
	assert.ErrorIs(t, err, ErrChallengeMismatch)

	_, err = m.VerifyChallenge(ctx, sub.CallbackID, Verification{Mode: ModeUnsubscribe, Topic: topic, Challenge: "x"})
	assert.ErrorIs(t, err, ErrChallengeMismatch)

	c.advance(15 * time.Minute)
	_, err = m.VerifyChallenge(ctx, sub.CallbackID, Verification{Mode: ModeSubscribe, Topic: topic, Challenge: "x"})
	assert.ErrorIs(t, err, ErrChallengeMismatch)

	sub, err = st.SubscriptionByFeed(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, string(StateNone), sub.State)
}

func TestDeniedAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	m, st, _ := newTestManager(t, testConfig())

	require.NoError(t, m.Subscribe(ctx, 4, hub.srv.URL, topic))
	sub, err := st.SubscriptionByFeed(ctx, 4)
	require.NoError(t, err)

	echo, err := m.VerifyChallenge(ctx, sub.CallbackID, Verification{Mode: ModeDenied, Topic: topic, Reason: "not allowed"})
	require.NoError(t, err)
	assert.Empty(t, echo)
	sub, err = st.SubscriptionByFeed(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, string(StateNone), sub.State)
	assert.Equal(t, "denied: not allowed", sub.LastError)

	// Re-subscribe to a different hub, confirm, then drop the hub.
	other := newFakeHub(t)
	require.NoError(t, m.Discovered(ctx, 4, other.srv.URL, topic))
	_, err = m.VerifyChallenge(ctx, sub.CallbackID, Verification{Mode: ModeSubscribe, Topic: topic, Challenge: "y"})
	require.NoError(t, err)

	require.NoError(t, m.Discovered(ctx, 4, "", ""))
	reqs := other.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "unsubscribe", reqs[1].Get("hub.mode"))

	echo, err = m.VerifyChallenge(ctx, sub.CallbackID, Verification{Mode: ModeUnsubscribe, Topic: topic, Challenge: "z"})
	require.NoError(t, err)
	assert.Equal(t, "z", echo)
	assert.False(t, m.IsActive(ctx, 4))
}

func TestRenewDue(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	m, st, c := newTestManager(t, testConfig())
	now := c.t

	renewable := &models.PushSubscription{
		FeedID: 1, CallbackID: "renew", HubURL: hub.srv.URL, TopicURL: topic, State: string(StateActive),
		Secret: "s", ExpiresAt: nullTime(now.Add(30 * time.Minute)),
	}
	lapsed := &models.PushSubscription{
		FeedID: 2, CallbackID: "lapsed", HubURL: hub.srv.URL, TopicURL: topic, State: string(StateActive),
		ExpiresAt: nullTime(now.Add(-time.Minute)),
	}
	fresh := &models.PushSubscription{
		FeedID: 3, CallbackID: "fresh", HubURL: hub.srv.URL, TopicURL: topic, State: string(StateActive),
		ExpiresAt: nullTime(now.Add(48 * time.Hour)),
	}
	stale := &models.PushSubscription{
		FeedID: 4, CallbackID: "stale", HubURL: hub.srv.URL, TopicURL: topic, State: string(StateRequested),
		RequestedAt: nullTime(now.Add(-time.Hour)),
	}
	for _, sub := range []*models.PushSubscription{renewable, lapsed, fresh, stale} {
		require.NoError(t, st.SaveSubscription(ctx, sub))
	}

	require.NoError(t, m.RenewDue(ctx))

	states := map[uint]string{}
	for id := uint(1); id <= 4; id++ {
		sub, err := st.SubscriptionByFeed(ctx, id)
		require.NoError(t, err)
		states[id] = sub.State
	}
	assert.Equal(t, map[uint]string{
		1: string(StateRenewing),
		2: string(StateExpired),
		3: string(StateActive),
		4: string(StateNone),
	}, states)

	reqs := hub.requests()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasSuffix(reqs[0].Get("hub.callback"), "/websub/renew"))
	assert.True(t, m.IsActive(ctx, 1))

	echo, err := m.VerifyChallenge(ctx, "renew", Verification{Mode: ModeSubscribe, Topic: topic, Challenge: "r"})
	require.NoError(t, err)
	assert.Equal(t, "r", echo)
	sub, err := st.SubscriptionByFeed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, string(StateActive), sub.State)
}

func TestExpireFallsBackToPolling(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	m, st, _ := newTestManager(t, testConfig())

	require.NoError(t, m.Subscribe(ctx, 5, hub.srv.URL, topic))
	sub, err := st.SubscriptionByFeed(ctx, 5)
	require.NoError(t, err)
	_, err = m.VerifyChallenge(ctx, sub.CallbackID, Verification{Mode: ModeSubscribe, Topic: topic, Challenge: "x"})
	require.NoError(t, err)
	require.True(t, m.IsActive(ctx, 5))

	require.NoError(t, m.Expire(ctx, 5))
	assert.False(t, m.IsActive(ctx, 5))
	sub, err = st.SubscriptionByFeed(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, string(StateExpired), sub.State)
	assert.False(t, sub.ExpiresAt.Valid)

	assert.ErrorIs(t, m.Expire(ctx, 99), store.ErrNotFound)
}

func TestDisabledManagerIsInert(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	cfg := testConfig()
	cfg.Enabled = false
	m, st, _ := newTestManager(t, cfg)

	require.NoError(t, m.Discovered(ctx, 1, hub.srv.URL, topic))
	assert.Empty(t, hub.requests())
	_, err := st.SubscriptionByFeed(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHubBreakerOpens(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	hub.setStatus(http.StatusBadGateway)
	client := NewHubClient(nil, zap.NewNop(), time.Second)

	r := HubRequest{Mode: ModeSubscribe, Topic: topic, Callback: "https://cb.example/websub/1"}
	for i := 0; i < 3; i++ {
		assert.Error(t, client.Request(ctx, hub.srv.URL, r))
	}
	err := client.Request(ctx, hub.srv.URL, r)
	assert.ErrorContains(t, err, "unavailable")
	assert.Len(t, hub.requests(), 3)
}

func TestVerifySignature(t *testing.T) {
	body := []byte("payload")
	for _, method := range []string{"sha1", "sha256", "sha384", "sha512"} {
		assert.NoError(t, VerifySignature("key", body, Sign(method, "key", body)), method)
	}

	assert.ErrorIs(t, VerifySignature("key", body, ""), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("key", body, "md5=abcd"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("key", body, "sha256=zz"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("key", []byte("tampered"), Sign("sha256", "key", body)), ErrBadSignature)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func TestRenewDueReportsHubRejection(t *testing.T) {
	ctx := context.Background()
	hub := newFakeHub(t)
	hub.setStatus(http.StatusInternalServerError)
	m, st, c := newTestManager(t, testConfig())

	sub := &models.PushSubscription{
		FeedID: 1, CallbackID: "renew", HubURL: hub.srv.URL, TopicURL: topic, State: string(StateActive),
		Secret: "s", ExpiresAt: nullTime(c.t.Add(30 * time.Minute)),
	}
	require.NoError(t, st.SaveSubscription(ctx, sub))

	assert.Error(t, m.RenewDue(ctx))

	got, err := st.SubscriptionByFeed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, string(StateExpired), got.State)
	assert.NotEmpty(t, got.LastError)
	assert.False(t, m.IsActive(ctx, 1))
}
