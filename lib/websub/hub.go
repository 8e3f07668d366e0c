package websub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/feedwatch/lib/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
	ModeDenied      = "denied"
)

// HubRequest is the form posted to a hub to (un)subscribe.
type HubRequest struct {
	Mode         string
	Topic        string
	Callback     string
	Secret       string
	LeaseSeconds int
}

func (r HubRequest) form() url.Values {
	v := url.Values{}
	v.Set("hub.mode", r.Mode)
	v.Set("hub.topic", r.Topic)
	v.Set("hub.callback", r.Callback)
	if r.Secret != "" {
		v.Set("hub.secret", r.Secret)
	}
	if r.LeaseSeconds > 0 {
		v.Set("hub.lease_seconds", strconv.Itoa(r.LeaseSeconds))
	}
	return v
}

// HubClient posts subscription requests. Each hub gets its own circuit
// breaker so that a hub which keeps failing stops receiving requests for a
// while.
type HubClient struct {
	client  *http.Client
	log     *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewHubClient(transport http.RoundTripper, log *zap.Logger, timeout time.Duration) *HubClient {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HubClient{
		client:   &http.Client{Transport: transport},
		log:      log,
		timeout:  timeout,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (h *HubClient) breaker(hubURL string) *gobreaker.CircuitBreaker[struct{}] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cb, ok := h.breakers[hubURL]; ok {
		return cb
	}
	metrics.HubBreakerState.WithLabelValues(hubURL).Set(0)
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        hubURL,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.log.Sugar().Infow("Hub breaker state changed", "hub", name, "from", from.String(), "to", to.String())
			metrics.HubBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	h.breakers[hubURL] = cb
	return cb
}

// Request posts r to hubURL. The hub answers asynchronously through the
// callback; any 2xx here only means the request was accepted.
func (h *HubClient) Request(ctx context.Context, hubURL string, r HubRequest) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err := h.breaker(hubURL).Execute(func() (struct{}, error) {
		err := requests.URL(hubURL).
			Client(h.client).
			Method(http.MethodPost).
			BodyForm(r.form()).
			Fetch(ctx)
		return struct{}{}, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("hub %s unavailable: %w", hubURL, err)
	}
	if err != nil {
		return fmt.Errorf("%s request to %s: %w", r.Mode, hubURL, err)
	}
	return nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
