package app

import (
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewTransport is the outbound transport shared by feed fetches and hub
// requests.
func NewTransport(lc fx.Lifecycle, log *zap.Logger) http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = 4
	base.ResponseHeaderTimeout = 30 * time.Second
	return &transport{base, log}
}

type transport struct {
	base http.RoundTripper
	log  *zap.Logger
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := tpt.base.RoundTrip(req)
	elapsed := int(time.Since(start).Milliseconds())

	if err != nil {
		tpt.log.Sugar().Debugw("Outbound request failed",
			"method", req.Method, "url", req.URL.String(), "elapsed_msecs", elapsed, "err", err)
		return nil, err
	}
	tpt.log.Sugar().Debugw("Outbound request",
		"method", req.Method, "url", req.URL.String(), "status", res.StatusCode, "elapsed_msecs", elapsed)
	return res, nil
}
