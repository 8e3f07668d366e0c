package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fiffu/feedwatch/config"
	"github.com/fiffu/feedwatch/lib"
	"github.com/fiffu/feedwatch/lib/models"
	"github.com/fiffu/feedwatch/lib/websub"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxDeliveryBytes = 10 << 20

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, push *websub.Manager) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, push)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("HTTP server stopped", "err", err)
				}
			}()
			log.Sugar().Infow("HTTP server listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, push *websub.Manager) http.Handler {
	ctrl := &controller{log, svc, push}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("feedwatch", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", ctrl.listFeeds)
			r.Post("/", ctrl.addFeed)
			r.Get("/{feed_id}", ctrl.getFeed)
			r.Delete("/{feed_id}", ctrl.removeFeed)
			r.Post("/{feed_id}/refresh", ctrl.refreshFeed)
			r.Get("/{feed_id}/entries", ctrl.listEntries)
		})
	})

	// Hubs call these; they are authenticated by callback id and signature.
	r.Get("/websub/{callback_id}", ctrl.verifySubscription)
	r.Post("/websub/{callback_id}", ctrl.receiveDelivery)

	return r
}

type controller struct {
	log  *zap.Logger
	svc  *lib.Service
	push *websub.Manager
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

// fail maps service errors onto status codes.
func (ctrl *controller) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lib.ErrNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.Is(err, lib.ErrInvalidURL):
		ctrl.reject(w, http.StatusBadRequest, err)
	case errors.Is(err, lib.ErrFeedExists):
		ctrl.reject(w, http.StatusConflict, err)
	case errors.Is(err, lib.ErrNotAFeed):
		ctrl.reject(w, http.StatusUnprocessableEntity, err)
	default:
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func (ctrl *controller) listFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := ctrl.svc.ListFeeds(r.Context())
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[*models.Feed, FeedView](feeds))
}

func (ctrl *controller) addFeed(w http.ResponseWriter, r *http.Request) {
	feedURL := r.FormValue("url")
	if feedURL == "" {
		ctrl.reject(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	feed, res, err := ctrl.svc.AddFeed(r.Context(), feedURL)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, map[string]any{
		"feed":  FeedView{}.From(feed),
		"cycle": CycleView{}.From(res),
	})
}

func (ctrl *controller) getFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := ctrl.svc.GetFeed(r.Context(), parseID(chi.URLParam(r, "feed_id")))
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FeedView{}.From(feed))
}

func (ctrl *controller) removeFeed(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.RemoveFeed(r.Context(), parseID(chi.URLParam(r, "feed_id"))); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusNoContent, nil)
}

func (ctrl *controller) refreshFeed(w http.ResponseWriter, r *http.Request) {
	res, err := ctrl.svc.RefreshFeed(r.Context(), parseID(chi.URLParam(r, "feed_id")))
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, CycleView{}.From(res))
}

func (ctrl *controller) listEntries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := ctrl.svc.ListEntries(r.Context(), parseID(chi.URLParam(r, "feed_id")), limit)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[models.Entry, EntryView](entries))
}

func (ctrl *controller) verifySubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lease, _ := strconv.Atoi(q.Get("hub.lease_seconds"))
	v := websub.Verification{
		Mode:         q.Get("hub.mode"),
		Topic:        q.Get("hub.topic"),
		Challenge:    q.Get("hub.challenge"),
		LeaseSeconds: lease,
		Reason:       q.Get("hub.reason"),
	}

	challenge, err := ctrl.push.VerifyChallenge(r.Context(), chi.URLParam(r, "callback_id"), v)
	switch {
	case errors.Is(err, websub.ErrUnknownSubscription), errors.Is(err, websub.ErrChallengeMismatch):
		ctrl.log.Sugar().Infow("Rejected hub verification", "mode", v.Mode, "topic", v.Topic, "err", err)
		ctrl.reject(w, http.StatusNotFound, nil)
		return
	case err != nil:
		ctrl.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

func (ctrl *controller) receiveDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes))
	if err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	signature := r.Header.Get("X-Hub-Signature")
	err = ctrl.push.HandleDelivery(r.Context(), chi.URLParam(r, "callback_id"), body, r.Header.Get("Content-Type"), signature)
	switch {
	case errors.Is(err, websub.ErrUnknownSubscription), errors.Is(err, websub.ErrInactive):
		// 410 tells the hub to stop delivering to this callback.
		ctrl.reject(w, http.StatusGone, nil)
	default:
		// Deliveries with a bad signature are acknowledged and dropped.
		if err != nil && !errors.Is(err, websub.ErrBadSignature) {
			ctrl.log.Sugar().Warnw("Push delivery not applied", "err", err)
		}
		ctrl.reject(w, http.StatusAccepted, nil)
	}
}

func parseID(s string) uint {
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}
