package app

import (
	"database/sql"
	"time"

	"github.com/fiffu/feedwatch/lib/models"
	"github.com/fiffu/feedwatch/lib/poller"
)

type FeedView struct {
	ID                  uint    `json:"id"`
	URL                 string  `json:"url"`
	Title               string  `json:"title"`
	SiteURL             string  `json:"site_url"`
	IconURL             string  `json:"icon_url"`
	HubURL              string  `json:"hub_url,omitempty"`
	LastFetchedAt       *string `json:"last_fetched_at"`
	LastOutcome         string  `json:"last_outcome"`
	LastError           string  `json:"last_error,omitempty"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	NextFetchAt         string  `json:"next_fetch_at"`
	ScheduleReason      string  `json:"schedule_reason"`
}

type EntryView struct {
	ID          uint    `json:"id"`
	GUID        string  `json:"guid"`
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	Author      string  `json:"author,omitempty"`
	Summary     string  `json:"summary"`
	Content     string  `json:"content"`
	PublishedAt *string `json:"published_at"`
}

type CycleView struct {
	Outcome     string `json:"outcome"`
	New         int    `json:"new"`
	Updated     int    `json:"updated"`
	Unchanged   int    `json:"unchanged"`
	Skipped     int    `json:"skipped"`
	NextFetchAt string `json:"next_fetch_at"`
	Reason      string `json:"reason"`
}

func (view FeedView) From(entity *models.Feed) FeedView {
	return FeedView{
		ID:                  entity.ID,
		URL:                 entity.URL,
		Title:               entity.Title,
		SiteURL:             entity.SiteURL,
		IconURL:             entity.IconURL,
		HubURL:              entity.HubURL,
		LastFetchedAt:       isoformat(entity.LastFetchedAt),
		LastOutcome:         entity.LastOutcome,
		LastError:           entity.LastError,
		ConsecutiveFailures: entity.ConsecutiveFailures,
		NextFetchAt:         entity.NextFetchAt.UTC().Format(time.RFC3339),
		ScheduleReason:      entity.ScheduleReason,
	}
}

func (view EntryView) From(entity models.Entry) EntryView {
	return EntryView{
		ID:          entity.ID,
		GUID:        entity.GUID,
		Title:       entity.Title,
		Link:        entity.Link,
		Author:      entity.Author,
		Summary:     entity.Summary,
		Content:     entity.Content,
		PublishedAt: isoformat(entity.PublishedAt),
	}
}

func (view CycleView) From(res *poller.CycleResult) CycleView {
	if res == nil {
		return CycleView{}
	}
	return CycleView{
		Outcome:     string(res.Outcome),
		New:         res.New,
		Updated:     res.Updated,
		Unchanged:   res.Unchanged,
		Skipped:     res.Skipped,
		NextFetchAt: res.Schedule.NextFetchAt.UTC().Format(time.RFC3339),
		Reason:      string(res.Schedule.Reason),
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := t.Time.UTC().Format(time.RFC3339)
	return &s
}
