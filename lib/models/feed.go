package models

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

type Feed struct {
	gorm.Model
	URL     string `gorm:"uniqueIndex"` // Canonical URL, moved on permanent redirects
	Title   string
	SiteURL string
	IconURL string

	// Validators for conditional requests
	ETag         string
	LastModified string

	ConsecutiveFailures int
	NextFetchAt         time.Time `gorm:"index;notNull"`
	LastFetchedAt       sql.NullTime
	LastOutcome         string
	LastError           string
	ScheduleReason      string

	// Self-declared refresh hints from the last successful parse
	TTLMinutes           sql.NullInt32
	SyndicationPeriod    string
	SyndicationFrequency int

	HubURL  string
	SelfURL string
}

type Feeds []*Feed
