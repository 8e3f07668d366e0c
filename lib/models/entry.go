package models

import (
	"database/sql"

	"gorm.io/gorm"
)

type Entry struct {
	gorm.Model
	FeedID      uint   `gorm:"uniqueIndex:idx_feed_guid;notNull"` // Composite unique index on feed & guid
	GUID        string `gorm:"uniqueIndex:idx_feed_guid;notNull"`
	Title       string
	Link        string
	Author      string
	Content     string
	Summary     string
	ContentHash string
	PublishedAt sql.NullTime
}

type Entries []Entry
