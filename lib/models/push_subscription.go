package models

import (
	"database/sql"

	"gorm.io/gorm"
)

type PushSubscription struct {
	gorm.Model
	FeedID     uint   `gorm:"uniqueIndex;notNull"`
	CallbackID string `gorm:"uniqueIndex;notNull"` // Path segment of the callback URL
	HubURL     string
	TopicURL   string
	State      string `gorm:"index"`
	Secret     string

	LeaseSeconds int
	RequestedAt  sql.NullTime
	VerifiedAt   sql.NullTime
	ExpiresAt    sql.NullTime `gorm:"index"`
	LastError    string
}

type PushSubscriptions []*PushSubscription
