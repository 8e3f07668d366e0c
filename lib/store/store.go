// Package store persists feeds, entries and push subscriptions with gorm.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fiffu/feedwatch/lib/entry"
	"github.com/fiffu/feedwatch/lib/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer; concurrent cycles queue on the pool instead
	// of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Feed{},
		&models.Entry{},
		&models.PushSubscription{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Store) CreateFeed(ctx context.Context, feed *models.Feed) error {
	tx := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(feed)
	return tx.Error
}

func (s *Store) GetFeed(ctx context.Context, id uint) (*models.Feed, error) {
	feed := &models.Feed{}
	tx := s.db.WithContext(ctx).First(feed, id)
	if err := tx.Error; err != nil {
		return nil, notFound(err)
	}
	return feed, nil
}

func (s *Store) FindFeedByURL(ctx context.Context, url string) (*models.Feed, error) {
	feed := &models.Feed{}
	tx := s.db.WithContext(ctx).Where("url = ?", url).First(feed)
	if err := tx.Error; err != nil {
		return nil, notFound(err)
	}
	return feed, nil
}

func (s *Store) ListFeeds(ctx context.Context) (models.Feeds, error) {
	var feeds models.Feeds
	tx := s.db.WithContext(ctx).Order("id").Find(&feeds)
	return feeds, tx.Error
}

func (s *Store) SaveFeed(ctx context.Context, feed *models.Feed) error {
	return s.db.WithContext(ctx).Save(feed).Error
}

// DeleteFeed removes a feed together with its entries and push subscription.
func (s *Store) DeleteFeed(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Delete(&models.Feed{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Unscoped().Where("feed_id = ?", id).Delete(&models.Entry{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("feed_id = ?", id).Delete(&models.PushSubscription{}).Error
	})
}

// DueFeeds calls fn with batches of feeds whose next fetch time has passed.
func (s *Store) DueFeeds(ctx context.Context, now time.Time, batchSize int, fn func(models.Feeds) error) error {
	var feeds models.Feeds
	tx := s.db.WithContext(ctx).
		Where("next_fetch_at <= ?", now).
		FindInBatches(&feeds, batchSize, func(tx *gorm.DB, batch int) error {
			return fn(feeds)
		})
	return tx.Error
}

// ExistingHashes maps guid to content hash for the entries stored for a feed.
func (s *Store) ExistingHashes(ctx context.Context, feedID uint) (map[string]string, error) {
	var rows []struct {
		GUID        string
		ContentHash string
	}
	tx := s.db.WithContext(ctx).Model(&models.Entry{}).
		Select("guid", "content_hash").
		Where("feed_id = ?", feedID).
		Find(&rows)
	if err := tx.Error; err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(rows))
	for _, r := range rows {
		hashes[r.GUID] = r.ContentHash
	}
	return hashes, nil
}

// SaveCycle writes the outcome of one poll cycle: new and updated entries are
// upserted and the feed row is saved, all or nothing.
func (s *Store) SaveCycle(ctx context.Context, feed *models.Feed, processed []entry.Processed) error {
	rows := make(models.Entries, 0, len(processed))
	for _, p := range processed {
		if p.Status == entry.StatusUnchanged {
			continue
		}
		rows = append(rows, toEntryModel(feed.ID, p))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "feed_id"}, {Name: "guid"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"title", "link", "author", "content", "summary", "content_hash", "published_at", "updated_at",
				}),
			}).Create(&rows).Error
			if err != nil {
				return fmt.Errorf("upsert entries: %w", err)
			}
		}
		if err := tx.Save(feed).Error; err != nil {
			return fmt.Errorf("save feed: %w", err)
		}
		return nil
	})
}

func toEntryModel(feedID uint, p entry.Processed) models.Entry {
	e := models.Entry{
		FeedID:      feedID,
		GUID:        p.GUID,
		Title:       p.Title,
		Link:        p.Link,
		Author:      p.Author,
		Content:     p.Content,
		Summary:     p.Summary,
		ContentHash: p.ContentHash,
	}
	if p.PublishedAt != nil {
		e.PublishedAt = sql.NullTime{Time: p.PublishedAt.UTC(), Valid: true}
	}
	return e
}

func (s *Store) ListEntries(ctx context.Context, feedID uint, limit int) (models.Entries, error) {
	var entries models.Entries
	tx := s.db.WithContext(ctx).
		Where("feed_id = ?", feedID).
		Order("published_at desc").
		Order("id desc").
		Limit(limit).
		Find(&entries)
	return entries, tx.Error
}
