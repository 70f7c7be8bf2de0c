package history

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"music-orchestrator/internal/track"
)

// Repository stores play records.
type Repository struct {
	db *gorm.DB
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open history db %s", dsn)
	}
	return NewRepository(db)
}

// NewRepository wraps an open connection and migrates the schema.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&PlayRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate history")
	}
	return &Repository{db: db}, nil
}

// Record stores that t started playing in sessionID at playedAt.
func (r *Repository) Record(ctx context.Context, sessionID string, t *track.Track, playedAt time.Time) error {
	rec := PlayRecord{
		SessionID: sessionID,
		TrackID:   t.Identifier,
		Title:     t.Title,
		Author:    t.Author,
		URI:       t.URI,
		Source:    t.Source,
		LengthMs:  t.LengthMs(),
		PlayedAt:  playedAt,
	}
	if t.Requester != nil {
		rec.RequesterID = t.Requester.UserID
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns the latest records of sessionID, newest first.
func (r *Repository) Recent(ctx context.Context, sessionID string, limit int) ([]PlayRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []PlayRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("played_at desc, id desc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// TopTracks returns the most played track ids of sessionID.
func (r *Repository) TopTracks(ctx context.Context, sessionID string, limit int) ([]TrackCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []TrackCount
	err := r.db.WithContext(ctx).Model(&PlayRecord{}).
		Select("track_id, title, count(*) as plays").
		Where("session_id = ?", sessionID).
		Group("track_id, title").
		Order("plays desc").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// TrackCount is a play count of one track.
type TrackCount struct {
	TrackID string `json:"trackId"`
	Title   string `json:"title"`
	Plays   int64  `json:"plays"`
}

// Close closes the underlying connection.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
