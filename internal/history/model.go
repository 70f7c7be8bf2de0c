// Package history keeps a persistent log of tracks played per session.
package history

import (
	"time"

	"gorm.io/gorm"
)

// PlayRecord is one track that started playing in a session.
type PlayRecord struct {
	gorm.Model
	SessionID   string    `gorm:"index;not null"`
	TrackID     string    `gorm:"index;not null"`
	Title       string
	Author      string
	URI         string
	Source      string    `gorm:"size:32"`
	LengthMs    int64
	RequesterID string    `gorm:"index"`
	PlayedAt    time.Time `gorm:"index"`
}
