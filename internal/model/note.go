package model

import "time"

// Note is a free-form text entry.
type Note struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"index"`
	Title     string
	Content   string
	Tags      string
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}
