package model

import "time"

// User stores Telegram user metadata and reminder settings.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string

	DigestEnabled            bool    `gorm:"not null"`
	DigestHour               int     `gorm:"not null"`
	DigestMinute             int     `gorm:"not null"`
	LastDigestDate           *string `gorm:"column:last_digest_date;size:10"`
	DeadlineRemindersEnabled bool    `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DigestSentOn reports whether the digest was already delivered on day (YYYY-MM-DD).
func (u User) DigestSentOn(day string) bool {
	return u.LastDigestDate != nil && *u.LastDigestDate == day
}

// RemindersOff is true when neither the digest nor deadline alerts can fire.
func (u User) RemindersOff() bool {
	return !u.DigestEnabled && !u.DeadlineRemindersEnabled
}
