package model

import "time"

// Project groups tasks of one user.
type Project struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"index"`
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Tasks       []Task `gorm:"foreignKey:ProjectID"`
}
