package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"planner-bot/internal/model"
)

// NoteRepository stores user notes.
type NoteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

func (r *NoteRepository) Create(ctx context.Context, note *model.Note) error {
	if !note.CreatedAt.IsZero() {
		note.CreatedAt = note.CreatedAt.UTC()
	}
	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

// ListSince returns notes created at or after since, oldest first.
func (r *NoteRepository) ListSince(ctx context.Context, userID uint, since time.Time) ([]model.Note, error) {
	var notes []model.Note
	if err := r.db.WithContext(ctx).Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Order("created_at ASC, id ASC").
		Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}
