package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"planner-bot/internal/model"
)

// Store bundles the repositories the reminder engine reads and flags.
type Store struct {
	Users    *UserRepository
	Tasks    *TaskRepository
	Notes    *NoteRepository
	Projects *ProjectRepository
}

func NewStore(db *gorm.DB, defaults UserDefaults) *Store {
	return &Store{
		Users:    NewUserRepository(db, defaults),
		Tasks:    NewTaskRepository(db),
		Notes:    NewNoteRepository(db),
		Projects: NewProjectRepository(db),
	}
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.Users.ListAll(ctx)
}

func (s *Store) GetUser(ctx context.Context, id uint) (*model.User, error) {
	return s.Users.FindByID(ctx, id)
}

func (s *Store) ListOpenTasks(ctx context.Context, userID uint) ([]model.Task, error) {
	return s.Tasks.ListOpen(ctx, userID)
}

func (s *Store) ListNotesSince(ctx context.Context, userID uint, since time.Time) ([]model.Note, error) {
	return s.Notes.ListSince(ctx, userID, since)
}

func (s *Store) ListProjects(ctx context.Context, userID uint) ([]model.Project, error) {
	return s.Projects.ListByUser(ctx, userID)
}

func (s *Store) MarkDigestSent(ctx context.Context, userID uint, day string) (bool, error) {
	return s.Users.MarkDigestSent(ctx, userID, day)
}

func (s *Store) MarkReminderSent(ctx context.Context, taskID uint, kind model.ReminderKind) (bool, error) {
	return s.Tasks.MarkReminderSent(ctx, taskID, kind)
}
