package service

import (
	"context"
	"fmt"

	"planner-bot/internal/model"
	"planner-bot/internal/repository"
)

// SettingsService changes per-user reminder preferences.
type SettingsService struct {
	users *repository.UserRepository
}

func NewSettingsService(users *repository.UserRepository) *SettingsService {
	return &SettingsService{users: users}
}

func (s *SettingsService) ToggleDigest(ctx context.Context, user *model.User) (*model.User, error) {
	if err := s.users.SetDigestEnabled(ctx, user.ID, !user.DigestEnabled); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, user.ID)
}

func (s *SettingsService) ToggleDeadlineReminders(ctx context.Context, user *model.User) (*model.User, error) {
	if err := s.users.SetDeadlineReminders(ctx, user.ID, !user.DeadlineRemindersEnabled); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, user.ID)
}

// SetDigestTime moves the digest to hour:minute and enables it.
func (s *SettingsService) SetDigestTime(ctx context.Context, user *model.User, hour, minute int) (*model.User, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid time %02d:%02d", hour, minute)
	}
	if err := s.users.SetDigestTime(ctx, user.ID, hour, minute); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, user.ID)
}
