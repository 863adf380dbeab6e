package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"planner-bot/internal/model"
)

// UserDefaults are the reminder settings given to every new user.
type UserDefaults struct {
	DigestHour   int
	DigestMinute int
}

// UserRepository handles CRUD for users and their reminder settings.
type UserRepository struct {
	db       *gorm.DB
	defaults UserDefaults
}

func NewUserRepository(db *gorm.DB, defaults UserDefaults) *UserRepository {
	return &UserRepository{db: db, defaults: defaults}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
// New users get a fully populated settings record.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		user.FirstName, user.LastName, user.Username = firstName, lastName, username
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{
			TelegramID:               telegramID,
			FirstName:                firstName,
			LastName:                 lastName,
			Username:                 username,
			DigestEnabled:            true,
			DigestHour:               r.defaults.DigestHour,
			DigestMinute:             r.defaults.DigestMinute,
			DeadlineRemindersEnabled: true,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// SetDigestEnabled toggles the daily digest.
func (r *UserRepository) SetDigestEnabled(ctx context.Context, userID uint, enabled bool) error {
	return r.updateSettings(ctx, userID, map[string]interface{}{"digest_enabled": enabled})
}

// SetDeadlineReminders toggles deadline threshold alerts.
func (r *UserRepository) SetDeadlineReminders(ctx context.Context, userID uint, enabled bool) error {
	return r.updateSettings(ctx, userID, map[string]interface{}{"deadline_reminders_enabled": enabled})
}

// SetDigestTime moves the digest and turns it on. The delivery record is left
// alone: a day that already got its digest does not get another one.
func (r *UserRepository) SetDigestTime(ctx context.Context, userID uint, hour, minute int) error {
	return r.updateSettings(ctx, userID, map[string]interface{}{
		"digest_hour":    hour,
		"digest_minute":  minute,
		"digest_enabled": true,
	})
}

// MarkDigestSent records the digest delivery for day. It reports false when
// the day was already recorded.
func (r *UserRepository) MarkDigestSent(ctx context.Context, userID uint, day string) (bool, error) {
	var marked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).
			Where("id = ? AND (last_digest_date IS NULL OR last_digest_date <> ?)", userID, day).
			Update("last_digest_date", day)
		if res.Error != nil {
			return res.Error
		}
		marked = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark digest sent: %w", err)
	}
	return marked, nil
}

func (r *UserRepository) updateSettings(ctx context.Context, userID uint, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update settings: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
