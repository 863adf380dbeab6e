package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"planner-bot/internal/model"
)

// TaskRepository handles CRUD for tasks and their reminder flags.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = model.StatusTodo
	}
	task.DueAt = utc(task.DueAt)
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// ListOpen returns every task of the user that is not done.
func (r *TaskRepository) ListOpen(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND status <> ?", userID, model.StatusDone).
		Order("due_at NULLS LAST, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// SetStatus stores a new workflow status.
func (r *TaskRepository) SetStatus(ctx context.Context, task *model.Task, status model.TaskStatus) error {
	if err := r.db.WithContext(ctx).Model(task).Update("status", status).Error; err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	task.Status = status
	return nil
}

// Reschedule changes the due date. A new deadline re-arms all reminders.
func (r *TaskRepository) Reschedule(ctx context.Context, task *model.Task, dueAt *time.Time) error {
	dueAt = utc(dueAt)
	updates := map[string]interface{}{
		"due_at":         dueAt,
		"remind_1d_sent": false,
		"remind_3h_sent": false,
		"remind_1h_sent": false,
	}
	if err := r.db.WithContext(ctx).Model(task).Updates(updates).Error; err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	task.DueAt = dueAt
	task.Remind1DaySent, task.Remind3HSent, task.Remind1HSent = false, false, false
	return nil
}

// MarkReminderSent flips the one-shot flag for kind. It reports false when the
// flag was already set or the task is done or gone.
func (r *TaskRepository) MarkReminderSent(ctx context.Context, taskID uint, kind model.ReminderKind) (bool, error) {
	column := kind.Column()
	if column == "" {
		return false, fmt.Errorf("unknown reminder kind %q", kind)
	}
	var marked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("id = ? AND status <> ? AND "+column+" = ?", taskID, model.StatusDone, false).
			Update(column, true)
		if res.Error != nil {
			return res.Error
		}
		marked = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark reminder %s sent: %w", kind, err)
	}
	return marked, nil
}

// Delete removes a task for the given user.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID uint) error {
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).
		Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
