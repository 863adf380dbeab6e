package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"planner-bot/internal/model"
	"planner-bot/internal/repository"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string
	Description string
	ProjectID   *uint
	DueAt       *time.Time
}

// TaskService wraps task, note and project helpers used by the chat commands.
type TaskService struct {
	taskRepo    *repository.TaskRepository
	noteRepo    *repository.NoteRepository
	projectRepo *repository.ProjectRepository
}

func NewTaskService(taskRepo *repository.TaskRepository, noteRepo *repository.NoteRepository, projectRepo *repository.ProjectRepository) *TaskService {
	return &TaskService{taskRepo: taskRepo, noteRepo: noteRepo, projectRepo: projectRepo}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	task := model.Task{
		UserID:      user.ID,
		ProjectID:   input.ProjectID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      model.StatusTodo,
		DueAt:       input.DueAt,
	}
	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) ListOpen(ctx context.Context, user *model.User) ([]model.Task, error) {
	return s.taskRepo.ListOpen(ctx, user.ID)
}

// CycleStatus moves the task to the next status: todo -> in_progress -> done -> todo.
func (s *TaskService) CycleStatus(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.taskRepo.SetStatus(ctx, task, task.Status.Next()); err != nil {
		return nil, err
	}
	return task, nil
}

// Reschedule sets a new deadline (nil clears it) and re-arms its reminders.
func (s *TaskService) Reschedule(ctx context.Context, user *model.User, taskID uint, dueAt *time.Time) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.taskRepo.Reschedule(ctx, task, dueAt); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *TaskService) DeleteTask(ctx context.Context, user *model.User, taskID uint) error {
	return s.taskRepo.Delete(ctx, user.ID, taskID)
}

// AddNote stores a note whose first line becomes the title.
func (s *TaskService) AddNote(ctx context.Context, user *model.User, text string) (*model.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("note text is required")
	}
	title, _, _ := strings.Cut(text, "\n")
	note := model.Note{UserID: user.ID, Title: strings.TrimSpace(title), Content: text}
	if err := s.noteRepo.Create(ctx, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *TaskService) AddProject(ctx context.Context, user *model.User, name string) (*model.Project, error) {
	return s.projectRepo.Create(ctx, user.ID, name, "")
}

// DueEndOfDay returns 23:59 of the given calendar day in loc; deadlines
// entered as a date last until the end of that day.
func DueEndOfDay(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 23, 59, 0, 0, loc)
}
