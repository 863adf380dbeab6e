package model

import "time"

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// Next returns the status that follows s in the todo -> in_progress -> done cycle.
func (s TaskStatus) Next() TaskStatus {
	switch s {
	case StatusTodo:
		return StatusInProgress
	case StatusInProgress:
		return StatusDone
	default:
		return StatusTodo
	}
}

// ReminderKind names one of the fixed deadline lead times.
type ReminderKind string

const (
	Remind1Day   ReminderKind = "1d"
	Remind3Hours ReminderKind = "3h"
	Remind1Hour  ReminderKind = "1h"
)

// ReminderKinds lists the lead times from the earliest to the latest.
var ReminderKinds = []ReminderKind{Remind1Day, Remind3Hours, Remind1Hour}

// Lead is the time before the deadline at which the reminder is due.
func (k ReminderKind) Lead() time.Duration {
	switch k {
	case Remind1Day:
		return 24 * time.Hour
	case Remind3Hours:
		return 3 * time.Hour
	case Remind1Hour:
		return time.Hour
	default:
		return 0
	}
}

// Column is the one-shot flag column guarding the reminder.
func (k ReminderKind) Column() string {
	switch k {
	case Remind1Day:
		return "remind_1d_sent"
	case Remind3Hours:
		return "remind_3h_sent"
	case Remind1Hour:
		return "remind_1h_sent"
	default:
		return ""
	}
}

// Task represents a single item in the planner.
type Task struct {
	ID          uint  `gorm:"primaryKey"`
	UserID      uint  `gorm:"index"`
	ProjectID   *uint `gorm:"index"`
	Title       string
	Description string
	Status      TaskStatus `gorm:"size:16;not null;index"`
	DueAt       *time.Time

	Remind1DaySent bool `gorm:"column:remind_1d_sent;not null;default:false"`
	Remind3HSent   bool `gorm:"column:remind_3h_sent;not null;default:false"`
	Remind1HSent   bool `gorm:"column:remind_1h_sent;not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDone reports whether the task is closed.
func (t Task) IsDone() bool {
	return t.Status == StatusDone
}

// ReminderSent reports the one-shot flag for kind.
func (t Task) ReminderSent(kind ReminderKind) bool {
	switch kind {
	case Remind1Day:
		return t.Remind1DaySent
	case Remind3Hours:
		return t.Remind3HSent
	case Remind1Hour:
		return t.Remind1HSent
	default:
		return true
	}
}

// SetReminderSent flips the in-memory flag for kind.
func (t *Task) SetReminderSent(kind ReminderKind) {
	switch kind {
	case Remind1Day:
		t.Remind1DaySent = true
	case Remind3Hours:
		t.Remind3HSent = true
	case Remind1Hour:
		t.Remind1HSent = true
	}
}
