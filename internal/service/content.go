package service

import (
	"context"
	"fmt"
	"time"

	"planner-bot/internal/model"
)

const dayLayout = "2006-01-02"

// ContentSource is the read side of the store used to build a digest.
type ContentSource interface {
	ListOpenTasks(ctx context.Context, userID uint) ([]model.Task, error)
	ListNotesSince(ctx context.Context, userID uint, since time.Time) ([]model.Note, error)
	ListProjects(ctx context.Context, userID uint) ([]model.Project, error)
}

// Content is everything one user's reminders are built from.
type Content struct {
	// Open holds every task that is not done, dated or not.
	Open []model.Task

	DueToday   []model.Task
	Overdue    []model.Task
	NoDeadline []model.Task
	Notes      []model.Note
	Projects   []model.Project
}

// Empty reports whether a digest built from c would have nothing to show.
func (c Content) Empty() bool {
	return len(c.DueToday) == 0 && len(c.Overdue) == 0 && len(c.NoDeadline) == 0 &&
		len(c.Notes) == 0 && len(c.Projects) == 0
}

// ContentAggregator loads and classifies a user's tasks, notes and projects.
type ContentAggregator struct {
	source ContentSource
	loc    *time.Location
}

func NewContentAggregator(source ContentSource, loc *time.Location) *ContentAggregator {
	if loc == nil {
		loc = time.Local
	}
	return &ContentAggregator{source: source, loc: loc}
}

// Collect loads the open tasks of the user. With withDigest it also fills the
// digest buckets, notes since the start of yesterday and all projects.
func (a *ContentAggregator) Collect(ctx context.Context, userID uint, now time.Time, withDigest bool) (Content, error) {
	var content Content

	tasks, err := a.source.ListOpenTasks(ctx, userID)
	if err != nil {
		return content, fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		if !task.IsDone() {
			content.Open = append(content.Open, task)
		}
	}
	if !withDigest {
		return content, nil
	}

	content.DueToday, content.Overdue, content.NoDeadline = ClassifyTasks(content.Open, now, a.loc)

	since := StartOfDay(now, a.loc).AddDate(0, 0, -1)
	content.Notes, err = a.source.ListNotesSince(ctx, userID, since)
	if err != nil {
		return content, fmt.Errorf("list notes: %w", err)
	}

	content.Projects, err = a.source.ListProjects(ctx, userID)
	if err != nil {
		return content, fmt.Errorf("list projects: %w", err)
	}

	return content, nil
}

// ClassifyTasks splits open tasks by the calendar date of their deadline.
// Tasks due after today go to no bucket.
func ClassifyTasks(tasks []model.Task, now time.Time, loc *time.Location) (dueToday, overdue, noDeadline []model.Task) {
	today := DayOf(now, loc)
	for _, task := range tasks {
		if task.IsDone() {
			continue
		}
		if task.DueAt == nil {
			noDeadline = append(noDeadline, task)
			continue
		}
		// Dates in YYYY-MM-DD form compare correctly as strings.
		switch day := DayOf(*task.DueAt, loc); {
		case day == today:
			dueToday = append(dueToday, task)
		case day < today:
			overdue = append(overdue, task)
		}
	}
	return dueToday, overdue, noDeadline
}

// DayOf returns the calendar date of t in loc as YYYY-MM-DD.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayLayout)
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
