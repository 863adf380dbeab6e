package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"planner-bot/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	users    []model.User
	tasks    []model.Task
	notes    []model.Note
	projects []model.Project

	listUsersErr error
	blockTasks   bool
	userErr      map[uint]error
	tasksErr     map[uint]error
	markErr      error
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listUsersErr != nil {
		return nil, f.listUsersErr
	}
	return append([]model.User(nil), f.users...), nil
}

func (f *fakeStore) GetUser(ctx context.Context, id uint) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.userErr[id]; err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u.ID == id {
			user := u
			return &user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) ListOpenTasks(ctx context.Context, userID uint) ([]model.Task, error) {
	if f.blockTasks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tasksErr[userID]; err != nil {
		return nil, err
	}
	var out []model.Task
	for _, t := range f.tasks {
		if t.UserID == userID && !t.IsDone() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ListNotesSince(ctx context.Context, userID uint, since time.Time) ([]model.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Note
	for _, n := range f.notes {
		if n.UserID == userID && !n.CreatedAt.Before(since) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) ListProjects(ctx context.Context, userID uint) ([]model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Project
	for _, p := range f.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkDigestSent(ctx context.Context, userID uint, day string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return false, f.markErr
	}
	for i := range f.users {
		if f.users[i].ID != userID {
			continue
		}
		if f.users[i].DigestSentOn(day) {
			return false, nil
		}
		d := day
		f.users[i].LastDigestDate = &d
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) MarkReminderSent(ctx context.Context, taskID uint, kind model.ReminderKind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return false, f.markErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID != taskID {
			continue
		}
		if f.tasks[i].IsDone() || f.tasks[i].ReminderSent(kind) {
			return false, nil
		}
		f.tasks[i].SetReminderSent(kind)
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) user(id uint) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u
		}
	}
	return model.User{}
}

func (f *fakeStore) task(id uint) model.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			return t
		}
	}
	return model.Task{}
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[int64]bool
	entered chan struct{}
	block   chan struct{}

	// failOnCall makes the n-th Send (1-based) fail.
	failOnCall int
	calls      int
}

var errSendFailed = errors.New("telegram unavailable")

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFor[chatID] || f.calls == f.failOnCall {
		return errSendFailed
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) setFailing(chatID int64, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor == nil {
		f.failFor = map[int64]bool{}
	}
	f.failFor[chatID] = failing
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func ptrString(s string) *string {
	return &s
}
