package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"planner-bot/internal/model"
)

const tracerName = "planner-bot/reminder"

var (
	// ErrPassInProgress is returned when a pass is requested while another runs.
	ErrPassInProgress = errors.New("reminder pass already in progress")
	// ErrUserNotFound is returned when a listed user vanished mid-pass.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmptyDigest is returned by Preview when there is nothing to report.
	ErrEmptyDigest = errors.New("digest has no content")
)

// Store is the persistence the reminder engine needs.
type Store interface {
	ContentSource
	ListUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, id uint) (*model.User, error)
	MarkDigestSent(ctx context.Context, userID uint, day string) (bool, error)
	MarkReminderSent(ctx context.Context, taskID uint, kind model.ReminderKind) (bool, error)
}

// Sender delivers a text message to a chat. Any error means not delivered.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// ReminderOptions tune the engine. Zero values fall back to defaults.
type ReminderOptions struct {
	Location     *time.Location
	Tolerance    time.Duration
	LookBack     time.Duration
	CatchUp      time.Duration
	SendTimeout  time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// PassReport summarises one pass over all users.
type PassReport struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Users     int           `json:"users"`
	Skipped   int           `json:"skipped"`
	Digests   int           `json:"digests"`
	Alerts    int           `json:"alerts"`
	Failures  int           `json:"failures"`
}

// ReminderService decides and delivers daily digests and deadline alerts.
type ReminderService struct {
	store   Store
	sender  Sender
	content *ContentAggregator
	opts    ReminderOptions
	log     *logrus.Logger

	running sync.Mutex

	mu         sync.Mutex
	lastPass   time.Time
	lastReport *PassReport
}

func NewReminderService(store Store, sender Sender, log *logrus.Logger, opts ReminderOptions) *ReminderService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.LookBack <= 0 {
		opts.LookBack = 2 * opts.Tolerance
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReminderService{
		store:   store,
		sender:  sender,
		content: NewContentAggregator(store, opts.Location),
		opts:    opts,
		log:     log,
	}
}

// Tick runs one pass at the current time and logs the outcome. It never fails;
// a pass that cannot start is retried by the next tick.
func (s *ReminderService) Tick(ctx context.Context) {
	report, err := s.RunPass(ctx, s.opts.Now())
	switch {
	case errors.Is(err, ErrPassInProgress):
		s.log.Warn("reminder pass skipped: previous pass still running")
	case errors.Is(err, context.Canceled):
		s.log.WithField("pass", report.ID).Info("reminder pass interrupted by shutdown")
	case err != nil:
		s.log.WithError(err).WithField("pass", report.ID).Error("reminder pass failed")
	}
}

// RunPass evaluates every user once at now. Per-user failures are logged and
// counted; only a failure to list users (or cancellation) is returned.
func (s *ReminderService) RunPass(ctx context.Context, now time.Time) (PassReport, error) {
	if !s.running.TryLock() {
		return PassReport{}, ErrPassInProgress
	}
	defer s.running.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "reminder.pass")
	defer span.End()

	report := PassReport{ID: uuid.NewString(), StartedAt: now}
	log := s.log.WithField("pass", report.ID)
	started := time.Now()

	listCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	users, err := s.store.ListUsers(listCtx)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list users")
		return report, fmt.Errorf("list users: %w", err)
	}

	window := NewDigestWindow(now, s.previousPass(), s.opts.LookBack, s.opts.CatchUp, s.opts.Location)
	log.WithFields(logrus.Fields{"users": len(users), "from": window.From.Format("15:04"), "to": window.To.Format("15:04")}).
		Debug("reminder pass started")

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(started)
			span.SetStatus(codes.Error, "cancelled")
			return report, err
		}
		report.Users++
		s.processUser(ctx, log.WithField("user", user.ID), &report, user.ID, now, window)
	}

	report.Duration = time.Since(started)
	s.remember(now, report)

	span.SetAttributes(
		attribute.Int("users", report.Users),
		attribute.Int("digests", report.Digests),
		attribute.Int("alerts", report.Alerts),
		attribute.Int("failures", report.Failures),
	)
	log.WithFields(logrus.Fields{
		"users":    report.Users,
		"skipped":  report.Skipped,
		"digests":  report.Digests,
		"alerts":   report.Alerts,
		"failures": report.Failures,
	}).Info("reminder pass finished")

	return report, nil
}

// LastReport returns the report of the last completed pass.
func (s *ReminderService) LastReport() (PassReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReport == nil {
		return PassReport{}, false
	}
	return *s.lastReport, true
}

// Preview composes today's digest for user without sending or recording it.
func (s *ReminderService) Preview(ctx context.Context, user model.User, now time.Time) (string, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	content, err := s.content.Collect(storeCtx, user.ID, now, true)
	if err != nil {
		return "", err
	}
	if content.Empty() {
		return "", ErrEmptyDigest
	}
	return ComposeDigest(content, s.opts.Location), nil
}

func (s *ReminderService) processUser(ctx context.Context, log *logrus.Entry, report *PassReport, userID uint, now time.Time, window DigestWindow) {
	defer func() {
		if r := recover(); r != nil {
			report.Failures++
			log.WithField("panic", r).Error("reminder pass: user processing panicked")
		}
	}()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		report.Failures++
		log.WithError(err).Warn("reminder pass: skip user")
		return
	}

	digestDue := DigestDue(*user, window)
	if !digestDue && !user.DeadlineRemindersEnabled {
		report.Skipped++
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	content, err := s.content.Collect(storeCtx, user.ID, now, digestDue)
	cancel()
	if err != nil {
		report.Failures++
		log.WithError(err).Warn("reminder pass: load content")
		return
	}

	if digestDue {
		s.deliverDigest(ctx, log, report, *user, content, window.Day)
	}
	if user.DeadlineRemindersEnabled {
		s.deliverAlerts(ctx, log, report, *user, content.Open, now)
	}
}

func (s *ReminderService) loadUser(ctx context.Context, userID uint) (*model.User, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	user, err := s.store.GetUser(storeCtx, userID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), err == nil && user == nil:
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
	case err != nil:
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return user, nil
}

func (s *ReminderService) deliverDigest(ctx context.Context, log *logrus.Entry, report *PassReport, user model.User, content Content, day string) {
	// Leave the day unmarked so the digest can still go out once there is something to say.
	if content.Empty() {
		log.Debug("digest suppressed: nothing to report")
		return
	}

	// The day is recorded only once every part went out.
	if err := s.send(ctx, user.TelegramID, ComposeDigest(content, s.opts.Location)); err != nil {
		report.Failures++
		log.WithError(err).Warn("digest not delivered")
		return
	}
	report.Digests++

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	marked, err := s.store.MarkDigestSent(storeCtx, user.ID, day)
	if err != nil {
		report.Failures++
		log.WithError(err).Error("digest delivered but not recorded")
		return
	}
	if !marked {
		log.WithField("day", day).Warn("digest already recorded for day")
		return
	}
	log.WithField("day", day).Info("digest delivered")
}

func (s *ReminderService) deliverAlerts(ctx context.Context, log *logrus.Entry, report *PassReport, user model.User, tasks []model.Task, now time.Time) {
	for _, task := range tasks {
		for _, kind := range DueThresholds(task, now, s.opts.Tolerance) {
			entry := log.WithFields(logrus.Fields{"task": task.ID, "kind": kind})

			if err := s.send(ctx, user.TelegramID, ComposeAlert(task, kind, s.opts.Location)); err != nil {
				report.Failures++
				entry.WithError(err).Warn("deadline alert not delivered")
				continue
			}
			report.Alerts++

			storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
			marked, err := s.store.MarkReminderSent(storeCtx, task.ID, kind)
			cancel()
			if err != nil {
				report.Failures++
				entry.WithError(err).Error("deadline alert delivered but not recorded")
				continue
			}
			if !marked {
				entry.Warn("deadline alert already recorded")
				continue
			}
			entry.Info("deadline alert delivered")
		}
	}
}

// send delivers text, split into as many messages as Telegram needs. It stops
// at the first part that fails.
func (s *ReminderService) send(ctx context.Context, chatID int64, text string) error {
	parts := SplitMessage(text, MessageLimit)
	for i, part := range parts {
		if err := s.sendOne(ctx, chatID, part); err != nil {
			if len(parts) > 1 {
				return fmt.Errorf("part %d of %d: %w", i+1, len(parts), err)
			}
			return err
		}
	}
	return nil
}

func (s *ReminderService) sendOne(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	return s.sender.Send(sendCtx, chatID, text)
}

func (s *ReminderService) previousPass() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPass
}

func (s *ReminderService) remember(now time.Time, report PassReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPass = now
	s.lastReport = &report
}
