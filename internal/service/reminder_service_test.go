package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"planner-bot/internal/model"
)

var testLoc = time.FixedZone("MSK", 3*60*60)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, testLoc)
}

func digestUser(id uint, chatID int64) model.User {
	return model.User{
		ID:                       id,
		TelegramID:               chatID,
		DigestEnabled:            true,
		DigestHour:               9,
		DigestMinute:             0,
		DeadlineRemindersEnabled: true,
	}
}

func newTestService(store *fakeStore, sender *fakeSender, opts ReminderOptions) (*ReminderService, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	if opts.Location == nil {
		opts.Location = testLoc
	}
	return NewReminderService(store, sender, log, opts), hook
}

func TestRunPassDigestFiresOnceAtExactMinute(t *testing.T) {
	store := &fakeStore{
		users: []model.User{digestUser(1, 100)},
		tasks: []model.Task{{ID: 1, UserID: 1, Title: "Read book", Status: model.StatusTodo}},
	}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 1 || report.Users != 1 || report.Failures != 0 {
		t.Fatalf("report = %+v, want one digest", report)
	}
	msgs := sender.messages()
	if len(msgs) != 1 || msgs[0].chatID != 100 {
		t.Fatalf("sent = %+v, want one message to 100", msgs)
	}
	if !strings.Contains(msgs[0].text, "📝 <b>Задачи без дедлайна:</b>\n• Read book") {
		t.Fatalf("unexpected digest:\n%s", msgs[0].text)
	}
	if !store.user(1).DigestSentOn("2025-03-10") {
		t.Fatal("digest day not recorded")
	}

	report, err = svc.RunPass(context.Background(), at(9, 1))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 0 || len(sender.messages()) != 1 {
		t.Fatalf("digest fired again at 09:01: report = %+v", report)
	}
}

func TestRunPassDigestNotBeforeTime(t *testing.T) {
	store := &fakeStore{
		users:    []model.User{digestUser(1, 100)},
		projects: []model.Project{{ID: 1, UserID: 1, Name: "Home"}},
	}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	if _, err := svc.RunPass(context.Background(), at(8, 59)); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if len(sender.messages()) != 0 {
		t.Fatal("digest sent before its minute")
	}
}

func TestRunPassCoarseTickCoversSkippedMinutes(t *testing.T) {
	store := &fakeStore{
		users:    []model.User{digestUser(1, 100)},
		projects: []model.Project{{ID: 1, UserID: 1, Name: "Home"}},
	}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	if _, err := svc.RunPass(context.Background(), at(8, 58)); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	report, err := svc.RunPass(context.Background(), at(9, 3))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 1 {
		t.Fatalf("report = %+v, want the 09:00 digest picked up", report)
	}
}

func TestRunPassDigestDisabled(t *testing.T) {
	user := digestUser(1, 100)
	user.DigestEnabled = false
	store := &fakeStore{
		users:    []model.User{user},
		projects: []model.Project{{ID: 1, UserID: 1, Name: "Home"}},
	}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 0 || len(sender.messages()) != 0 {
		t.Fatalf("disabled digest sent: %+v", report)
	}
}

func TestRunPassSkipsUsersWithEverythingOff(t *testing.T) {
	user := digestUser(1, 100)
	user.DigestEnabled = false
	user.DeadlineRemindersEnabled = false
	store := &fakeStore{
		users: []model.User{user},
		tasks: []model.Task{{ID: 1, UserID: 1, Title: "Soon", Status: model.StatusTodo, DueAt: ptrTime(at(10, 0))}},
	}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Skipped != 1 || report.Alerts != 0 || len(sender.messages()) != 0 {
		t.Fatalf("report = %+v, want user skipped", report)
	}
}

func TestRunPassEmptyDigestIsNotRecorded(t *testing.T) {
	store := &fakeStore{users: []model.User{digestUser(1, 100)}}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{CatchUp: 30 * time.Minute})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 0 || len(sender.messages()) != 0 {
		t.Fatalf("empty digest sent: %+v", report)
	}
	if store.user(1).LastDigestDate != nil {
		t.Fatal("empty digest must not mark the day")
	}

	store.mu.Lock()
	store.notes = append(store.notes, model.Note{ID: 1, UserID: 1, Content: "idea", CreatedAt: at(9, 2)})
	store.mu.Unlock()

	report, err = svc.RunPass(context.Background(), at(9, 5))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 1 {
		t.Fatalf("report = %+v, want digest once content appeared", report)
	}
}

func TestRunPassFailedDigestIsRetried(t *testing.T) {
	store := &fakeStore{
		users:    []model.User{digestUser(1, 100)},
		projects: []model.Project{{ID: 1, UserID: 1, Name: "Home"}},
	}
	sender := &fakeSender{}
	sender.setFailing(100, true)
	svc, hook := newTestService(store, sender, ReminderOptions{})

	now := at(9, 0)
	report, err := svc.RunPass(context.Background(), now)
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Failures != 1 || report.Digests != 0 {
		t.Fatalf("report = %+v, want one failure", report)
	}
	if store.user(1).LastDigestDate != nil {
		t.Fatal("failed delivery must not mark the day")
	}
	if !hasEntry(hook, logrus.WarnLevel, "digest not delivered") {
		t.Fatal("failed delivery not logged")
	}

	sender.setFailing(100, false)
	report, err = svc.RunPass(context.Background(), now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 1 {
		t.Fatalf("report = %+v, want retry in the same minute to deliver", report)
	}
}

func TestRunPassDeadlineAlertIsOneShot(t *testing.T) {
	user := digestUser(1, 100)
	user.DigestEnabled = false
	now := at(12, 0)
	store := &fakeStore{
		users: []model.User{user},
		tasks: []model.Task{{ID: 5, UserID: 1, Title: "Report", Status: model.StatusTodo, DueAt: ptrTime(now.Add(61 * time.Minute))}},
	}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), now)
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Alerts != 1 {
		t.Fatalf("report = %+v, want one alert", report)
	}
	msgs := sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "осталось 1 час") {
		t.Fatalf("sent = %+v, want one hour alert", msgs)
	}
	if !store.task(5).Remind1HSent {
		t.Fatal("one hour flag not recorded")
	}

	for _, later := range []time.Time{now.Add(time.Minute), now.Add(2 * time.Minute), now.Add(10 * time.Minute)} {
		report, err = svc.RunPass(context.Background(), later)
		if err != nil {
			t.Fatalf("RunPass() error = %v", err)
		}
		if report.Alerts != 0 {
			t.Fatalf("alert repeated at %s", later.Format("15:04"))
		}
	}
}

func TestRunPassDeadlineRemindersDisabled(t *testing.T) {
	user := digestUser(1, 100)
	user.DeadlineRemindersEnabled = false
	now := at(12, 0)
	store := &fakeStore{
		users: []model.User{user},
		tasks: []model.Task{{ID: 5, UserID: 1, Title: "Report", Status: model.StatusTodo, DueAt: ptrTime(now.Add(time.Hour))}},
	}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), now)
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Alerts != 0 || len(sender.messages()) != 0 {
		t.Fatalf("report = %+v, want no alerts", report)
	}
}

func TestRunPassFailedAlertIsNotRecorded(t *testing.T) {
	user := digestUser(1, 100)
	user.DigestEnabled = false
	now := at(12, 0)
	store := &fakeStore{
		users: []model.User{user},
		tasks: []model.Task{{ID: 5, UserID: 1, Title: "Report", Status: model.StatusTodo, DueAt: ptrTime(now.Add(3 * time.Hour))}},
	}
	sender := &fakeSender{}
	sender.setFailing(100, true)
	svc, _ := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), now)
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Failures != 1 || store.task(5).Remind3HSent {
		t.Fatalf("report = %+v, flag = %v", report, store.task(5).Remind3HSent)
	}

	sender.setFailing(100, false)
	report, err = svc.RunPass(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Alerts != 1 || !store.task(5).Remind3HSent {
		t.Fatalf("report = %+v, want retry to deliver", report)
	}
}

func TestRunPassUserFailureDoesNotStopPass(t *testing.T) {
	store := &fakeStore{
		users:    []model.User{digestUser(1, 100), digestUser(2, 200)},
		userErr:  map[uint]error{1: errors.New("row locked")},
		projects: []model.Project{{ID: 1, UserID: 2, Name: "Home"}},
	}
	sender := &fakeSender{}
	svc, hook := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Users != 2 || report.Failures != 1 || report.Digests != 1 {
		t.Fatalf("report = %+v", report)
	}
	if msgs := sender.messages(); len(msgs) != 1 || msgs[0].chatID != 200 {
		t.Fatalf("sent = %+v, want user 2 served", msgs)
	}
	if !hasEntry(hook, logrus.WarnLevel, "reminder pass: skip user") {
		t.Fatal("user failure not logged")
	}
}

func TestRunPassUserVanished(t *testing.T) {
	store := &listOnlyStore{fakeStore: &fakeStore{}, listed: []model.User{digestUser(1, 100)}}
	log, hook := test.NewNullLogger()
	svc := NewReminderService(store, &fakeSender{}, log, ReminderOptions{Location: testLoc})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Failures != 1 {
		t.Fatalf("report = %+v, want one failure", report)
	}
	for _, e := range hook.AllEntries() {
		if err, ok := e.Data[logrus.ErrorKey].(error); ok && errors.Is(err, ErrUserNotFound) {
			return
		}
	}
	t.Fatal("ErrUserNotFound not logged")
}

func TestRunPassListUsersError(t *testing.T) {
	boom := errors.New("database is locked")
	store := &fakeStore{listUsersErr: boom}
	svc, _ := newTestService(store, &fakeSender{}, ReminderOptions{})

	_, err := svc.RunPass(context.Background(), at(9, 0))
	if !errors.Is(err, boom) {
		t.Fatalf("RunPass() error = %v, want %v", err, boom)
	}
	if _, ok := svc.LastReport(); ok {
		t.Fatal("failed pass must not be reported as completed")
	}
}

func TestRunPassCancelled(t *testing.T) {
	store := &fakeStore{users: []model.User{digestUser(1, 100)}}
	svc, _ := newTestService(store, &fakeSender{}, ReminderOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.RunPass(ctx, at(9, 0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunPass() error = %v, want context.Canceled", err)
	}
}

func TestRunPassDoesNotOverlap(t *testing.T) {
	store := &fakeStore{
		users:    []model.User{digestUser(1, 100)},
		projects: []model.Project{{ID: 1, UserID: 1, Name: "Home"}},
	}
	sender := &fakeSender{entered: make(chan struct{}, 1), block: make(chan struct{})}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := svc.RunPass(context.Background(), at(9, 0)); err != nil {
			t.Errorf("first RunPass() error = %v", err)
		}
	}()

	<-sender.entered
	if _, err := svc.RunPass(context.Background(), at(9, 0)); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("second RunPass() error = %v, want ErrPassInProgress", err)
	}
	close(sender.block)
	wg.Wait()

	if len(sender.messages()) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.messages()))
	}
}

func TestRunPassSendTimeout(t *testing.T) {
	store := &fakeStore{
		users:    []model.User{digestUser(1, 100)},
		projects: []model.Project{{ID: 1, UserID: 1, Name: "Home"}},
	}
	sender := &fakeSender{block: make(chan struct{})}
	defer close(sender.block)
	svc, _ := newTestService(store, sender, ReminderOptions{SendTimeout: 20 * time.Millisecond})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Failures != 1 || store.user(1).LastDigestDate != nil {
		t.Fatalf("report = %+v, want timed out send counted as failure", report)
	}
}

func TestRunPassRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	store := &fakeStore{
		users:    []model.User{digestUser(1, 100)},
		projects: []model.Project{{ID: 1, UserID: 1, Name: "Home"}},
	}
	svc, _ := newTestService(store, &fakeSender{}, ReminderOptions{})

	if _, err := svc.RunPass(context.Background(), at(9, 0)); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "reminder.pass" {
		t.Fatalf("spans = %+v, want one reminder.pass", spans)
	}
	attrs := map[string]int64{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	if attrs["users"] != 1 || attrs["digests"] != 1 {
		t.Fatalf("span attributes = %v", attrs)
	}
}

func TestLastReportAndTick(t *testing.T) {
	store := &fakeStore{users: []model.User{digestUser(1, 100)}}
	now := at(9, 0)
	svc, hook := newTestService(store, &fakeSender{}, ReminderOptions{Now: func() time.Time { return now }})

	if _, ok := svc.LastReport(); ok {
		t.Fatal("LastReport() before any pass should be empty")
	}

	svc.Tick(context.Background())

	report, ok := svc.LastReport()
	if !ok || report.Users != 1 || !report.StartedAt.Equal(now) || report.ID == "" {
		t.Fatalf("LastReport() = %+v, %v", report, ok)
	}
	if !hasEntry(hook, logrus.InfoLevel, "reminder pass finished") {
		t.Fatal("pass summary not logged")
	}
}

func TestPreview(t *testing.T) {
	store := &fakeStore{users: []model.User{digestUser(1, 100)}}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})
	user := store.user(1)

	if _, err := svc.Preview(context.Background(), user, at(15, 0)); !errors.Is(err, ErrEmptyDigest) {
		t.Fatalf("Preview() error = %v, want ErrEmptyDigest", err)
	}

	store.mu.Lock()
	store.tasks = append(store.tasks, model.Task{ID: 1, UserID: 1, Title: "Today", Status: model.StatusTodo, DueAt: ptrTime(at(18, 0))})
	store.mu.Unlock()

	text, err := svc.Preview(context.Background(), user, at(15, 0))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !strings.Contains(text, "🟠 <b>Задачи на сегодня:</b>\n• Today") {
		t.Fatalf("unexpected preview:\n%s", text)
	}
	if len(sender.messages()) != 0 || store.user(1).LastDigestDate != nil {
		t.Fatal("Preview must not send or record")
	}
}

// listOnlyStore lists users the underlying store can no longer load.
type listOnlyStore struct {
	*fakeStore
	listed []model.User
}

func (s *listOnlyStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.listed, nil
}

func hasEntry(hook *test.Hook, level logrus.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func TestRunPassSplitsLongDigest(t *testing.T) {
	tasks := manyTasks(200)
	for i := range tasks {
		tasks[i].UserID = 1
		tasks[i].Status = model.StatusTodo
	}
	store := &fakeStore{users: []model.User{digestUser(1, 100)}, tasks: tasks}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 1 || report.Failures != 0 {
		t.Fatalf("report = %+v, want one digest", report)
	}
	msgs := sender.messages()
	if len(msgs) < 2 {
		t.Fatalf("sent %d messages, want the digest split", len(msgs))
	}
	for i, msg := range msgs {
		if textLen(msg.text) > MessageLimit {
			t.Fatalf("message %d has %d units", i, textLen(msg.text))
		}
	}
	if !store.user(1).DigestSentOn("2025-03-10") {
		t.Fatal("digest day not recorded")
	}
}

func TestRunPassPartialDigestIsNotRecorded(t *testing.T) {
	tasks := manyTasks(200)
	for i := range tasks {
		tasks[i].UserID = 1
		tasks[i].Status = model.StatusTodo
	}
	store := &fakeStore{users: []model.User{digestUser(1, 100)}, tasks: tasks}
	sender := &fakeSender{failOnCall: 2}
	svc, _ := newTestService(store, sender, ReminderOptions{})

	report, err := svc.RunPass(context.Background(), at(9, 0))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 0 || report.Failures != 1 {
		t.Fatalf("report = %+v, want the failed part counted", report)
	}
	if store.user(1).LastDigestDate != nil {
		t.Fatal("partly delivered digest must not mark the day")
	}
	if len(sender.messages()) != 1 {
		t.Fatalf("sent %d parts, want delivery to stop at the failed one", len(sender.messages()))
	}
}

func TestPreviewHonoursStoreTimeout(t *testing.T) {
	store := &fakeStore{users: []model.User{digestUser(1, 100)}, blockTasks: true}
	svc, _ := newTestService(store, &fakeSender{}, ReminderOptions{StoreTimeout: 20 * time.Millisecond})

	_, err := svc.Preview(context.Background(), store.user(1), at(9, 0))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Preview() error = %v, want deadline exceeded", err)
	}
}

func TestRunPassLongPassKeepsSkippedMinutes(t *testing.T) {
	store := &fakeStore{
		users:    []model.User{digestUser(1, 100)},
		projects: []model.Project{{ID: 1, UserID: 1, Name: "Home"}},
	}
	sender := &fakeSender{}
	svc, _ := newTestService(store, sender, ReminderOptions{LookBack: 2 * time.Minute})

	if _, err := svc.RunPass(context.Background(), at(8, 59)); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	report, err := svc.RunPass(context.Background(), at(9, 3))
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.Digests != 1 {
		t.Fatalf("digests after long pass: %d, want 1", report.Digests)
	}
}
