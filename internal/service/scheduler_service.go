package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SchedulerService wraps cron-based jobs. Jobs never overlap: a tick that
// arrives while the previous run is still going is skipped.
type SchedulerService struct {
	cron *cron.Cron
}

func NewSchedulerService(loc *time.Location, log *logrus.Logger) *SchedulerService {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	logger := cronLogger{entry: log.WithField("component", "scheduler")}
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// ScheduleEvery registers a periodic job. A one-minute interval is aligned to
// the start of each minute.
func (s *SchedulerService) ScheduleEvery(interval time.Duration, job func()) (cron.EntryID, error) {
	spec, err := everySpec(interval)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, job)
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func everySpec(interval time.Duration) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("interval must be positive")
	}
	if interval == time.Minute {
		// cron format: second minute hour dom month dow
		return "0 * * * * *", nil
	}
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("@every %ds", seconds), nil
}

// cronLogger routes cron's key/value logging into logrus.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	entry := l.entry.WithFields(kvFields(keysAndValues))
	if strings.HasPrefix(msg, "skip") {
		entry.Warn("cron: " + msg)
		return
	}
	entry.Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
