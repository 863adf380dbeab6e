package service

import (
	"time"

	"planner-bot/internal/model"
)

// DefaultTolerance is the margin around each lead time within which a tick
// counts as a hit.
const DefaultTolerance = 5 * time.Minute

// DueThresholds returns the reminder kinds that should fire for task at now.
// Done, undated and already overdue tasks never fire.
func DueThresholds(task model.Task, now time.Time, tolerance time.Duration) []model.ReminderKind {
	if task.IsDone() || task.DueAt == nil {
		return nil
	}
	delta := int(task.DueAt.Sub(now) / time.Minute)
	if delta <= 0 {
		return nil
	}
	tol := int(tolerance / time.Minute)

	var kinds []model.ReminderKind
	for _, kind := range model.ReminderKinds {
		lead := int(kind.Lead() / time.Minute)
		if delta < lead-tol || delta > lead+tol {
			continue
		}
		if task.ReminderSent(kind) {
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds
}
