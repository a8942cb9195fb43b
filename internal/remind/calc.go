package remind

import "time"

// DefaultNotifyHour is the hour of day reminders default to, on the day
// before the deadline.
const DefaultNotifyHour = 18

// lateNotifyLead is how far ahead of now a same-evening reminder is pushed
// when the default slot has already passed.
const lateNotifyLead = 2

// NotifyAt computes the reminder timestamp for a task due on dueDate,
// evaluated at now. The default slot is notifyHour:00 on the day before the
// deadline. If that slot is already behind us and the deadline is tomorrow,
// the reminder moves to today at now.Hour()+2:00 so it still lands before
// the deadline instead of in the past.
func NotifyAt(dueDate, now time.Time, notifyHour int) time.Time {
	if notifyHour <= 0 {
		notifyHour = DefaultNotifyHour
	}
	if now.Hour() >= notifyHour && sameDay(dueDate, now.AddDate(0, 0, 1)) {
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+lateNotifyLead, 0, 0, 0, now.Location())
	}
	eve := dueDate.AddDate(0, 0, -1)
	return time.Date(eve.Year(), eve.Month(), eve.Day(), notifyHour, 0, 0, 0, now.Location())
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
