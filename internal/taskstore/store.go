package taskstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateTag = errors.New("tag title already exists for owner")
)

// Store is the CRUD contract shared by the dialog engine and the reminder
// scheduler. Every method is atomic at the record level. Task listings are
// ordered by due date ascending, then id, so ordinal selection is stable.
type Store interface {
	// EnsureUser creates the user on first contact, or returns the existing
	// record. DisplayName is updated if it changed.
	EnsureUser(ctx context.Context, ownerKey, displayName string) (User, error)

	CreateTag(ctx context.Context, ownerKey, title string) (Tag, error)
	GetTag(ctx context.Context, tagID string) (Tag, error)
	FindTagByTitle(ctx context.Context, ownerKey, title string) (Tag, error)
	ListTags(ctx context.Context, ownerKey string) ([]Tag, error)
	// DeleteTag removes the tag and nulls the tag reference on its tasks.
	DeleteTag(ctx context.Context, ownerKey, tagID string) error

	CreateTask(ctx context.Context, task Task) (Task, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	UpdateTask(ctx context.Context, task Task) error
	DeleteTask(ctx context.Context, ownerKey, taskID string) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)

	// DueReminders returns tasks with NotifyAt inside [from, to], not done
	// and not yet reminded.
	DueReminders(ctx context.Context, from, to time.Time) ([]Task, error)
	// MarkReminderSent sets RemindSent on the task, but only if the task is
	// still pending and its NotifyAt still equals notifyAt. Returns whether
	// the flag was set; a false result means the task was completed,
	// rescheduled or deleted while the reminder was in flight.
	MarkReminderSent(ctx context.Context, taskID string, notifyAt time.Time) (bool, error)

	Close() error
}
