package remind

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ent0n29/tasknest/internal/clock"
	"github.com/ent0n29/tasknest/internal/observability"
	"github.com/ent0n29/tasknest/internal/taskstore"
)

// Notifier delivers a reminder text to a user. Implemented by the chat
// gateway; returns an error when the user cannot be reached.
type Notifier interface {
	Notify(ctx context.Context, ownerKey, text string) error
}

// Scheduler scans the task store on a fixed interval and pushes a
// notification for every task whose notify time falls inside the current
// window. A task is flagged after a successful delivery so it is eligible
// for at most one send per process lifetime.
type Scheduler struct {
	store    taskstore.Store
	notifier Notifier
	clk      clock.Clock
	metrics  *observability.Metrics
	interval time.Duration
	window   time.Duration
}

func NewScheduler(store taskstore.Store, notifier Notifier, clk clock.Clock, metrics *observability.Metrics, interval, window time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if window <= 0 {
		window = time.Minute
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		clk:      clk,
		metrics:  metrics,
		interval: interval,
		window:   window,
	}
}

// Run ticks until ctx is cancelled. Conversation traffic never blocks the
// ticker; each tick runs to completion before the next fires.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one due-reminder scan. Exported so tests can drive the
// scheduler against a fixed clock.
func (s *Scheduler) Tick(ctx context.Context) {
	started := time.Now()
	now := s.clk.Now()
	from, to := now.Add(-s.window), now.Add(s.window)

	due, err := s.store.DueReminders(ctx, from, to)
	if err != nil {
		log.Printf("reminder scan failed: %v", err)
		if s.metrics != nil {
			s.metrics.ReminderErrors.WithLabelValues("scan").Inc()
		}
		return
	}

	for _, task := range due {
		// One bad task must not poison the rest of the batch.
		if err := s.remind(ctx, task); err != nil {
			log.Printf("reminder for task %s failed: %v", task.ID, err)
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveTickDuration(time.Since(started))
	}
}

func (s *Scheduler) remind(ctx context.Context, task taskstore.Task) error {
	var tagTitle string
	if task.TagID != "" {
		tag, err := s.store.GetTag(ctx, task.TagID)
		switch {
		case err == nil:
			tagTitle = tag.Title
		case errors.Is(err, taskstore.ErrNotFound):
			// Tag deleted since the task was created; remind without it.
		default:
			if s.metrics != nil {
				s.metrics.ReminderErrors.WithLabelValues("tag_lookup").Inc()
			}
			return fmt.Errorf("tag lookup: %w", err)
		}
	}

	if err := s.notifier.Notify(ctx, task.OwnerKey, ComposeReminder(task, tagTitle)); err != nil {
		if s.metrics != nil {
			s.metrics.ReminderErrors.WithLabelValues("deliver").Inc()
		}
		return fmt.Errorf("deliver: %w", err)
	}

	flagged, err := s.store.MarkReminderSent(ctx, task.ID, task.NotifyAt)
	if err != nil {
		// Delivered but not flagged: a restart before the next tick can
		// duplicate this reminder. Known limitation, surfaced in the log.
		if s.metrics != nil {
			s.metrics.ReminderErrors.WithLabelValues("flag").Inc()
		}
		return fmt.Errorf("persist send flag: %w", err)
	}
	if !flagged {
		log.Printf("task %s changed while reminder was in flight; flag not set", task.ID)
		return nil
	}
	if s.metrics != nil {
		s.metrics.RemindersSent.Inc()
	}
	return nil
}

// ComposeReminder renders the notification text for a task.
func ComposeReminder(task taskstore.Task, tagTitle string) string {
	msg := fmt.Sprintf("Reminder: %q is due %s", task.Title, task.DueDate.Format("02-01-2006"))
	if tagTitle != "" {
		msg += " #" + tagTitle
	}
	return msg + ". Use /edit_task to change or complete it."
}
