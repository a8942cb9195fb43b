package remind

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/tasknest/internal/taskstore"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []string
	failFor  map[string]bool
	messages map[string]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{failFor: make(map[string]bool), messages: make(map[string]string)}
}

func (n *recordingNotifier) Notify(_ context.Context, ownerKey, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[ownerKey] {
		return errors.New("delivery refused")
	}
	n.sent = append(n.sent, ownerKey)
	n.messages[ownerKey] = text
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func TestTickDeliversOnceAndFlags(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewInMemoryStore()
	now := time.Date(2029, time.December, 31, 18, 0, 30, 0, time.Local)

	task, err := store.CreateTask(ctx, taskstore.Task{
		OwnerKey: "u1",
		Title:    "Buy milk",
		DueDate:  time.Date(2030, time.January, 1, 0, 0, 0, 0, time.Local),
		NotifyAt: time.Date(2029, time.December, 31, 18, 0, 0, 0, time.Local),
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	notifier := newRecordingNotifier()
	sched := NewScheduler(store, notifier, fixedClock{now}, nil, time.Minute, time.Minute)

	sched.Tick(ctx)
	if notifier.count() != 1 {
		t.Fatalf("deliveries after first tick = %d, want 1", notifier.count())
	}
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if !got.RemindSent {
		t.Fatalf("RemindSent = false after delivery, want true")
	}

	sched.Tick(ctx)
	if notifier.count() != 1 {
		t.Fatalf("deliveries after second tick = %d, want 1 (no duplicates)", notifier.count())
	}
}

func TestTickSkipsDoneAndOutOfWindowTasks(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewInMemoryStore()
	now := time.Date(2030, time.March, 1, 12, 0, 0, 0, time.Local)

	if _, err := store.CreateTask(ctx, taskstore.Task{
		OwnerKey: "u1",
		Title:    "already done",
		DueDate:  now.AddDate(0, 0, 1),
		NotifyAt: now,
		Done:     true,
	}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := store.CreateTask(ctx, taskstore.Task{
		OwnerKey: "u1",
		Title:    "far away",
		DueDate:  now.AddDate(0, 0, 5),
		NotifyAt: now.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	notifier := newRecordingNotifier()
	sched := NewScheduler(store, notifier, fixedClock{now}, nil, time.Minute, time.Minute)
	sched.Tick(ctx)

	if notifier.count() != 0 {
		t.Fatalf("deliveries = %d, want 0", notifier.count())
	}
}

func TestTickIsolatesPerTaskFailures(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewInMemoryStore()
	now := time.Date(2030, time.March, 1, 18, 0, 0, 0, time.Local)

	failing, err := store.CreateTask(ctx, taskstore.Task{
		OwnerKey: "offline",
		Title:    "a",
		DueDate:  now.AddDate(0, 0, 1),
		NotifyAt: now,
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	healthy, err := store.CreateTask(ctx, taskstore.Task{
		OwnerKey: "online",
		Title:    "b",
		DueDate:  now.AddDate(0, 0, 1),
		NotifyAt: now,
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	notifier := newRecordingNotifier()
	notifier.failFor["offline"] = true
	sched := NewScheduler(store, notifier, fixedClock{now}, nil, time.Minute, time.Minute)
	sched.Tick(ctx)

	gotHealthy, _ := store.GetTask(ctx, healthy.ID)
	if !gotHealthy.RemindSent {
		t.Fatalf("healthy task not flagged; failure of another task leaked into the batch")
	}
	gotFailing, _ := store.GetTask(ctx, failing.ID)
	if gotFailing.RemindSent {
		t.Fatalf("failed delivery must leave the send flag unset")
	}

	// The failed one stays eligible and goes out once delivery recovers.
	notifier.failFor["offline"] = false
	sched.Tick(ctx)
	gotFailing, _ = store.GetTask(ctx, failing.ID)
	if !gotFailing.RemindSent {
		t.Fatalf("recovered task not flagged after retry")
	}
	if notifier.count() != 2 {
		t.Fatalf("deliveries = %d, want 2", notifier.count())
	}
}

func TestComposeReminderMentionsDueDateTitleAndTag(t *testing.T) {
	task := taskstore.Task{
		Title:   "Buy milk",
		DueDate: time.Date(2030, time.January, 1, 0, 0, 0, 0, time.Local),
	}
	msg := ComposeReminder(task, "errands")
	for _, want := range []string{"Buy milk", "01-01-2030", "#errands", "/edit_task"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("ComposeReminder() = %q, missing %q", msg, want)
		}
	}

	plain := ComposeReminder(task, "")
	if strings.Contains(plain, "#") {
		t.Fatalf("ComposeReminder() without tag = %q, should not mention a tag", plain)
	}
}
