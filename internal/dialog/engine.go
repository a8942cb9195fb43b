package dialog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/ent0n29/tasknest/internal/clock"
	"github.com/ent0n29/tasknest/internal/observability"
	"github.com/ent0n29/tasknest/internal/remind"
	"github.com/ent0n29/tasknest/internal/taskstore"
)

// Button is an option the client renders for the user to press; Data comes
// back verbatim as a button event.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Reply is one outgoing prompt.
type Reply struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Engine interprets inbound text and button events against each user's
// dialog state and the task store. Events for one user are processed
// strictly in arrival order; users never block each other.
type Engine struct {
	store      taskstore.Store
	sessions   SessionStore
	clk        clock.Clock
	metrics    *observability.Metrics
	notifyHour int

	mu      sync.Mutex
	userMus map[string]*sync.Mutex
}

func NewEngine(store taskstore.Store, sessions SessionStore, clk clock.Clock, metrics *observability.Metrics, notifyHour int) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if notifyHour <= 0 || notifyHour > 23 {
		notifyHour = remind.DefaultNotifyHour
	}
	return &Engine{
		store:      store,
		sessions:   sessions,
		clk:        clk,
		metrics:    metrics,
		notifyHour: notifyHour,
		userMus:    make(map[string]*sync.Mutex),
	}
}

// HandleText processes one inbound text message from a user.
func (e *Engine) HandleText(ctx context.Context, ownerKey, displayName, text string) []Reply {
	unlock := e.lockUser(ownerKey)
	defer unlock()

	user, err := e.store.EnsureUser(ctx, ownerKey, strings.TrimSpace(displayName))
	if err != nil {
		return e.saveFailed(ownerKey, "ensure_user", err)
	}

	sess := e.sessions.Get(ownerKey)

	switch cmd := ParseCommand(text); cmd {
	case CmdStop:
		return e.cancel(sess)
	case CmdNone:
		// Free text for the current state.
	default:
		if !sess.Idle() {
			return replyText("Finish the current step first, or send /stop to cancel.")
		}
		return e.startCommand(ctx, sess, cmd, user)
	}

	switch sess.State {
	case StateIdle, "":
		return replyText("I didn't catch that. Try /add_task, /tasks, /edit_task, /add_tag or /delete_tag.")
	case StateAwaitingTaskTitleAndTag:
		return e.onTaskTitle(sess, text)
	case StateAwaitingDueDate:
		return e.onDueDate(ctx, sess, text)
	case StateAwaitingTagName:
		return e.onTagName(ctx, sess, text)
	case StateAwaitingTaskOrdinal:
		return e.onOrdinal(ctx, sess, text)
	case StateAwaitingNewTitle:
		return e.onNewTitle(ctx, sess, text)
	case StateAwaitingNewDueDate:
		return e.onNewDueDate(ctx, sess, text)
	case StateAwaitingNewTag:
		return e.onNewTag(ctx, sess, text)
	case StateAwaitingReminderTime:
		return e.onReminderTime(ctx, sess, text)
	case StateAwaitingTaskType, StateAwaitingTagFilter, StateAwaitingTagDeletion:
		return replyText("Use the buttons above, or send /stop to cancel.")
	default:
		return nil
	}
}

// HandleButton processes one button press. A press that has no transition in
// the current state is a no-op.
func (e *Engine) HandleButton(ctx context.Context, ownerKey, data string) []Reply {
	unlock := e.lockUser(ownerKey)
	defer unlock()

	sess := e.sessions.Get(ownerKey)
	act := ParseAction(data)

	switch sess.State {
	case StateAwaitingTaskType:
		switch act.Kind {
		case ActionShowActive:
			return e.showTaskList(ctx, sess, false, taskstore.Tag{})
		case ActionShowDone:
			return e.showTaskList(ctx, sess, true, taskstore.Tag{})
		case ActionFilter:
			return e.promptTagFilter(ctx, sess, false)
		case ActionEditActive:
			return e.beginOrdinalList(ctx, sess, false, "")
		case ActionEditDone:
			return e.beginOrdinalList(ctx, sess, true, "")
		case ActionFilterEdit:
			return e.promptTagFilter(ctx, sess, true)
		}
	case StateAwaitingTagFilter:
		if act.Kind == ActionPickTag {
			return e.onTagFilterPick(ctx, sess, act.TagID)
		}
	case StateAwaitingTagDeletion:
		if act.Kind == ActionPickTag {
			return e.onTagDelete(ctx, sess, act.TagID)
		}
	case StateAwaitingTaskOrdinal:
		if sess.SelectedTaskID != "" {
			return e.onTaskAction(ctx, sess, act.Kind)
		}
	}
	return nil
}

// lockUser serializes event handling per owner while leaving other owners
// free to run concurrently.
func (e *Engine) lockUser(ownerKey string) func() {
	e.mu.Lock()
	mu, ok := e.userMus[ownerKey]
	if !ok {
		mu = &sync.Mutex{}
		e.userMus[ownerKey] = mu
	}
	e.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) startCommand(ctx context.Context, sess Session, cmd Command, user taskstore.User) []Reply {
	switch cmd {
	case CmdStart:
		name := user.DisplayName
		if name == "" {
			name = "there"
		}
		return replyText(fmt.Sprintf(
			"Hi %s! I keep track of your tasks and remind you before deadlines.\n"+
				"/add_task — add a task\n/tasks — list tasks\n/edit_task — change or complete a task\n"+
				"/add_tag — create a tag\n/delete_tag — delete a tag\n/stop — cancel the current step", name))
	case CmdAddTask:
		sess.Draft = TaskDraft{}
		e.transition(sess, StateAwaitingTaskTitleAndTag)
		return replyText("What should I add? Send a title, optionally with #tag at the end.")
	case CmdAddTag:
		e.transition(sess, StateAwaitingTagName)
		return replyText("Send a name for the new tag.")
	case CmdDeleteTag:
		tags, err := e.store.ListTags(ctx, sess.OwnerKey)
		if err != nil {
			return e.saveFailed(sess.OwnerKey, "list_tags", err)
		}
		if len(tags) == 0 {
			return replyText("You have no tags yet. Create one with /add_tag.")
		}
		e.transition(sess, StateAwaitingTagDeletion)
		return []Reply{{Text: "Which tag should I delete? Its tasks will keep living, untagged.", Buttons: tagButtons(tags)}}
	case CmdTasks:
		e.transition(sess, StateAwaitingTaskType)
		return []Reply{{
			Text: "Which tasks do you want to see?",
			Buttons: []Button{
				{Label: "Active", Data: "active"},
				{Label: "Done", Data: "done"},
				{Label: "By tag", Data: "filter"},
			},
		}}
	case CmdEditTask:
		e.transition(sess, StateAwaitingTaskType)
		return []Reply{{
			Text: "Which tasks do you want to edit?",
			Buttons: []Button{
				{Label: "Active", Data: "edit_active"},
				{Label: "Done", Data: "edit_done"},
				{Label: "By tag", Data: "filter_edit"},
			},
		}}
	default:
		return nil
	}
}

func (e *Engine) cancel(sess Session) []Reply {
	if sess.Idle() {
		return replyText("Nothing to cancel.")
	}
	e.clearSession(sess.OwnerKey)
	e.event("flow_cancelled")
	return replyText("Cancelled. What's next?")
}

func (e *Engine) onTaskTitle(sess Session, text string) []Reply {
	title, tagTitle := SplitTitleTag(text)
	if title == "" {
		return replyText("The task needs a title. Send it again, optionally with #tag.")
	}
	if len(title) > taskstore.MaxTaskTitleLen {
		return replyText(fmt.Sprintf("Keep the title under %d characters.", taskstore.MaxTaskTitleLen))
	}
	if len(tagTitle) > taskstore.MaxTagTitleLen {
		return replyText(fmt.Sprintf("Tag names are at most %d characters.", taskstore.MaxTagTitleLen))
	}
	sess.Draft = TaskDraft{Title: title, TagTitle: tagTitle}
	e.transition(sess, StateAwaitingDueDate)
	return replyText("When is it due? (DD-MM-YYYY)")
}

func (e *Engine) onDueDate(ctx context.Context, sess Session, text string) []Reply {
	now := e.clk.Now()
	due, err := ParseDueDate(text, now)
	switch {
	case errors.Is(err, ErrBadDate):
		return replyText("I couldn't read that date. Use DD-MM-YYYY, e.g. 24-12-2026.")
	case errors.Is(err, ErrPastDate):
		return replyText("That date is already behind us. Pick today or later.")
	}

	var tagID string
	if sess.Draft.TagTitle != "" {
		tag, err := e.store.FindTagByTitle(ctx, sess.OwnerKey, sess.Draft.TagTitle)
		if errors.Is(err, taskstore.ErrNotFound) {
			e.clearSession(sess.OwnerKey)
			return replyText(fmt.Sprintf("You don't have a #%s tag yet. Create it with /add_tag and add the task again.", sess.Draft.TagTitle))
		}
		if err != nil {
			return e.saveFailed(sess.OwnerKey, "find_tag", err)
		}
		tagID = tag.ID
	}

	notifyAt := remind.NotifyAt(due, now, e.notifyHour)
	task, err := e.store.CreateTask(ctx, taskstore.Task{
		OwnerKey: sess.OwnerKey,
		Title:    sess.Draft.Title,
		TagID:    tagID,
		DueDate:  due,
		NotifyAt: notifyAt,
	})
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "create_task", err)
	}
	e.clearSession(sess.OwnerKey)
	e.event("task_created")
	return replyText(fmt.Sprintf("Added %q, due %s. I'll remind you around %s.",
		task.Title, due.Format(DueDateLayout), notifyAt.Format(RemindAtLayout)))
}

func (e *Engine) onTagName(ctx context.Context, sess Session, text string) []Reply {
	title := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "#"))
	if title == "" {
		return replyText("The tag needs a name. Send it again.")
	}
	if len(title) > taskstore.MaxTagTitleLen {
		return replyText(fmt.Sprintf("Tag names are at most %d characters.", taskstore.MaxTagTitleLen))
	}
	tag, err := e.store.CreateTag(ctx, sess.OwnerKey, title)
	if errors.Is(err, taskstore.ErrDuplicateTag) {
		return replyText(fmt.Sprintf("You already have a #%s tag. Send a different name.", title))
	}
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "create_tag", err)
	}
	e.clearSession(sess.OwnerKey)
	e.event("tag_created")
	return replyText(fmt.Sprintf("Tag #%s created.", tag.Title))
}

func (e *Engine) onOrdinal(ctx context.Context, sess Session, text string) []Reply {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(sess.Ordinals) {
		return replyText(fmt.Sprintf("Send a number between 1 and %d.", len(sess.Ordinals)))
	}
	task, err := e.store.GetTask(ctx, sess.Ordinals[n-1])
	if errors.Is(err, taskstore.ErrNotFound) || (err == nil && task.OwnerKey != sess.OwnerKey) {
		return replyText("That task is gone. Start again with /edit_task.")
	}
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "get_task", err)
	}
	if task.Done != sess.ListDone {
		return replyText("That task's status changed since the list was shown. Pick another number or /stop.")
	}
	sess.SelectedTaskID = task.ID
	sess.SelectedOrdinal = n
	e.transition(sess, StateAwaitingTaskOrdinal)
	return []Reply{taskMenu(task)}
}

func (e *Engine) onTaskAction(ctx context.Context, sess Session, kind ActionKind) []Reply {
	switch kind {
	case ActionChangeText:
		e.transition(sess, StateAwaitingNewTitle)
		return replyText("Send the new title.")
	case ActionChangeDeadline:
		e.transition(sess, StateAwaitingNewDueDate)
		return replyText("Send the new due date (DD-MM-YYYY).")
	case ActionChangeTag:
		e.transition(sess, StateAwaitingNewTag)
		return replyText("Send the tag name (without #).")
	case ActionSetRemind:
		e.transition(sess, StateAwaitingReminderTime)
		return replyText("When should I remind you? (DD-MM-YYYY HH:MM)")
	case ActionMarkDone:
		return e.setDone(ctx, sess, true, "Done! Nice work.")
	case ActionReopen:
		return e.setDone(ctx, sess, false, "Task is active again.")
	case ActionDelete:
		if err := e.store.DeleteTask(ctx, sess.OwnerKey, sess.SelectedTaskID); err != nil && !errors.Is(err, taskstore.ErrNotFound) {
			return e.saveFailed(sess.OwnerKey, "delete_task", err)
		}
		e.clearSession(sess.OwnerKey)
		e.event("task_deleted")
		return replyText("Task deleted.")
	default:
		return nil
	}
}

func (e *Engine) setDone(ctx context.Context, sess Session, done bool, confirmation string) []Reply {
	task, err := e.loadSelected(ctx, sess)
	if err != nil {
		return e.selectedGone(sess, err)
	}
	task.Done = done
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return e.saveFailed(sess.OwnerKey, "update_task", err)
	}
	e.clearSession(sess.OwnerKey)
	if done {
		e.event("task_completed")
	} else {
		e.event("task_reopened")
	}
	return replyText(confirmation)
}

func (e *Engine) onNewTitle(ctx context.Context, sess Session, text string) []Reply {
	title := strings.TrimSpace(text)
	if title == "" {
		return replyText("The title can't be empty. Send it again.")
	}
	if len(title) > taskstore.MaxTaskTitleLen {
		return replyText(fmt.Sprintf("Keep the title under %d characters.", taskstore.MaxTaskTitleLen))
	}
	return e.applyEdit(ctx, sess, "task_renamed", func(task *taskstore.Task) {
		task.Title = title
	})
}

func (e *Engine) onNewDueDate(ctx context.Context, sess Session, text string) []Reply {
	due, err := ParseDueDate(text, e.clk.Now())
	switch {
	case errors.Is(err, ErrBadDate):
		return replyText("I couldn't read that date. Use DD-MM-YYYY.")
	case errors.Is(err, ErrPastDate):
		return replyText("That date is already behind us. Pick today or later.")
	}
	// The reminder time is deliberately left alone: an explicit reminder
	// override survives a reschedule. Use the remind action to move it.
	return e.applyEdit(ctx, sess, "task_rescheduled", func(task *taskstore.Task) {
		task.DueDate = due
	})
}

func (e *Engine) onNewTag(ctx context.Context, sess Session, text string) []Reply {
	title := strings.TrimSpace(text)
	if title == "" || strings.HasPrefix(title, "#") {
		return replyText("Send just the tag name, without #.")
	}
	tag, err := e.store.FindTagByTitle(ctx, sess.OwnerKey, title)
	if errors.Is(err, taskstore.ErrNotFound) {
		return replyText(fmt.Sprintf("You don't have a #%s tag. Create it with /add_tag first.", title))
	}
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "find_tag", err)
	}
	return e.applyEdit(ctx, sess, "task_retagged", func(task *taskstore.Task) {
		task.TagID = tag.ID
	})
}

func (e *Engine) onReminderTime(ctx context.Context, sess Session, text string) []Reply {
	at, err := ParseRemindAt(text, e.clk.Now())
	switch {
	case errors.Is(err, ErrBadDate):
		return replyText("I couldn't read that. Use DD-MM-YYYY HH:MM, e.g. 24-12-2026 09:30.")
	case errors.Is(err, ErrPastDate):
		return replyText("That moment has already passed. Pick a future time.")
	}
	return e.applyEdit(ctx, sess, "reminder_set", func(task *taskstore.Task) {
		task.NotifyAt = at
		task.RemindSent = false
	})
}

// applyEdit mutates the selected task and returns the dialog to the
// task-selected menu so further actions can follow.
func (e *Engine) applyEdit(ctx context.Context, sess Session, event string, mutate func(*taskstore.Task)) []Reply {
	task, err := e.loadSelected(ctx, sess)
	if err != nil {
		return e.selectedGone(sess, err)
	}
	mutate(&task)
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return e.saveFailed(sess.OwnerKey, "update_task", err)
	}
	e.transition(sess, StateAwaitingTaskOrdinal)
	e.event(event)
	return []Reply{{Text: "Updated."}, taskMenu(task)}
}

func (e *Engine) loadSelected(ctx context.Context, sess Session) (taskstore.Task, error) {
	task, err := e.store.GetTask(ctx, sess.SelectedTaskID)
	if err != nil {
		return taskstore.Task{}, err
	}
	if task.OwnerKey != sess.OwnerKey {
		return taskstore.Task{}, taskstore.ErrNotFound
	}
	return task, nil
}

func (e *Engine) selectedGone(sess Session, err error) []Reply {
	if errors.Is(err, taskstore.ErrNotFound) {
		e.clearSession(sess.OwnerKey)
		return replyText("That task is gone. Start again with /edit_task.")
	}
	return e.saveFailed(sess.OwnerKey, "get_task", err)
}

func (e *Engine) showTaskList(ctx context.Context, sess Session, done bool, tag taskstore.Tag) []Reply {
	filter := taskstore.TaskFilter{OwnerKey: sess.OwnerKey, TagID: tag.ID}
	if tag.ID == "" {
		filter.Done = &done
	}
	tasks, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "list_tasks", err)
	}
	e.clearSession(sess.OwnerKey)
	if len(tasks) == 0 {
		return replyText("Nothing there. Add something with /add_task.")
	}
	titles, err := e.tagTitles(ctx, sess.OwnerKey)
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "list_tags", err)
	}
	var b strings.Builder
	for i, t := range tasks {
		b.WriteString(formatTaskLine(i+1, t, titles[t.TagID]))
		b.WriteByte('\n')
	}
	b.WriteString("Use /edit_task to change or complete a task.")
	return replyText(b.String())
}

func (e *Engine) beginOrdinalList(ctx context.Context, sess Session, done bool, tagID string) []Reply {
	tasks, err := e.store.ListTasks(ctx, taskstore.TaskFilter{OwnerKey: sess.OwnerKey, Done: &done, TagID: tagID})
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "list_tasks", err)
	}
	if len(tasks) == 0 {
		e.clearSession(sess.OwnerKey)
		return replyText("Nothing to edit there.")
	}
	titles, err := e.tagTitles(ctx, sess.OwnerKey)
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "list_tags", err)
	}

	sess.Ordinals = make([]string, len(tasks))
	var b strings.Builder
	for i, t := range tasks {
		sess.Ordinals[i] = t.ID
		b.WriteString(formatTaskLine(i+1, t, titles[t.TagID]))
		b.WriteByte('\n')
	}
	b.WriteString("Send the number of the task you want to work on.")

	sess.ListDone = done
	sess.SelectedTaskID = ""
	sess.SelectedOrdinal = 0
	e.transition(sess, StateAwaitingTaskOrdinal)
	return replyText(b.String())
}

func (e *Engine) promptTagFilter(ctx context.Context, sess Session, forEdit bool) []Reply {
	tags, err := e.store.ListTags(ctx, sess.OwnerKey)
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "list_tags", err)
	}
	if len(tags) == 0 {
		e.clearSession(sess.OwnerKey)
		return replyText("You have no tags yet. Create one with /add_tag.")
	}
	sess.FilterForEdit = forEdit
	e.transition(sess, StateAwaitingTagFilter)
	return []Reply{{Text: "Which tag?", Buttons: tagButtons(tags)}}
}

func (e *Engine) onTagFilterPick(ctx context.Context, sess Session, tagID string) []Reply {
	tag, err := e.store.GetTag(ctx, tagID)
	if errors.Is(err, taskstore.ErrNotFound) || (err == nil && tag.OwnerKey != sess.OwnerKey) {
		return replyText("That tag doesn't exist anymore. Pick another one or /stop.")
	}
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "get_tag", err)
	}
	if sess.FilterForEdit {
		return e.beginOrdinalList(ctx, sess, false, tag.ID)
	}
	return e.showTaskList(ctx, sess, false, tag)
}

func (e *Engine) onTagDelete(ctx context.Context, sess Session, tagID string) []Reply {
	err := e.store.DeleteTag(ctx, sess.OwnerKey, tagID)
	if errors.Is(err, taskstore.ErrNotFound) {
		return replyText("That tag is already gone. Pick another one or /stop.")
	}
	if err != nil {
		return e.saveFailed(sess.OwnerKey, "delete_tag", err)
	}
	e.clearSession(sess.OwnerKey)
	e.event("tag_deleted")
	return replyText("Tag deleted. Its tasks are untagged now.")
}

func (e *Engine) tagTitles(ctx context.Context, ownerKey string) (map[string]string, error) {
	tags, err := e.store.ListTags(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[t.ID] = t.Title
	}
	return out, nil
}

func (e *Engine) transition(sess Session, next State) {
	sess.State = next
	sess.UpdatedAt = e.clk.Now()
	e.sessions.Put(sess)
	e.syncGauge()
}

func (e *Engine) clearSession(ownerKey string) {
	e.sessions.Clear(ownerKey)
	e.syncGauge()
}

func (e *Engine) syncGauge() {
	if e.metrics != nil {
		e.metrics.ActiveDialogs.Set(float64(e.sessions.ActiveCount()))
	}
}

func (e *Engine) event(name string) {
	if e.metrics != nil {
		e.metrics.DialogEvents.WithLabelValues(name).Inc()
	}
}

// saveFailed clears the dialog so a later message doesn't resume into a
// half-written field bag.
func (e *Engine) saveFailed(ownerKey, op string, err error) []Reply {
	log.Printf("store %s failed for %s: %v", op, ownerKey, err)
	if e.metrics != nil {
		e.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
	e.clearSession(ownerKey)
	return replyText("Couldn't save that. Please try again in a moment.")
}

func taskMenu(task taskstore.Task) Reply {
	buttons := []Button{
		{Label: "Rename", Data: "change_text"},
		{Label: "Reschedule", Data: "change_deadline"},
		{Label: "Retag", Data: "change_tag"},
		{Label: "Remind", Data: "set_remind"},
	}
	if task.Done {
		buttons = append(buttons, Button{Label: "Reopen", Data: "to_active"})
	} else {
		buttons = append(buttons, Button{Label: "Complete", Data: "is_done"})
	}
	buttons = append(buttons, Button{Label: "Delete", Data: "delete"})
	return Reply{
		Text:    fmt.Sprintf("What do you want to do with %q?", task.Title),
		Buttons: buttons,
	}
}

func formatTaskLine(ordinal int, task taskstore.Task, tagTitle string) string {
	line := fmt.Sprintf("%d. %s — due %s", ordinal, task.Title, task.DueDate.Format(DueDateLayout))
	if tagTitle != "" {
		line += " #" + tagTitle
	}
	if task.Done {
		line += " (done)"
	}
	return line
}

func tagButtons(tags []taskstore.Tag) []Button {
	out := make([]Button, 0, len(tags))
	for _, t := range tags {
		out = append(out, Button{Label: "#" + t.Title, Data: TagPayload(t.ID)})
	}
	return out
}

func replyText(text string) []Reply {
	return []Reply{{Text: text}}
}
