package dialog

import (
	"errors"
	"strings"
	"time"
)

// Command is a flow entry point parsed from inbound text.
type Command string

const (
	CmdNone      Command = ""
	CmdStart     Command = "start"
	CmdAddTask   Command = "add_task"
	CmdEditTask  Command = "edit_task"
	CmdTasks     Command = "tasks"
	CmdAddTag    Command = "add_tag"
	CmdDeleteTag Command = "delete_tag"
	CmdStop      Command = "stop"
)

// ParseCommand recognizes slash commands and the bare stop word. Anything
// else is free text for the current state.
func ParseCommand(text string) Command {
	t := strings.TrimSpace(text)
	if strings.EqualFold(t, "stop") {
		return CmdStop
	}
	if !strings.HasPrefix(t, "/") {
		return CmdNone
	}
	switch strings.ToLower(strings.TrimPrefix(t, "/")) {
	case "start":
		return CmdStart
	case "add_task":
		return CmdAddTask
	case "edit_task":
		return CmdEditTask
	case "tasks":
		return CmdTasks
	case "add_tag":
		return CmdAddTag
	case "delete_tag":
		return CmdDeleteTag
	case "stop":
		return CmdStop
	default:
		return CmdNone
	}
}

// ActionKind is the closed set of button payload variants. Parsing into a
// tagged value keeps the per-state dispatch exhaustive instead of stringly.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionShowActive
	ActionShowDone
	ActionFilter
	ActionEditActive
	ActionEditDone
	ActionFilterEdit
	ActionPickTag
	ActionChangeText
	ActionChangeDeadline
	ActionChangeTag
	ActionSetRemind
	ActionMarkDone
	ActionReopen
	ActionDelete
)

// Action is one parsed button press. TagID is set only for ActionPickTag.
type Action struct {
	Kind  ActionKind
	TagID string
}

const tagPayloadPrefix = "tag_"

func ParseAction(data string) Action {
	data = strings.TrimSpace(data)
	if id, ok := strings.CutPrefix(data, tagPayloadPrefix); ok && id != "" {
		return Action{Kind: ActionPickTag, TagID: id}
	}
	switch data {
	case "active":
		return Action{Kind: ActionShowActive}
	case "done":
		return Action{Kind: ActionShowDone}
	case "filter":
		return Action{Kind: ActionFilter}
	case "edit_active":
		return Action{Kind: ActionEditActive}
	case "edit_done":
		return Action{Kind: ActionEditDone}
	case "filter_edit":
		return Action{Kind: ActionFilterEdit}
	case "change_text":
		return Action{Kind: ActionChangeText}
	case "change_deadline":
		return Action{Kind: ActionChangeDeadline}
	case "change_tag":
		return Action{Kind: ActionChangeTag}
	case "set_remind":
		return Action{Kind: ActionSetRemind}
	case "is_done":
		return Action{Kind: ActionMarkDone}
	case "to_active":
		return Action{Kind: ActionReopen}
	case "delete":
		return Action{Kind: ActionDelete}
	default:
		return Action{Kind: ActionUnknown}
	}
}

// TagPayload renders the button payload selecting a tag.
func TagPayload(tagID string) string {
	return tagPayloadPrefix + tagID
}

const (
	DueDateLayout  = "02-01-2006"
	RemindAtLayout = "02-01-2006 15:04"
)

var (
	ErrBadDate  = errors.New("unparseable date")
	ErrPastDate = errors.New("date is in the past")
)

// ParseDueDate reads a DD-MM-YYYY due date. Today is allowed; anything
// earlier is rejected at day granularity.
func ParseDueDate(text string, now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation(DueDateLayout, strings.TrimSpace(text), now.Location())
	if err != nil {
		return time.Time{}, ErrBadDate
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if t.Before(today) {
		return time.Time{}, ErrPastDate
	}
	return t, nil
}

// ParseRemindAt reads a DD-MM-YYYY HH:MM reminder timestamp, which must be
// strictly in the future.
func ParseRemindAt(text string, now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation(RemindAtLayout, strings.TrimSpace(text), now.Location())
	if err != nil {
		return time.Time{}, ErrBadDate
	}
	if !t.After(now) {
		return time.Time{}, ErrPastDate
	}
	return t, nil
}

// SplitTitleTag splits "title #tag" on the last '#'. Absent a '#', the whole
// input is the title.
func SplitTitleTag(text string) (title, tag string) {
	i := strings.LastIndex(text, "#")
	if i < 0 {
		return strings.TrimSpace(text), ""
	}
	return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+1:])
}
