package taskstore

import "time"

// Upper bounds on user-supplied names, matching the column widths.
const (
	MaxTaskTitleLen   = 50
	MaxTagTitleLen    = 20
	MaxDisplayNameLen = 50
)

// User is created lazily on first contact and never deleted.
type User struct {
	ID          string    `json:"id"`
	OwnerKey    string    `json:"owner_key"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Tag belongs to exactly one owner; Title is unique per owner.
type Tag struct {
	ID        string    `json:"id"`
	OwnerKey  string    `json:"owner_key"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is the unit of work the bot tracks. TagID is empty when the task is
// untagged or its tag was deleted. NotifyAt is computed once at creation and
// only rewritten by an explicit reminder override; RemindSent is reset to
// false whenever NotifyAt changes.
type Task struct {
	ID         string    `json:"id"`
	OwnerKey   string    `json:"owner_key"`
	Title      string    `json:"title"`
	TagID      string    `json:"tag_id,omitempty"`
	DueDate    time.Time `json:"due_date"`
	Done       bool      `json:"is_done"`
	NotifyAt   time.Time `json:"notify_at"`
	RemindSent bool      `json:"send_remind"`
	CreatedAt  time.Time `json:"created_at"`
}

// TaskFilter selects tasks for listing. Done=nil matches both statuses;
// TagID="" matches any tag (including none).
type TaskFilter struct {
	OwnerKey string
	Done     *bool
	TagID    string
}
