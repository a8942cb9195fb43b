package dialog

import (
	"sync"
	"time"
)

// State labels the step a user's dialog is waiting on. The set is closed;
// StateIdle is both the initial state and the terminal state of every
// completed or cancelled flow.
type State string

const (
	StateIdle                   State = "idle"
	StateAwaitingTaskTitleAndTag State = "awaiting_task_title_and_tag"
	StateAwaitingDueDate        State = "awaiting_due_date"
	StateAwaitingTagName        State = "awaiting_tag_name"
	StateAwaitingTagDeletion    State = "awaiting_tag_deletion_choice"
	StateAwaitingTaskType       State = "awaiting_task_type_selection"
	StateAwaitingTagFilter      State = "awaiting_tag_filter_choice"
	StateAwaitingTaskOrdinal    State = "awaiting_task_ordinal"
	StateAwaitingNewTitle       State = "awaiting_new_title"
	StateAwaitingNewDueDate     State = "awaiting_new_due_date"
	StateAwaitingNewTag         State = "awaiting_new_tag"
	StateAwaitingReminderTime   State = "awaiting_reminder_time"
)

// TaskDraft is the partial task a creation flow has collected so far.
type TaskDraft struct {
	Title    string
	TagTitle string
}

// Session is one user's dialog state between events. Ordinals maps the
// 1-based position shown in the last selection list to task ids; it is the
// only lookup path while an ordinal is awaited. A non-empty SelectedTaskID
// while in StateAwaitingTaskOrdinal means a task is picked and the machine
// is offering the action menu for it.
type Session struct {
	OwnerKey        string
	State           State
	Draft           TaskDraft
	Ordinals        []string
	ListDone        bool
	FilterForEdit   bool
	SelectedTaskID  string
	SelectedOrdinal int
	UpdatedAt       time.Time
}

func (s Session) Idle() bool {
	return s.State == "" || s.State == StateIdle
}

// SessionStore keeps dialog state between events, keyed by owner. Get for an
// unknown owner returns an idle session; Clear is equivalent to putting one.
type SessionStore interface {
	Get(ownerKey string) Session
	Put(session Session)
	Clear(ownerKey string)
	ActiveCount() int
}

// MemorySessionStore is the in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (m *MemorySessionStore) Get(ownerKey string) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[ownerKey]; ok {
		return s
	}
	return Session{OwnerKey: ownerKey, State: StateIdle}
}

func (m *MemorySessionStore) Put(session Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.OwnerKey] = session
}

func (m *MemorySessionStore) Clear(ownerKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, ownerKey)
}

func (m *MemorySessionStore) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if !s.Idle() {
			count++
		}
	}
	return count
}
