package taskstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User // keyed by owner key
	tags  map[string]*Tag  // keyed by tag id
	tasks map[string]*Task // keyed by task id
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[string]*User),
		tags:  make(map[string]*Tag),
		tasks: make(map[string]*Task),
	}
}

func (s *InMemoryStore) EnsureUser(_ context.Context, ownerKey, displayName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[ownerKey]; ok {
		if displayName != "" && displayName != u.DisplayName {
			u.DisplayName = displayName
		}
		return *u, nil
	}
	u := &User{
		ID:          uuid.NewString(),
		OwnerKey:    ownerKey,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	s.users[ownerKey] = u
	return *u, nil
}

func (s *InMemoryStore) CreateTag(_ context.Context, ownerKey, title string) (Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tags {
		if t.OwnerKey == ownerKey && strings.EqualFold(t.Title, title) {
			return Tag{}, ErrDuplicateTag
		}
	}
	tag := &Tag{
		ID:        uuid.NewString(),
		OwnerKey:  ownerKey,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	s.tags[tag.ID] = tag
	return *tag, nil
}

func (s *InMemoryStore) GetTag(_ context.Context, tagID string) (Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[tagID]
	if !ok {
		return Tag{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemoryStore) FindTagByTitle(_ context.Context, ownerKey, title string) (Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tags {
		if t.OwnerKey == ownerKey && strings.EqualFold(t.Title, title) {
			return *t, nil
		}
	}
	return Tag{}, ErrNotFound
}

func (s *InMemoryStore) ListTags(_ context.Context, ownerKey string) ([]Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tag, 0, 4)
	for _, t := range s.tags {
		if t.OwnerKey == ownerKey {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) DeleteTag(_ context.Context, ownerKey, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[tagID]
	if !ok || t.OwnerKey != ownerKey {
		return ErrNotFound
	}
	delete(s.tags, tagID)
	for _, task := range s.tasks {
		if task.TagID == tagID {
			task.TagID = ""
		}
	}
	return nil
}

func (s *InMemoryStore) CreateTask(_ context.Context, task Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	cp := task
	s.tasks[task.ID] = &cp
	return task, nil
}

func (s *InMemoryStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemoryStore) UpdateTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	cp := task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *InMemoryStore) DeleteTask(_ context.Context, ownerKey, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.OwnerKey != ownerKey {
		return ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *InMemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, 8)
	for _, t := range s.tasks {
		if t.OwnerKey != filter.OwnerKey {
			continue
		}
		if filter.Done != nil && t.Done != *filter.Done {
			continue
		}
		if filter.TagID != "" && t.TagID != filter.TagID {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) DueReminders(_ context.Context, from, to time.Time) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, 4)
	for _, t := range s.tasks {
		if t.Done || t.RemindSent {
			continue
		}
		if t.NotifyAt.Before(from) || t.NotifyAt.After(to) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NotifyAt.Equal(out[j].NotifyAt) {
			return out[i].NotifyAt.Before(out[j].NotifyAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) MarkReminderSent(_ context.Context, taskID string, notifyAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return false, nil
	}
	if t.Done || t.RemindSent || !t.NotifyAt.Equal(notifyAt) {
		return false, nil
	}
	t.RemindSent = true
	return true, nil
}

func (s *InMemoryStore) Close() error { return nil }
