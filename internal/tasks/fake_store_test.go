package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"tasktracker/internal/models"
)

// fakeStore keeps every collection in memory and implements the service
// ports together with the activity and notification stores.
type fakeStore struct {
	mu sync.RWMutex

	tasks         map[string]models.Task
	order         []string
	comments      []models.Comment
	activity      []models.ActivityEntry
	notifications []models.Notification

	failNotifications error
	failActivity      error
	updates           int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]models.Task)}
}

func cloneTask(t models.Task) models.Task {
	out := t
	out.AssignedTo = slices.Clone(t.AssignedTo)
	out.Tags = slices.Clone(t.Tags)
	if out.AssignedTo == nil {
		out.AssignedTo = []string{}
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

func (f *fakeStore) CreateTask(_ context.Context, t models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[t.ID]; ok {
		return fmt.Errorf("duplicate task %s", t.ID)
	}
	f.tasks[t.ID] = cloneTask(t)
	f.order = append(f.order, t.ID)
	return nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (models.Task, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tasks[id]
	if !ok {
		return models.Task{}, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return cloneTask(t), nil
}

func (f *fakeStore) UpdateTask(_ context.Context, t models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, models.ErrNotFound)
	}
	f.tasks[t.ID] = cloneTask(t)
	f.updates++
	return nil
}

func (f *fakeStore) ListTasks(_ context.Context, filter models.TaskFilter) ([]models.Task, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []models.Task{}
	for i := len(f.order) - 1; i >= 0; i-- {
		t, ok := f.tasks[f.order[i]]
		if !ok || !matches(t, filter) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	if filter.Offset >= len(out) {
		return []models.Task{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(t models.Task, f models.TaskFilter) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(tag string) bool { return slices.Contains(t.Tags, tag) }) {
		return false
	}
	if f.Text != "" {
		q := strings.ToLower(f.Text)
		desc := ""
		if t.Description != nil {
			desc = *t.Description
		}
		if !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(desc), q) {
			return false
		}
	}
	if f.AssignedTo != nil && !t.IsAssignee(*f.AssignedTo) {
		return false
	}
	if f.ParentTaskID == nil {
		return t.ParentTaskID == nil
	}
	return t.ParentTaskID != nil && *t.ParentTaskID == *f.ParentTaskID
}

func (f *fakeStore) ListChildren(_ context.Context, parentID string) ([]models.Task, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []models.Task{}
	for _, id := range f.order {
		t, ok := f.tasks[id]
		if ok && t.ParentTaskID != nil && *t.ParentTaskID == parentID {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteTasks(_ context.Context, taskIDs, commentsOf []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for _, id := range taskIDs {
		if _, ok := f.tasks[id]; ok {
			delete(f.tasks, id)
			removed++
		}
	}
	if removed == 0 {
		return models.ErrNotFound
	}
	f.comments = slices.DeleteFunc(f.comments, func(c models.Comment) bool {
		return slices.Contains(commentsOf, c.TaskID)
	})
	return nil
}

func (f *fakeStore) ListComments(_ context.Context, taskID string) ([]models.Comment, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []models.Comment{}
	for _, c := range f.comments {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) AppendActivity(_ context.Context, entries []models.ActivityEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failActivity != nil {
		return f.failActivity
	}
	for _, e := range entries {
		e.ID = int64(len(f.activity) + 1)
		f.activity = append(f.activity, e)
	}
	return nil
}

func (f *fakeStore) ListActivity(_ context.Context, taskID string) ([]models.ActivityEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []models.ActivityEntry{}
	for _, e := range f.activity {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNotifications != nil {
		return f.failNotifications
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string) ([]models.Notification, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []models.Notification{}
	for _, n := range f.notifications {
		if n.RecipientUserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == id && f.notifications[i].RecipientUserID == userID {
			f.notifications[i].Read = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeStore) activityFor(taskID string) []models.ActivityEntry {
	entries, _ := f.ListActivity(context.Background(), taskID)
	return entries
}

func (f *fakeStore) notificationsFor(userID string) []models.Notification {
	out, _ := f.ListNotifications(context.Background(), userID)
	return out
}

var errUnavailable = errors.New("unavailable")
