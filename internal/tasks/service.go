// Package tasks orchestrates the task lifecycle: listing, reading, creating,
// updating and deleting tasks together with their audit and notification
// side effects.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tasktracker/internal/activity"
	"tasktracker/internal/authz"
	"tasktracker/internal/models"
	"tasktracker/internal/notify"
)

// CascadeDepth bounds how many levels of descendants a delete removes. Only
// direct children go with their parent; grandchildren stay in place.
const CascadeDepth = 1

// Store is the task persistence the service needs.
type Store interface {
	CreateTask(ctx context.Context, t models.Task) error
	GetTask(ctx context.Context, id string) (models.Task, error)
	UpdateTask(ctx context.Context, t models.Task) error
	ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error)
	ListChildren(ctx context.Context, parentID string) ([]models.Task, error)
	DeleteTasks(ctx context.Context, taskIDs, commentsOf []string) error
}

// CommentReader reads the comments attached to a task.
type CommentReader interface {
	ListComments(ctx context.Context, taskID string) ([]models.Comment, error)
}

// Recorder appends and reads the activity trail.
type Recorder interface {
	Append(ctx context.Context, entries ...models.ActivityEntry) error
	Query(ctx context.Context, taskID string) ([]models.ActivityEntry, error)
}

// Notifier delivers notifications and live events.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, taskID, kind, title, message string) (models.Notification, error)
	Broadcast(ev notify.Event) int
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Store    Store
	Comments CommentReader
	Recorder Recorder
	Notifier Notifier
	Guard    *authz.Guard
	Logger   *slog.Logger
}

// Service implements the task operations.
type Service struct {
	store    Store
	comments CommentReader
	recorder Recorder
	notifier Notifier
	guard    *authz.Guard
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// StatusChanged is the payload broadcast when a task changes status.
type StatusChanged struct {
	TaskID    string        `json:"taskId"`
	OldStatus models.Status `json:"oldStatus"`
	NewStatus models.Status `json:"newStatus"`
	ActorID   string        `json:"actorId"`
}

// TaskDeleted is the payload broadcast when a task is removed.
type TaskDeleted struct {
	TaskID  string   `json:"taskId"`
	Removed []string `json:"removedTaskIds"`
	ActorID string   `json:"actorId"`
}

// NewService wires a service from its dependencies.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Guard == nil {
		d.Guard = authz.New(nil)
	}
	return &Service{
		store:    d.Store,
		comments: d.Comments,
		recorder: d.Recorder,
		notifier: d.Notifier,
		guard:    d.Guard,
		logger:   d.Logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func requireActor(actor models.Actor) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return fmt.Errorf("%w: unauthenticated actor", models.ErrForbidden)
	}
	return nil
}

// List returns tasks newest first. Non-admins only ever see tasks assigned to
// them, whatever assignee the filter asked for.
func (s *Service) List(ctx context.Context, f models.TaskFilter, actor models.Actor) ([]models.Task, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		self := actor.ID
		f.AssignedTo = &self
	}
	return s.store.ListTasks(ctx, f)
}

// Get returns a task with its comments, activity and direct children.
func (s *Service) Get(ctx context.Context, id string, actor models.Actor) (models.TaskDetails, error) {
	if err := requireActor(actor); err != nil {
		return models.TaskDetails{}, err
	}
	id, err := models.ParseID(id)
	if err != nil {
		return models.TaskDetails{}, err
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return models.TaskDetails{}, err
	}
	if err := s.guard.CanRead(task, actor); err != nil {
		return models.TaskDetails{}, err
	}

	details := models.TaskDetails{Task: task}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		comments, err := s.comments.ListComments(gctx, id)
		details.Comments = comments
		return err
	})
	g.Go(func() error {
		entries, err := s.recorder.Query(gctx, id)
		details.Activity = entries
		return err
	})
	g.Go(func() error {
		children, err := s.store.ListChildren(gctx, id)
		details.Children = children
		return err
	})
	if err := g.Wait(); err != nil {
		return models.TaskDetails{}, fmt.Errorf("load task %s: %w", id, err)
	}
	return details, nil
}

// Create stores a new pending task owned by actor and notifies its assignees.
func (s *Service) Create(ctx context.Context, in models.CreateTaskInput, actor models.Actor) (models.Task, error) {
	if err := requireActor(actor); err != nil {
		return models.Task{}, err
	}
	in, err := in.Normalize()
	if err != nil {
		return models.Task{}, err
	}
	if in.ParentTaskID != nil {
		if _, err := s.store.GetTask(ctx, *in.ParentTaskID); err != nil {
			return models.Task{}, fmt.Errorf("parent task: %w", err)
		}
	}

	now := s.now().UTC()
	task := models.Task{
		ID:           s.newID(),
		Title:        in.Title,
		Description:  in.Description,
		Status:       models.StatusPending,
		Priority:     in.Priority,
		AssignedTo:   in.AssignedTo,
		CreatedBy:    actor.ID,
		ParentTaskID: in.ParentTaskID,
		Tags:         in.Tags,
		Deadline:     in.Deadline,
		StartDate:    in.StartDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return models.Task{}, err
	}

	s.record(ctx, models.ActivityEntry{TaskID: task.ID, ActorID: actor.ID, Action: models.ActionCreated})
	s.notifyAssignees(ctx, task)
	return task, nil
}

// Update applies patch to the task when the actor may change every field it
// touches. Changed fields are recorded as one activity batch.
func (s *Service) Update(ctx context.Context, id string, patch models.TaskPatch, actor models.Actor) (models.Task, error) {
	if err := requireActor(actor); err != nil {
		return models.Task{}, err
	}
	id, err := models.ParseID(id)
	if err != nil {
		return models.Task{}, err
	}
	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	if err := s.guard.CanMutate(current, patch, actor); err != nil {
		return models.Task{}, err
	}
	patch, err = patch.Normalize()
	if err != nil {
		return models.Task{}, err
	}

	updated := patch.Apply(current)
	changes := activity.Changes(current, updated, patch.Fields())
	if len(changes) == 0 {
		return current, nil
	}
	updated.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTask(ctx, updated); err != nil {
		return models.Task{}, err
	}

	action, statusChanged, assignmentChanged := classifyChanges(changes)
	for i := range changes {
		changes[i].ActorID = actor.ID
		changes[i].Action = action
	}
	s.record(ctx, changes...)

	if statusChanged {
		s.notifier.Broadcast(notify.Event{
			Name: notify.EventTaskStatusChanged,
			Payload: StatusChanged{
				TaskID:    updated.ID,
				OldStatus: current.Status,
				NewStatus: updated.Status,
				ActorID:   actor.ID,
			},
		})
	}
	if assignmentChanged {
		// Every current assignee is notified, including those already assigned.
		s.notifyAssignees(ctx, updated)
	}
	return updated, nil
}

// classifyChanges picks the single action label of a batch: a status change
// wins over an assignment change, which wins over anything else.
func classifyChanges(changes []models.ActivityEntry) (action models.Action, status, assignment bool) {
	for _, c := range changes {
		switch c.Field {
		case models.FieldStatus:
			status = true
		case models.FieldAssignedTo:
			assignment = true
		}
	}
	switch {
	case status:
		action = models.ActionStatusChanged
	case assignment:
		action = models.ActionAssigned
	default:
		action = models.ActionUpdated
	}
	return action, status, assignment
}

// Delete removes a task, its direct children and the root task's comments.
func (s *Service) Delete(ctx context.Context, id string, actor models.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	id, err := models.ParseID(id)
	if err != nil {
		return err
	}
	if err := s.guard.CanDelete(actor); err != nil {
		return err
	}
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return err
	}
	taskIDs, err := s.collectSubtree(ctx, id, CascadeDepth)
	if err != nil {
		return err
	}

	s.record(ctx, models.ActivityEntry{TaskID: id, ActorID: actor.ID, Action: models.ActionDeleted})
	if err := s.store.DeleteTasks(ctx, taskIDs, []string{id}); err != nil {
		return err
	}

	s.notifier.Broadcast(notify.Event{
		Name:    notify.EventTaskDeleted,
		Payload: TaskDeleted{TaskID: id, Removed: taskIDs, ActorID: actor.ID},
	})
	return nil
}

// collectSubtree returns rootID followed by its descendants down to depth
// levels, breadth first.
func (s *Service) collectSubtree(ctx context.Context, rootID string, depth int) ([]string, error) {
	ids := []string{rootID}
	frontier := []string{rootID}
	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, parentID := range frontier {
			children, err := s.store.ListChildren(ctx, parentID)
			if err != nil {
				return nil, fmt.Errorf("collect children of %s: %w", parentID, err)
			}
			for _, child := range children {
				next = append(next, child.ID)
			}
		}
		ids = append(ids, next...)
		frontier = next
	}
	return ids, nil
}

// record appends activity. The task write has already happened, so a failed
// append is logged and left unrecorded.
func (s *Service) record(ctx context.Context, entries ...models.ActivityEntry) {
	if err := s.recorder.Append(ctx, entries...); err != nil {
		s.logger.Error("activity append failed",
			slog.String("task_id", entries[0].TaskID),
			slog.String("action", string(entries[0].Action)),
			slog.String("error", err.Error()))
	}
}

// notifyAssignees sends task_assigned to every assignee of task. Failures are
// logged and do not undo the task write.
func (s *Service) notifyAssignees(ctx context.Context, task models.Task) {
	for _, userID := range task.AssignedTo {
		_, err := s.notifier.NotifyUser(ctx, userID, task.ID, models.NotificationTaskAssigned,
			"Task assigned", fmt.Sprintf("You have been assigned to %q", task.Title))
		if errors.Is(err, notify.ErrDeferred) {
			s.logger.Info("notification deferred",
				slog.String("task_id", task.ID),
				slog.String("user_id", userID))
			continue
		}
		if err != nil {
			s.logger.Warn("notification failed",
				slog.String("task_id", task.ID),
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
	}
}
