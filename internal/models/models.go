package models

import (
	"encoding/json"
	"time"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	// StatusValidated has no dedicated workflow; it is accepted like any other member.
	StatusValidated Status = "validated"
)

// ValidStatuses enumerates the statuses a task may hold.
var ValidStatuses = map[Status]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusCompleted:  {},
	StatusValidated:  {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := ValidStatuses[s]
	return ok
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ValidPriorities enumerates the supported priorities.
var ValidPriorities = map[Priority]struct{}{
	PriorityLow:    {},
	PriorityMedium: {},
	PriorityHigh:   {},
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	_, ok := ValidPriorities[p]
	return ok
}

// Role is the coarse permission class carried by an actor.
type Role string

const (
	RoleUser       Role = "user"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated identity behind a call.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Task is a unit of work, optionally nested under a parent task.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	AssignedTo   []string   `json:"assignedTo"`
	CreatedBy    string     `json:"createdBy"`
	ParentTaskID *string    `json:"parentTaskId,omitempty"`
	Tags         []string   `json:"tags"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsAssignee reports whether userID is in the task's assignee set.
func (t Task) IsAssignee(userID string) bool {
	for _, id := range t.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}

// FieldValue returns the JSON encoding of a mutable field. Sets are kept
// sorted, so equal sets encode identically.
func (t Task) FieldValue(f Field) json.RawMessage {
	var v any
	switch f {
	case FieldTitle:
		v = t.Title
	case FieldDescription:
		v = t.Description
	case FieldStatus:
		v = t.Status
	case FieldPriority:
		v = t.Priority
	case FieldDeadline:
		v = t.Deadline
	case FieldStartDate:
		v = t.StartDate
	case FieldTags:
		v = nonNil(t.Tags)
	case FieldAssignedTo:
		v = nonNil(t.AssignedTo)
	default:
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Comment is a note attached to a task. The core only reads comments.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Action labels an activity entry.
type Action string

const (
	ActionCreated       Action = "created"
	ActionUpdated       Action = "updated"
	ActionStatusChanged Action = "status_changed"
	ActionAssigned      Action = "assigned"
	ActionDeleted       Action = "deleted"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionStatusChanged, ActionAssigned, ActionDeleted:
		return true
	}
	return false
}

// ActivityEntry is one immutable record in a task's audit trail.
type ActivityEntry struct {
	ID        int64           `json:"id"`
	TaskID    string          `json:"taskId"`
	ActorID   string          `json:"actorId"`
	Action    Action          `json:"action"`
	Field     Field           `json:"field,omitempty"`
	OldValue  json.RawMessage `json:"oldValue,omitempty"`
	NewValue  json.RawMessage `json:"newValue,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NotificationTaskAssigned is the notification type sent to assignees.
const NotificationTaskAssigned = "task_assigned"

// Notification is a durable message for one recipient.
type Notification struct {
	ID              string    `json:"id"`
	RecipientUserID string    `json:"recipientUserId"`
	TaskID          string    `json:"taskId"`
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Read            bool      `json:"read"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TaskDetails is the aggregate returned when reading a single task.
type TaskDetails struct {
	Task     Task            `json:"task"`
	Comments []Comment       `json:"comments"`
	Activity []ActivityEntry `json:"activity"`
	Children []Task          `json:"children"`
}
