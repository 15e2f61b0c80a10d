package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field names a mutable task attribute.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldStatus      Field = "status"
	FieldPriority    Field = "priority"
	FieldDeadline    Field = "deadline"
	FieldStartDate   Field = "startDate"
	FieldTags        Field = "tags"
	FieldAssignedTo  Field = "assignedTo"
)

// MutableFields lists every field a patch can carry, in a stable order.
var MutableFields = []Field{
	FieldTitle,
	FieldDescription,
	FieldStatus,
	FieldPriority,
	FieldDeadline,
	FieldStartDate,
	FieldTags,
	FieldAssignedTo,
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ParseID validates an opaque task identifier.
func ParseID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: malformed id %q", ErrValidation, raw)
	}
	return id.String(), nil
}

// Optional distinguishes an absent JSON key from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a set Optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// CreateTaskInput is the body accepted by task creation.
type CreateTaskInput struct {
	Title        string     `json:"title"`
	Description  *string    `json:"description"`
	Priority     Priority   `json:"priority"`
	AssignedTo   []string   `json:"assignedTo"`
	ParentTaskID *string    `json:"parentTaskId"`
	Tags         []string   `json:"tags"`
	Deadline     *time.Time `json:"deadline"`
	StartDate    *time.Time `json:"startDate"`
}

// Normalize validates the input and fills defaults.
func (in CreateTaskInput) Normalize() (CreateTaskInput, error) {
	out := in
	out.Title = strings.TrimSpace(in.Title)
	if out.Title == "" {
		return CreateTaskInput{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if out.Priority == "" {
		out.Priority = PriorityMedium
	}
	if !out.Priority.Valid() {
		return CreateTaskInput{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}
	if in.ParentTaskID != nil {
		id, err := ParseID(*in.ParentTaskID)
		if err != nil {
			return CreateTaskInput{}, err
		}
		out.ParentTaskID = &id
	}
	var err error
	if out.AssignedTo, err = NormalizeSet(FieldAssignedTo, in.AssignedTo); err != nil {
		return CreateTaskInput{}, err
	}
	if out.Tags, err = NormalizeSet(FieldTags, in.Tags); err != nil {
		return CreateTaskInput{}, err
	}
	out.Deadline = utc(in.Deadline)
	out.StartDate = utc(in.StartDate)
	return out, nil
}

// TaskPatch carries the fields an update touches. A nil pointer or an unset
// Optional means the key was absent from the request.
type TaskPatch struct {
	Title       *string             `json:"title,omitempty"`
	Description Optional[string]    `json:"description"`
	Status      *Status             `json:"status,omitempty"`
	Priority    *Priority           `json:"priority,omitempty"`
	Deadline    Optional[time.Time] `json:"deadline"`
	StartDate   Optional[time.Time] `json:"startDate"`
	Tags        *[]string           `json:"tags,omitempty"`
	AssignedTo  *[]string           `json:"assignedTo,omitempty"`

	// nulls holds non-nullable fields sent as an explicit null.
	nulls []Field
}

// UnmarshalJSON decodes a patch body. Keys outside MutableFields are
// rejected. A null title, status or priority still counts as present so the
// guard sees it; a null set clears the set.
func (p *TaskPatch) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	var unknown []string
	for key := range keys {
		if !slices.Contains(MutableFields, Field(key)) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return fmt.Errorf("%w: unknown fields %s", ErrValidation, strings.Join(unknown, ", "))
	}

	type plain TaskPatch
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = TaskPatch(out)

	for _, f := range MutableFields {
		raw, ok := keys[string(f)]
		if !ok || string(bytes.TrimSpace(raw)) != "null" || p.Has(f) {
			continue
		}
		switch f {
		case FieldTags:
			p.Tags = &[]string{}
		case FieldAssignedTo:
			p.AssignedTo = &[]string{}
		default:
			p.nulls = append(p.nulls, f)
		}
	}
	return nil
}

// Fields returns the fields present in the patch.
func (p TaskPatch) Fields() []Field {
	var out []Field
	for _, f := range MutableFields {
		if p.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Has reports whether the patch touches f.
func (p TaskPatch) Has(f Field) bool {
	if slices.Contains(p.nulls, f) {
		return true
	}
	switch f {
	case FieldTitle:
		return p.Title != nil
	case FieldDescription:
		return p.Description.Set
	case FieldStatus:
		return p.Status != nil
	case FieldPriority:
		return p.Priority != nil
	case FieldDeadline:
		return p.Deadline.Set
	case FieldStartDate:
		return p.StartDate.Set
	case FieldTags:
		return p.Tags != nil
	case FieldAssignedTo:
		return p.AssignedTo != nil
	}
	return false
}

// Normalize validates enum members and canonicalizes sets and timestamps.
func (p TaskPatch) Normalize() (TaskPatch, error) {
	if len(p.Fields()) == 0 {
		return TaskPatch{}, fmt.Errorf("%w: patch is empty", ErrValidation)
	}
	if len(p.nulls) > 0 {
		return TaskPatch{}, fmt.Errorf("%w: %s may not be null", ErrValidation, p.nulls[0])
	}
	out := p
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return TaskPatch{}, fmt.Errorf("%w: title must not be empty", ErrValidation)
		}
		out.Title = &title
	}
	if p.Status != nil && !p.Status.Valid() {
		return TaskPatch{}, fmt.Errorf("%w: unknown status %q", ErrValidation, *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return TaskPatch{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, *p.Priority)
	}
	if p.Tags != nil {
		tags, err := NormalizeSet(FieldTags, *p.Tags)
		if err != nil {
			return TaskPatch{}, err
		}
		out.Tags = &tags
	}
	if p.AssignedTo != nil {
		assignees, err := NormalizeSet(FieldAssignedTo, *p.AssignedTo)
		if err != nil {
			return TaskPatch{}, err
		}
		out.AssignedTo = &assignees
	}
	out.Deadline.Value = utc(p.Deadline.Value)
	out.StartDate.Value = utc(p.StartDate.Value)
	return out, nil
}

// Apply returns a copy of t with the patch's fields written over it.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description.Set {
		t.Description = p.Description.Value
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Deadline.Set {
		t.Deadline = p.Deadline.Value
	}
	if p.StartDate.Set {
		t.StartDate = p.StartDate.Value
	}
	if p.Tags != nil {
		t.Tags = slices.Clone(*p.Tags)
	}
	if p.AssignedTo != nil {
		t.AssignedTo = slices.Clone(*p.AssignedTo)
	}
	return t
}

// TaskFilter narrows a task listing. A nil ParentTaskID selects root tasks.
type TaskFilter struct {
	Status       *Status   `json:"status,omitempty"`
	Priority     *Priority `json:"priority,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Text         string    `json:"q,omitempty"`
	AssignedTo   *string   `json:"assignedTo,omitempty"`
	ParentTaskID *string   `json:"parentTaskId,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Normalize validates the filter and clamps paging.
func (f TaskFilter) Normalize() (TaskFilter, error) {
	out := f
	if f.Status != nil && !f.Status.Valid() {
		return TaskFilter{}, fmt.Errorf("%w: unknown status %q", ErrValidation, *f.Status)
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return TaskFilter{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, *f.Priority)
	}
	if f.ParentTaskID != nil {
		id, err := ParseID(*f.ParentTaskID)
		if err != nil {
			return TaskFilter{}, err
		}
		out.ParentTaskID = &id
	}
	if f.Limit < 0 || f.Offset < 0 {
		return TaskFilter{}, fmt.Errorf("%w: negative paging", ErrValidation)
	}
	if out.Limit == 0 {
		out.Limit = DefaultListLimit
	}
	if out.Limit > MaxListLimit {
		out.Limit = MaxListLimit
	}
	out.Text = strings.TrimSpace(f.Text)
	var err error
	if out.Tags, err = NormalizeSet(FieldTags, f.Tags); err != nil {
		return TaskFilter{}, err
	}
	return out, nil
}

// NormalizeSet trims, de-duplicates and sorts a string set. Empty members
// are rejected.
func NormalizeSet(f Field, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, fmt.Errorf("%w: %s contains an empty value", ErrValidation, f)
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
