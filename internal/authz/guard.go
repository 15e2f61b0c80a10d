// Package authz decides who may read, mutate and delete tasks.
package authz

import (
	"fmt"
	"strings"

	"tasktracker/internal/models"
)

// Class is the relationship between an actor and a task.
type Class int

const (
	// ClassOutsider has no relationship with the task.
	ClassOutsider Class = iota
	// ClassParticipant created the task or is assigned to it.
	ClassParticipant
	ClassAdmin
)

func (c Class) String() string {
	switch c {
	case ClassAdmin:
		return "admin"
	case ClassParticipant:
		return "participant"
	}
	return "outsider"
}

// Policy maps each class to the fields it may change. A class absent from
// the policy may not mutate at all.
type Policy map[Class]map[models.Field]struct{}

// DefaultPolicy lets admins change every mutable field and participants
// change only the status.
var DefaultPolicy = Policy{
	ClassAdmin:       fieldSet(models.MutableFields...),
	ClassParticipant: fieldSet(models.FieldStatus),
}

func fieldSet(fields ...models.Field) map[models.Field]struct{} {
	out := make(map[models.Field]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// Guard evaluates a Policy.
type Guard struct {
	policy Policy
}

// New returns a guard over policy, or DefaultPolicy when policy is nil.
func New(policy Policy) *Guard {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &Guard{policy: policy}
}

// Classify reports how actor relates to task.
func Classify(task models.Task, actor models.Actor) Class {
	switch {
	case actor.IsAdmin():
		return ClassAdmin
	case actor.ID != "" && (actor.ID == task.CreatedBy || task.IsAssignee(actor.ID)):
		return ClassParticipant
	}
	return ClassOutsider
}

// CanRead allows admins, the creator and assignees.
func (g *Guard) CanRead(task models.Task, actor models.Actor) error {
	if Classify(task, actor) == ClassOutsider {
		return fmt.Errorf("%w: %s may not read task %s", models.ErrForbidden, actor.ID, task.ID)
	}
	return nil
}

// CanMutate checks the whole patch against the actor's allowed fields. A
// single disallowed field rejects the entire patch.
func (g *Guard) CanMutate(task models.Task, patch models.TaskPatch, actor models.Actor) error {
	class := Classify(task, actor)
	allowed, ok := g.policy[class]
	if !ok {
		return fmt.Errorf("%w: %s may not modify task %s", models.ErrForbidden, actor.ID, task.ID)
	}
	var denied []string
	for _, f := range patch.Fields() {
		if _, ok := allowed[f]; !ok {
			denied = append(denied, string(f))
		}
	}
	if len(denied) > 0 {
		return fmt.Errorf("%w: %s may not change %s", models.ErrForbidden, class, strings.Join(denied, ", "))
	}
	return nil
}

// CanDelete allows admins only.
func (g *Guard) CanDelete(actor models.Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only admins may delete tasks", models.ErrForbidden)
	}
	return nil
}
