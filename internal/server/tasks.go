package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tasktracker/internal/models"
)

// handleListTasks returns the tasks visible to the caller.
func (s *Server) handleListTasks(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	tasks, err := s.tasks.List(c.Request.Context(), filter, actor(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": tasks})
}

// handleGetTask returns a task with its comments, activity and children.
func (s *Server) handleGetTask(c *gin.Context) {
	details, err := s.tasks.Get(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, details)
}

// handleCreateTask inserts a new task owned by the caller.
func (s *Server) handleCreateTask(c *gin.Context) {
	var in models.CreateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, badBody(err))
		return
	}

	task, err := s.tasks.Create(c.Request.Context(), in, actor(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"task": task})
}

// handleUpdateTask applies a partial update. Absent keys stay untouched and
// explicit nulls clear nullable fields.
func (s *Server) handleUpdateTask(c *gin.Context) {
	var patch models.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.respondError(c, badBody(err))
		return
	}

	task, err := s.tasks.Update(c.Request.Context(), c.Param("id"), patch, actor(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleDeleteTask removes a task and its direct children.
func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.tasks.Delete(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

func badBody(err error) error {
	return fmt.Errorf("%w: %v", models.ErrValidation, err)
}

// parseFilter reads the list query string. Tags may repeat.
func parseFilter(c *gin.Context) (models.TaskFilter, error) {
	f := models.TaskFilter{
		Tags: c.QueryArray("tag"),
		Text: c.Query("q"),
	}
	if v, ok := c.GetQuery("status"); ok {
		status := models.Status(v)
		f.Status = &status
	}
	if v, ok := c.GetQuery("priority"); ok {
		priority := models.Priority(v)
		f.Priority = &priority
	}
	if v, ok := c.GetQuery("assignedTo"); ok && v != "" {
		f.AssignedTo = &v
	}
	if v, ok := c.GetQuery("parentTaskId"); ok && v != "" {
		f.ParentTaskID = &v
	}

	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return models.TaskFilter{}, err
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		return models.TaskFilter{}, err
	}
	return f, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", models.ErrValidation, key)
	}
	return n, nil
}
