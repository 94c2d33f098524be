package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgard/intake/internal/database"
)

type listTasksQuery struct {
	Skip           int    `form:"skip"             binding:"min=0"`
	Limit          int    `form:"limit"            binding:"min=0,max=1000"`
	Status         string `form:"status"           binding:"omitempty,oneof=open completed backlogged"`
	TaskOrEvent    string `form:"task_or_event"    binding:"omitempty,oneof=task event"`
	TaskType       string `form:"task_type"        binding:"omitempty,oneof=fun text_response chore errand"`
	CreatedByAgent *bool  `form:"created_by_agent"`
}

type createTaskRequest struct {
	TaskName        string     `json:"task_name"         binding:"required"`
	TaskContext     *string    `json:"task_context"`
	Status          string     `json:"status"            binding:"omitempty,oneof=open completed backlogged"`
	TaskOrEvent     string     `json:"task_or_event"     binding:"omitempty,oneof=task event"`
	TaskType        *string    `json:"task_type"         binding:"omitempty,oneof=fun text_response chore errand"`
	EventStartTime  *time.Time `json:"event_start_time"`
	EventEndTime    *time.Time `json:"event_end_time"`
	TaskDueTime     *time.Time `json:"task_due_time"`
	SourceMessageID *string    `json:"source_message_id"`
}

type updateTaskRequest struct {
	TaskName       *string    `json:"task_name"`
	TaskContext    *string    `json:"task_context"`
	Status         *string    `json:"status"           binding:"omitempty,oneof=open completed backlogged"`
	TaskOrEvent    *string    `json:"task_or_event"    binding:"omitempty,oneof=task event"`
	TaskType       *string    `json:"task_type"        binding:"omitempty,oneof=fun text_response chore errand"`
	EventStartTime *time.Time `json:"event_start_time"`
	EventEndTime   *time.Time `json:"event_end_time"`
	TaskDueTime    *time.Time `json:"task_due_time"`
}

func (r updateTaskRequest) toUpdate() database.TaskUpdate {
	u := database.TaskUpdate{
		TaskName:       r.TaskName,
		TaskContext:    r.TaskContext,
		EventStartTime: r.EventStartTime,
		EventEndTime:   r.EventEndTime,
		TaskDueTime:    r.TaskDueTime,
	}
	if r.Status != nil {
		s := database.TaskStatus(*r.Status)
		u.Status = &s
	}
	if r.TaskOrEvent != nil {
		k := database.TaskKind(*r.TaskOrEvent)
		u.TaskOrEvent = &k
	}
	if r.TaskType != nil {
		t := database.TaskType(*r.TaskType)
		u.TaskType = &t
	}
	return u
}

type taskHandler struct {
	store database.Store
	log   *slog.Logger
}

// List returns tasks, newest first.
func (h *taskHandler) List(c *gin.Context) {
	var q listTasksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	tasks, err := h.store.ListTasks(c.Request.Context(), database.TaskFilter{
		Status:         database.TaskStatus(q.Status),
		TaskOrEvent:    database.TaskKind(q.TaskOrEvent),
		TaskType:       database.TaskType(q.TaskType),
		CreatedByAgent: q.CreatedByAgent,
		Skip:           q.Skip,
		Limit:          q.Limit,
	})
	if err != nil {
		respondError(c, err, "Failed to list tasks")
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// Get returns one task.
func (h *taskHandler) Get(c *gin.Context) {
	task, err := h.store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get task")
		return
	}
	c.JSON(http.StatusOK, task)
}

// Create adds a manually entered task.
func (h *taskHandler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	task := &database.Task{
		TaskName:        req.TaskName,
		TaskContext:     req.TaskContext,
		Status:          database.TaskStatus(req.Status),
		TaskOrEvent:     database.TaskKind(req.TaskOrEvent),
		EventStartTime:  req.EventStartTime,
		EventEndTime:    req.EventEndTime,
		TaskDueTime:     req.TaskDueTime,
		SourceMessageID: req.SourceMessageID,
	}
	if req.TaskType != nil {
		t := database.TaskType(*req.TaskType)
		task.TaskType = &t
	}

	if err := h.store.CreateTask(c.Request.Context(), task); err != nil {
		respondError(c, err, "Failed to create task")
		return
	}
	h.log.InfoContext(c.Request.Context(), "Task created", "task_id", task.TaskID)
	c.JSON(http.StatusCreated, task)
}

// Update applies a partial update.
func (h *taskHandler) Update(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.update(c, req.toUpdate())
}

// Complete marks a task completed.
func (h *taskHandler) Complete(c *gin.Context) {
	status := database.TaskStatusCompleted
	h.update(c, database.TaskUpdate{Status: &status})
}

// Reopen moves a task back to open.
func (h *taskHandler) Reopen(c *gin.Context) {
	status := database.TaskStatusOpen
	h.update(c, database.TaskUpdate{Status: &status})
}

func (h *taskHandler) update(c *gin.Context, u database.TaskUpdate) {
	task, err := h.store.UpdateTask(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		respondError(c, err, "Failed to update task")
		return
	}
	c.JSON(http.StatusOK, task)
}

// Delete removes a task.
func (h *taskHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete task")
		return
	}
	c.Status(http.StatusNoContent)
}
