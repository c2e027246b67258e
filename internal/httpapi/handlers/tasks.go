package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mediagen-relay/internal/common"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/tasks"
)

type taskStatusResp struct {
	RequestID  string   `json:"request_id"`
	Status     string   `json:"status"`
	StatusURL  string   `json:"status_url"`
	CancelURL  string   `json:"cancel_url"`
	Result     []string `json:"result"`
	Error      *string  `json:"error"`
	CreatedAt  *string  `json:"created_at"`
	StartedAt  *string  `json:"started_at"`
	FinishedAt *string  `json:"finished_at"`
	TaskType   string   `json:"task_type"`
}

func (h *Handler) TaskStatus(c *gin.Context) {
	t, ok := h.ownedTask(c)
	if !ok {
		return
	}
	status := tasks.PublicStatus(t.Status)
	resp := taskStatusResp{
		RequestID:  t.TaskID,
		Status:     status,
		StatusURL:  statusURL(t.TaskID),
		CancelURL:  cancelURL(t.TaskID),
		CreatedAt:  isoTime(&t.CreatedAt),
		StartedAt:  isoTime(t.StartedAt),
		FinishedAt: isoTime(t.FinishedAt),
		TaskType:   t.Type,
	}
	switch status {
	case tasks.PublicCompleted:
		resp.Result = t.Result
	case tasks.PublicFailed:
		msg := t.FailureDetail()
		resp.Error = &msg
	}
	common.OK(c, resp)
}

// TaskResult is the older flat view with the internal status.
func (h *Handler) TaskResult(c *gin.Context) {
	t, ok := h.ownedTask(c)
	if !ok {
		return
	}
	common.OK(c, gin.H{
		"task_id": t.TaskID,
		"status":  t.Status,
		"result":  t.Result,
	})
}

func (h *Handler) CancelTask(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		return
	}
	taskID := c.Param("task_id")
	t, err := h.Tasks.Cancel(c.Request.Context(), client.ID, taskID)
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "Task not found")
		return
	case errors.Is(err, tasks.ErrNotCancelable):
		status := "finished"
		if cur, gerr := h.Tasks.Get(c.Request.Context(), client.ID, taskID); gerr == nil {
			status = string(cur.Status)
		}
		common.Fail(c, http.StatusBadRequest, 10007, fmt.Sprintf(
			"Cannot cancel task with status '%s'. Only pending or processing tasks can be canceled.", status))
		return
	case err != nil:
		h.Log.Error().Err(err).Str("task_id", taskID).Msg("cancel task")
		common.Fail(c, http.StatusInternalServerError, 50001, "Error canceling task")
		return
	}
	common.OK(c, gin.H{
		"request_id": t.TaskID,
		"status":     tasks.PublicCanceled,
		"message":    "Task cancellation initiated",
	})
}

// RestartTask takes form fields task_id and metadata (a JSON object string).
func (h *Handler) RestartTask(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		return
	}
	taskID := c.PostForm("task_id")
	if taskID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "task_id is required")
		return
	}
	metadata, err := parseMetadata(c.PostForm("metadata"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "Invalid JSON format")
		return
	}

	t, err := h.Tasks.Restart(c.Request.Context(), client.ID, taskID, metadata)
	if errors.Is(err, tasks.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, 40401, "Task not found")
		return
	}
	if err != nil {
		h.Log.Error().Err(err).Str("task_id", taskID).Msg("restart task")
		common.Fail(c, http.StatusInternalServerError, 50001, "Internal server error")
		return
	}
	common.OK(c, gin.H{
		"task_id": t.TaskID,
		"status":  "success",
		"message": "Task restarted successfully",
	})
}

func (h *Handler) ownedTask(c *gin.Context) (*models.Task, bool) {
	client, ok := clientFromContext(c)
	if !ok {
		return nil, false
	}
	t, err := h.Tasks.Get(c.Request.Context(), client.ID, c.Param("task_id"))
	if errors.Is(err, tasks.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, 40401, "Task not found")
		return nil, false
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	return t, true
}

func isoTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
