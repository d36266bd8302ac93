package coordinator

import (
	"fmt"

	"github.com/coordhub/coordhub/internal/apierr"
)

// TaskCreate carries the fields for creating a new Task.
type TaskCreate struct {
	Title       string
	Description string
	Priority    TaskPriority
	CreatedBy   string
	Tags        []string
	Files       []string
}

// CreateTask adds a new task in status=todo.
func (c *Coordinator) CreateTask(in TaskCreate) (*Task, error) {
	if in.Title == "" || in.CreatedBy == "" {
		return nil, apierr.Validationf("title and createdBy are required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := clock()
	t := &Task{
		ID:          newID("task"),
		Title:       in.Title,
		Description: in.Description,
		Status:      TaskTodo,
		Priority:    in.Priority,
		CreatedBy:   in.CreatedBy,
		Tags:        in.Tags,
		Files:       in.Files,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Files == nil {
		t.Files = []string{}
	}
	if err := c.store.upsertTask(t); err != nil {
		return nil, apierr.Storagef(err, "create task")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "created", "task": t})
	return t, nil
}

// TaskPatch carries plain-mutation fields for PATCH /tasks/{id} (no state
// machine enforcement — the action verbs below own that).
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *TaskPriority
	Tags        []string
	Files       []string
}

// PatchTask applies direct field mutations without touching status.
func (c *Coordinator) PatchTask(taskID string, in TaskPatch) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.requireTaskLocked(taskID)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.Tags != nil {
		t.Tags = in.Tags
	}
	if in.Files != nil {
		t.Files = in.Files
	}
	t.UpdatedAt = clock()
	if err := c.store.upsertTask(t); err != nil {
		return nil, apierr.Storagef(err, "patch task")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "patched", "task": t})
	return t, nil
}

func (c *Coordinator) requireTaskLocked(taskID string) (*Task, error) {
	t, err := c.store.getTask(taskID)
	if err != nil {
		return nil, apierr.Storagef(err, "load task")
	}
	if t == nil {
		return nil, apierr.NotFoundf("task %s not found", taskID)
	}
	return t, nil
}

// ListTasks returns every task sorted by priority then createdAt descending.
func (c *Coordinator) ListTasks() ([]*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks, err := c.store.listTasks()
	if err != nil {
		return nil, apierr.Storagef(err, "list tasks")
	}
	return tasks, nil
}

// Pickup assigns an unclaimed (or self-claimed) todo task to agentID.
func (c *Coordinator) Pickup(taskID, agentID string) (*Task, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.requireTaskLocked(taskID)
	if err != nil {
		return nil, err
	}
	if t.Assignee != "" && t.Assignee != agentID {
		return nil, apierr.Contentionf("task %s already assigned to %s", taskID, t.Assignee).
			WithDetails(map[string]interface{}{"assignedTo": t.Assignee})
	}
	if t.Status != TaskTodo {
		return nil, apierr.Statef("task %s is not in todo (status=%s)", taskID, t.Status)
	}
	now := clock()
	t.Assignee = agentID
	t.Status = TaskInProgress
	t.PickedUpAt = &now
	t.UpdatedAt = now
	if err := c.store.upsertTask(t); err != nil {
		return nil, apierr.Storagef(err, "pickup task")
	}
	c.postSystemLine(fmt.Sprintf("%s picked up task \"%s\"", agentID, t.Title))
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "pickup", "task": t})
	return t, nil
}

// Complete marks a task done; only the assignee may call it.
func (c *Coordinator) Complete(taskID, agentID string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.requireTaskLocked(taskID)
	if err != nil {
		return nil, err
	}
	if t.Assignee != agentID {
		return nil, apierr.Ownershipf("only the assignee (%s) may complete task %s", t.Assignee, taskID)
	}
	now := clock()
	t.Status = TaskDone
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := c.store.upsertTask(t); err != nil {
		return nil, apierr.Storagef(err, "complete task")
	}
	c.postSystemLine(fmt.Sprintf("%s completed task \"%s\"", agentID, t.Title))
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "completed", "task": t})
	return t, nil
}

// Block marks a task blocked with a reason. Any caller may block a task
// they're working (ownership is enforced the same way as complete/release
// for in-progress tasks; a todo task has no owner to check against).
func (c *Coordinator) Block(taskID, agentID, reason string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.requireTaskLocked(taskID)
	if err != nil {
		return nil, err
	}
	if t.Assignee != "" && t.Assignee != agentID {
		return nil, apierr.Ownershipf("only the assignee (%s) may block task %s", t.Assignee, taskID)
	}
	t.Status = TaskBlocked
	t.BlockedReason = reason
	t.UpdatedAt = clock()
	if err := c.store.upsertTask(t); err != nil {
		return nil, apierr.Storagef(err, "block task")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "blocked", "task": t})
	return t, nil
}

// Release clears the assignee and resets the task to todo; only the
// assignee may call it.
func (c *Coordinator) Release(taskID, agentID string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.requireTaskLocked(taskID)
	if err != nil {
		return nil, err
	}
	if t.Assignee != agentID {
		return nil, apierr.Ownershipf("only the assignee (%s) may release task %s", t.Assignee, taskID)
	}
	t.Assignee = ""
	t.Status = TaskTodo
	t.PickedUpAt = nil
	t.BlockedReason = ""
	t.UpdatedAt = clock()
	if err := c.store.upsertTask(t); err != nil {
		return nil, apierr.Storagef(err, "release task")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "released", "task": t})
	return t, nil
}
