package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

const (
	TaskStatusChanged = "task-status-changed"
	TaskAssigned      = "task-assigned"
	TaskUpdated       = "task-updated"
	TaskAdded         = "task-added"
	TaskRemoved       = "task-removed"
	MilestoneAdded    = "milestone-added"
)

// Command represents a write request against a workflow's tasks.
type Command struct {
	// ID carries the idempotency key once the command is enqueued.
	ID             string          `json:"id,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Type           string          `json:"type"`
	MilestoneID    string          `json:"milestoneId,omitempty"`
	TaskID         string          `json:"taskId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      int64           `json:"timestamp"`
}

// CommandEnvelope wraps a command with the caller and the target workflow.
type CommandEnvelope struct {
	UserID         string  `json:"userId"`
	OrganizationID string  `json:"organizationId"`
	WorkflowID     string  `json:"workflowId"`
	Command        Command `json:"command"`
}

type TaskStatusChangedData struct {
	Status TaskStatus `json:"status"`
}

type TaskAssignedData struct {
	Assignee string `json:"assignee"`
}

// TaskUpdatedData carries partial task changes; nil fields are left untouched.
type TaskUpdatedData struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	StoryPoints  *int       `json:"storyPoints,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
	RiskLevel    *RiskLevel `json:"riskLevel,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
}

// ApplyCommand mutates wf according to cmd. Metadata is not refreshed here;
// callers recompute once all changes are applied.
func ApplyCommand(wf *Workflow, cmd Command) error {
	switch cmd.Type {
	case TaskStatusChanged:
		var data TaskStatusChangedData
		if err := decodeCommandData(cmd, &data); err != nil {
			return err
		}
		status := NormalizeStatus(data.Status)
		if !ValidStatus(status) {
			return fmt.Errorf("%w: status %q", ErrInvalidCommand, data.Status)
		}
		_, t, ok := wf.FindTask(cmd.TaskID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, cmd.TaskID)
		}
		t.Status = status
		return nil
	case TaskAssigned:
		var data TaskAssignedData
		if err := decodeCommandData(cmd, &data); err != nil {
			return err
		}
		_, t, ok := wf.FindTask(cmd.TaskID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, cmd.TaskID)
		}
		t.Assignee = data.Assignee
		return nil
	case TaskUpdated:
		var data TaskUpdatedData
		if err := decodeCommandData(cmd, &data); err != nil {
			return err
		}
		_, t, ok := wf.FindTask(cmd.TaskID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, cmd.TaskID)
		}
		return applyTaskUpdate(t, data)
	case TaskAdded:
		var task Task
		if err := decodeCommandData(cmd, &task); err != nil {
			return err
		}
		m, ok := wf.FindMilestone(cmd.MilestoneID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMilestoneNotFound, cmd.MilestoneID)
		}
		if task.ID == "" {
			task.ID = cmd.ID
		}
		if task.ID == "" {
			return fmt.Errorf("%w: task id required", ErrInvalidCommand)
		}
		if task.StoryPoints < 0 {
			return fmt.Errorf("%w: negative story points", ErrInvalidCommand)
		}
		if task.Status == "" {
			task.Status = StatusNotStarted
		}
		if _, _, exists := wf.FindTask(task.ID); exists {
			// redelivered command
			return nil
		}
		m.Tasks = append(m.Tasks, task)
		return nil
	case TaskRemoved:
		m, _, ok := wf.FindTask(cmd.TaskID)
		if !ok {
			return nil
		}
		m.Tasks = slices.DeleteFunc(m.Tasks, func(t Task) bool { return t.ID == cmd.TaskID })
		return nil
	case MilestoneAdded:
		var m Milestone
		if err := decodeCommandData(cmd, &m); err != nil {
			return err
		}
		if m.ID == "" {
			m.ID = cmd.ID
		}
		if m.ID == "" || m.Title == "" {
			return fmt.Errorf("%w: milestone id and title required", ErrInvalidCommand)
		}
		if _, exists := wf.FindMilestone(m.ID); exists {
			return nil
		}
		for _, t := range m.Tasks {
			if t.StoryPoints < 0 {
				return fmt.Errorf("%w: negative story points", ErrInvalidCommand)
			}
		}
		if m.Tasks == nil {
			m.Tasks = []Task{}
		}
		wf.Milestones = append(wf.Milestones, m)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}
}

func applyTaskUpdate(t *Task, data TaskUpdatedData) error {
	if data.StoryPoints != nil && *data.StoryPoints < 0 {
		return fmt.Errorf("%w: negative story points", ErrInvalidCommand)
	}
	changed := false
	if data.Title != nil {
		t.Title = *data.Title
		changed = true
	}
	if data.Description != nil {
		t.Description = *data.Description
		changed = true
	}
	if data.StoryPoints != nil {
		t.StoryPoints = *data.StoryPoints
		changed = true
	}
	if data.Priority != nil {
		t.Priority = NormalizePriority(*data.Priority)
		changed = true
	}
	if data.RiskLevel != nil {
		t.RiskLevel = NormalizeRiskLevel(*data.RiskLevel)
		changed = true
	}
	if data.Dependencies != nil {
		t.Dependencies = slices.Clone(data.Dependencies)
		changed = true
	}
	if data.StartDate != nil {
		t.StartDate = data.StartDate
		changed = true
	}
	if data.EndDate != nil {
		t.EndDate = data.EndDate
		changed = true
	}
	if !changed {
		return fmt.Errorf("%w: task %s update had no fields", ErrInvalidCommand, t.ID)
	}
	return nil
}

func decodeCommandData(cmd Command, v any) error {
	if len(cmd.Data) == 0 {
		return fmt.Errorf("%w: %s requires data", ErrInvalidCommand, cmd.Type)
	}
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrInvalidCommand, cmd.Type, err)
	}
	return nil
}
