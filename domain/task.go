package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority ranks how urgent a task is.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// Priorities lists the known priorities from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// TaskStatus is the progress state of a task. Any status may follow any other.
type TaskStatus string

const (
	StatusNotStarted TaskStatus = "not_started"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
)

// Statuses lists the canonical task statuses in board order.
var Statuses = []TaskStatus{StatusNotStarted, StatusInProgress, StatusCompleted}

// RiskLevel is the delivery risk attached to a task.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "High"
	RiskMedium RiskLevel = "Medium"
	RiskLow    RiskLevel = "Low"
)

// RiskLevels lists the known risk levels from highest to lowest.
var RiskLevels = []RiskLevel{RiskHigh, RiskMedium, RiskLow}

// Task is a single unit of work inside a milestone.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Assignee     string     `json:"assignee,omitempty"`
	StoryPoints  int        `json:"storyPoints"`
	Priority     Priority   `json:"priority,omitempty"`
	Status       TaskStatus `json:"status"`
	RiskLevel    RiskLevel  `json:"riskLevel,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
}

// UnmarshalJSON accepts the legacy multi-assignee shape (assignedTo) and
// status aliases, normalizing both into the canonical task fields.
func (t *Task) UnmarshalJSON(data []byte) error {
	type taskAlias Task
	var raw struct {
		taskAlias
		AssignedTo []string `json:"assignedTo"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Task(raw.taskAlias)
	if t.Assignee == "" {
		for _, a := range raw.AssignedTo {
			if a = strings.TrimSpace(a); a != "" {
				t.Assignee = a
				break
			}
		}
	}
	t.Status = NormalizeStatus(t.Status)
	t.Priority = NormalizePriority(t.Priority)
	t.RiskLevel = NormalizeRiskLevel(t.RiskLevel)
	return nil
}

// Completed reports whether the task is done.
func (t Task) Completed() bool { return t.Status == StatusCompleted }

// Delayed reports whether an unfinished task is past its end date.
func (t Task) Delayed(now time.Time) bool {
	return !t.Completed() && t.EndDate != nil && t.EndDate.Before(now)
}

// NormalizeStatus maps status aliases onto the canonical statuses. Unknown
// values are returned unchanged.
func NormalizeStatus(s TaskStatus) TaskStatus {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "not_started", "not-started", "todo":
		return StatusNotStarted
	case "in_progress", "in-progress", "inprogress":
		return StatusInProgress
	case "completed", "done":
		return StatusCompleted
	}
	return s
}

// NormalizePriority matches priorities case-insensitively.
func NormalizePriority(p Priority) Priority {
	for _, known := range Priorities {
		if strings.EqualFold(string(known), strings.TrimSpace(string(p))) {
			return known
		}
	}
	return p
}

// NormalizeRiskLevel matches risk levels case-insensitively.
func NormalizeRiskLevel(r RiskLevel) RiskLevel {
	for _, known := range RiskLevels {
		if strings.EqualFold(string(known), strings.TrimSpace(string(r))) {
			return known
		}
	}
	return r
}

// ValidStatus reports whether s is one of the canonical statuses.
func ValidStatus(s TaskStatus) bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}
