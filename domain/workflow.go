package domain

import (
	"encoding/json"
	"time"
)

const (
	WorkflowStatusPending = "pending"
	WorkflowStatusActive  = "active"
)

// Milestone groups tasks delivered together.
type Milestone struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Completed    bool       `json:"completed"`
	Tasks        []Task     `json:"tasks"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// CompletedTasks counts the milestone's completed tasks.
func (m Milestone) CompletedTasks() int {
	n := 0
	for _, t := range m.Tasks {
		if t.Completed() {
			n++
		}
	}
	return n
}

// Progress is the completed share of tasks as a percentage, 0 when empty.
func (m Milestone) Progress() float64 {
	return Percent(m.CompletedTasks(), len(m.Tasks))
}

// TeamAssignment describes a person staffed on a workflow.
type TeamAssignment struct {
	UserID       string   `json:"userId"`
	Name         string   `json:"name,omitempty"`
	Role         string   `json:"role,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Availability float64  `json:"availability"`
	CurrentLoad  float64  `json:"currentLoad"`
}

// WorkflowMetadata is a denormalized summary of the workflow's tasks.
type WorkflowMetadata struct {
	TotalTasks           int `json:"totalTasks"`
	CompletedTasks       int `json:"completedTasks"`
	TotalStoryPoints     int `json:"totalStoryPoints"`
	CompletedStoryPoints int `json:"completedStoryPoints"`
	CriticalTasks        int `json:"criticalTasks"`
	DelayedTasks         int `json:"delayedTasks"`
}

// Workflow is the delivery plan attached to a project.
type Workflow struct {
	ID             string           `json:"id"`
	ProjectID      string           `json:"projectId"`
	OrganizationID string           `json:"organizationId"`
	Status         string           `json:"status"`
	Milestones     []Milestone      `json:"milestones"`
	Team           []TeamAssignment `json:"team"`
	Metadata       WorkflowMetadata `json:"metadata"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// UnmarshalJSON accepts documents that carry their milestones under "steps".
func (w *Workflow) UnmarshalJSON(data []byte) error {
	type workflowAlias Workflow
	var raw struct {
		workflowAlias
		Steps []Milestone `json:"steps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*w = Workflow(raw.workflowAlias)
	if len(w.Milestones) == 0 && len(raw.Steps) > 0 {
		w.Milestones = raw.Steps
	}
	return nil
}

// EachTask visits every task of every milestone exactly once, in order.
func (w Workflow) EachTask(fn func(m *Milestone, t *Task)) {
	for i := range w.Milestones {
		m := &w.Milestones[i]
		for j := range m.Tasks {
			fn(m, &m.Tasks[j])
		}
	}
}

// ComputeMetadata derives the summary counters from the current tasks.
func (w Workflow) ComputeMetadata(now time.Time) WorkflowMetadata {
	var md WorkflowMetadata
	w.EachTask(func(_ *Milestone, t *Task) {
		md.TotalTasks++
		md.TotalStoryPoints += t.StoryPoints
		if t.Completed() {
			md.CompletedTasks++
			md.CompletedStoryPoints += t.StoryPoints
		}
		if t.Priority == PriorityCritical {
			md.CriticalTasks++
		}
		if t.Delayed(now) {
			md.DelayedTasks++
		}
	})
	return md
}

// Recompute refreshes metadata and milestone completion flags in place.
// It must run after every task mutation and before a workflow is served.
func (w *Workflow) Recompute(now time.Time) {
	for i := range w.Milestones {
		m := &w.Milestones[i]
		m.Completed = len(m.Tasks) > 0 && m.CompletedTasks() == len(m.Tasks)
	}
	w.Metadata = w.ComputeMetadata(now)
}

// FindTask locates a task by id.
func (w *Workflow) FindTask(id string) (*Milestone, *Task, bool) {
	for i := range w.Milestones {
		m := &w.Milestones[i]
		for j := range m.Tasks {
			if m.Tasks[j].ID == id {
				return m, &m.Tasks[j], true
			}
		}
	}
	return nil, nil, false
}

// FindMilestone locates a milestone by id.
func (w *Workflow) FindMilestone(id string) (*Milestone, bool) {
	for i := range w.Milestones {
		if w.Milestones[i].ID == id {
			return &w.Milestones[i], true
		}
	}
	return nil, false
}

// WorkflowIndex cross-references a project with its workflow.
type WorkflowIndex struct {
	ProjectID      string    `json:"projectId"`
	WorkflowID     string    `json:"workflowId"`
	OrganizationID string    `json:"organizationId"`
	ProjectName    string    `json:"projectName"`
	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID         string
	OrganizationID string
}
