package domain

import "slices"

// DefaultWeeklyCapacity is the story points one person is assumed to carry per week.
const DefaultWeeklyCapacity = 40

// TeamMember is a roster entry considered by the workload aggregator.
type TeamMember struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Skills []string `json:"skills,omitempty"`
}

// TeamMemberWorkload summarizes the tasks assigned to one roster member.
type TeamMemberWorkload struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	AssignedTasks        int               `json:"assignedTasks"`
	CompletedTasks       int               `json:"completedTasks"`
	TasksInProgress      int               `json:"tasksInProgress"`
	NotStartedTasks      int               `json:"notStartedTasks"`
	TotalStoryPoints     int               `json:"totalStoryPoints"`
	CompletedStoryPoints int               `json:"completedStoryPoints"`
	Skills               []string          `json:"skills"`
	CurrentUtilization   float64           `json:"currentUtilization"`
	ByPriority           map[Priority]int  `json:"byPriority"`
	ByRisk               map[RiskLevel]int `json:"byRisk"`
}

// RosterFromTeam converts workflow team assignments into a roster.
func RosterFromTeam(team []TeamAssignment) []TeamMember {
	roster := make([]TeamMember, 0, len(team))
	for _, a := range team {
		if a.UserID == "" {
			continue
		}
		name := a.Name
		if name == "" {
			name = a.UserID
		}
		roster = append(roster, TeamMember{ID: a.UserID, Name: name, Skills: a.Skills})
	}
	return roster
}

// WorkloadAggregator folds workflow tasks into per-member workloads.
type WorkloadAggregator struct {
	// WeeklyCapacity is the denominator of utilization. Zero or less disables it.
	WeeklyCapacity int
}

// NewWorkloadAggregator returns an aggregator, falling back to
// DefaultWeeklyCapacity when capacity is not positive.
func NewWorkloadAggregator(capacity int) WorkloadAggregator {
	if capacity <= 0 {
		capacity = DefaultWeeklyCapacity
	}
	return WorkloadAggregator{WeeklyCapacity: capacity}
}

// Aggregate returns one workload per roster member, keyed by member id. Every
// roster member is present even without tasks. Tasks assigned to someone
// outside the roster are ignored.
//
// Utilization is taken from the most recently visited in-progress task rather
// than summed over all of them.
func (a WorkloadAggregator) Aggregate(wf Workflow, roster []TeamMember) map[string]TeamMemberWorkload {
	acc := make(map[string]*TeamMemberWorkload, len(roster))
	for _, m := range roster {
		acc[m.ID] = &TeamMemberWorkload{
			ID:         m.ID,
			Name:       m.Name,
			Skills:     slices.Clone(m.Skills),
			ByPriority: map[Priority]int{},
			ByRisk:     map[RiskLevel]int{},
		}
		if acc[m.ID].Skills == nil {
			acc[m.ID].Skills = []string{}
		}
	}

	wf.EachTask(func(_ *Milestone, t *Task) {
		w, ok := acc[t.Assignee]
		if !ok {
			return
		}
		w.AssignedTasks++
		w.TotalStoryPoints += t.StoryPoints
		switch t.Status {
		case StatusCompleted:
			w.CompletedTasks++
			w.CompletedStoryPoints += t.StoryPoints
		case StatusInProgress:
			w.TasksInProgress++
			w.CurrentUtilization = a.utilization(t.StoryPoints)
		default:
			w.NotStartedTasks++
		}
		if t.Priority != "" {
			w.ByPriority[t.Priority]++
		}
		if t.RiskLevel != "" {
			w.ByRisk[t.RiskLevel]++
		}
	})

	out := make(map[string]TeamMemberWorkload, len(acc))
	for id, w := range acc {
		out[id] = *w
	}
	return out
}

func (a WorkloadAggregator) utilization(points int) float64 {
	return Percent(points, a.WeeklyCapacity)
}

// SortedWorkloads returns the workloads ordered like the roster.
func SortedWorkloads(roster []TeamMember, workloads map[string]TeamMemberWorkload) []TeamMemberWorkload {
	out := make([]TeamMemberWorkload, 0, len(workloads))
	seen := make(map[string]struct{}, len(roster))
	for _, m := range roster {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if w, ok := workloads[m.ID]; ok {
			out = append(out, w)
		}
	}
	return out
}
