package domain

import "math"

// Unspecified labels tasks whose priority or status is missing or unknown.
const Unspecified = "Unspecified"

// SeriesPoint is one bar of a chart series.
type SeriesPoint struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// MilestoneProgress pairs completed and total task counts for a milestone.
type MilestoneProgress struct {
	MilestoneID string  `json:"milestoneId"`
	Title       string  `json:"title"`
	Completed   int     `json:"completed"`
	Total       int     `json:"total"`
	Progress    float64 `json:"progress"`
}

// Analytics holds the chart-ready series and headline rates of a workflow.
type Analytics struct {
	TotalTasks           int                 `json:"totalTasks"`
	CompletedTasks       int                 `json:"completedTasks"`
	TotalStoryPoints     int                 `json:"totalStoryPoints"`
	CompletedStoryPoints int                 `json:"completedStoryPoints"`
	CompletionRate       float64             `json:"completionRate"`
	Burndown             float64             `json:"burndown"`
	PriorityDistribution []SeriesPoint       `json:"priorityDistribution"`
	StatusDistribution   []SeriesPoint       `json:"statusDistribution"`
	MilestoneProgress    []MilestoneProgress `json:"milestoneProgress"`
}

// Summarize derives analytics from the workflow's tasks without modifying it.
// Distributions always sum to TotalTasks: unknown values land in Unspecified.
func Summarize(wf Workflow) Analytics {
	byPriority := make(map[Priority]int, len(Priorities))
	byStatus := make(map[TaskStatus]int, len(Statuses))
	var out Analytics
	unknownPriority, unknownStatus := 0, 0

	out.MilestoneProgress = make([]MilestoneProgress, 0, len(wf.Milestones))
	for _, m := range wf.Milestones {
		completed := 0
		for _, t := range m.Tasks {
			out.TotalTasks++
			out.TotalStoryPoints += t.StoryPoints
			if t.Completed() {
				completed++
				out.CompletedStoryPoints += t.StoryPoints
			}
			if knownPriority(t.Priority) {
				byPriority[t.Priority]++
			} else {
				unknownPriority++
			}
			if ValidStatus(t.Status) {
				byStatus[t.Status]++
			} else {
				unknownStatus++
			}
		}
		out.CompletedTasks += completed
		out.MilestoneProgress = append(out.MilestoneProgress, MilestoneProgress{
			MilestoneID: m.ID,
			Title:       m.Title,
			Completed:   completed,
			Total:       len(m.Tasks),
			Progress:    Percent(completed, len(m.Tasks)),
		})
	}

	out.CompletionRate = Percent(out.CompletedTasks, out.TotalTasks)
	out.Burndown = Percent(out.CompletedStoryPoints, out.TotalStoryPoints)

	out.PriorityDistribution = make([]SeriesPoint, 0, len(Priorities)+1)
	for _, p := range Priorities {
		out.PriorityDistribution = append(out.PriorityDistribution, SeriesPoint{Label: string(p), Count: byPriority[p]})
	}
	if unknownPriority > 0 {
		out.PriorityDistribution = append(out.PriorityDistribution, SeriesPoint{Label: Unspecified, Count: unknownPriority})
	}

	out.StatusDistribution = make([]SeriesPoint, 0, len(Statuses)+1)
	for _, s := range Statuses {
		out.StatusDistribution = append(out.StatusDistribution, SeriesPoint{Label: string(s), Count: byStatus[s]})
	}
	if unknownStatus > 0 {
		out.StatusDistribution = append(out.StatusDistribution, SeriesPoint{Label: Unspecified, Count: unknownStatus})
	}
	return out
}

// Percent returns part/whole as a percentage rounded to one decimal.
// A non-positive whole yields 0 so callers never see NaN or Inf.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}

func knownPriority(p Priority) bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}
