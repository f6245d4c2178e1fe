package domain

import (
	"context"
	"strconv"
	"time"
)

func ptrString(s string) *string { return &s }
func ptrInt(i int) *int          { return &i }

func ptrTime(t time.Time) *time.Time { return &t }

// scenarioWorkflow has milestone A with three tasks (two completed, one in
// progress) and milestone B with a single unfinished task.
func scenarioWorkflow() Workflow {
	return Workflow{
		ID:             "wf1",
		ProjectID:      "wf1",
		OrganizationID: "org1",
		Status:         WorkflowStatusActive,
		Milestones: []Milestone{
			{
				ID:    "A",
				Title: "Discovery",
				Tasks: []Task{
					{ID: "t1", Title: "Interviews", Assignee: "alice", StoryPoints: 3, Priority: PriorityHigh, Status: StatusCompleted, RiskLevel: RiskLow},
					{ID: "t2", Title: "Personas", Assignee: "alice", StoryPoints: 5, Priority: PriorityCritical, Status: StatusCompleted, RiskLevel: RiskMedium},
					{ID: "t3", Title: "Wireframes", Assignee: "bob", StoryPoints: 8, Priority: PriorityMedium, Status: StatusInProgress, RiskLevel: RiskHigh},
				},
			},
			{
				ID:    "B",
				Title: "Build",
				Tasks: []Task{
					{ID: "t4", Title: "API", Assignee: "carol", StoryPoints: 13, Priority: PriorityLow, Status: StatusNotStarted},
				},
			},
		},
		Team: []TeamAssignment{
			{UserID: "alice", Name: "Alice", Role: "designer", Skills: []string{"ux"}},
			{UserID: "bob", Name: "Bob", Role: "designer"},
			{UserID: "dave", Name: "Dave", Role: "engineer", Skills: []string{"go"}},
		},
	}
}

type fakeWorkflowStore struct {
	workflows map[string]Workflow
	etags     map[string]int
	conflicts int
	replaced  []Workflow
	getErr    error
}

func newFakeWorkflowStore(wfs ...Workflow) *fakeWorkflowStore {
	f := &fakeWorkflowStore{workflows: map[string]Workflow{}, etags: map[string]int{}}
	for _, wf := range wfs {
		f.workflows[wf.ID] = wf
		f.etags[wf.ID] = 1
	}
	return f
}

func (f *fakeWorkflowStore) GetWorkflow(ctx context.Context, id string) (*Workflow, string, error) {
	if f.getErr != nil {
		return nil, "", f.getErr
	}
	wf, ok := f.workflows[id]
	if !ok {
		return nil, "", nil
	}
	// deep enough copy for the mutations under test
	cp := wf
	cp.Milestones = make([]Milestone, len(wf.Milestones))
	for i, m := range wf.Milestones {
		cp.Milestones[i] = m
		cp.Milestones[i].Tasks = append([]Task(nil), m.Tasks...)
	}
	return &cp, etagString(f.etags[id]), nil
}

func (f *fakeWorkflowStore) ReplaceWorkflow(ctx context.Context, wf Workflow, etag string) error {
	if f.conflicts > 0 {
		f.conflicts--
		f.etags[wf.ID]++
		return ErrConcurrencyConflict
	}
	if etag != etagString(f.etags[wf.ID]) {
		return ErrConcurrencyConflict
	}
	f.workflows[wf.ID] = wf
	f.etags[wf.ID]++
	f.replaced = append(f.replaced, wf)
	return nil
}

func etagString(v int) string {
	return "W/\"" + strconv.Itoa(v) + "\""
}
