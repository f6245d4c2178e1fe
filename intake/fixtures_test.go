package intake

import (
	"context"
	"errors"
)

func validRequirements() ProjectRequirements {
	return ProjectRequirements{
		Basics: Basics{ProjectName: "Atlas", Description: "Customer portal rebuild", ProjectType: "migration"},
		Contacts: Contacts{
			Primary:   Contact{Name: "Ada", Email: "ada@example.com", Phone: "+44 20 0000", Role: "sponsor"},
			Technical: &Contact{Name: "Lin", Email: "lin@example.com"},
		},
		Objectives: Objectives{ProblemStatement: "Portal is slow", BusinessGoals: []string{"halve load time"}},
		Platform:   Platform{Web: true, IOS: true, BrowserSupport: []string{"chrome"}},
		Technology: Technology{Frontend: []string{"react"}, Backend: []string{"go"}},
		Timeline: Timeline{
			StartDate:        "2026-01-05",
			TargetLaunchDate: "2026-06-30",
			Milestones:       []MilestoneDraft{{Title: "Beta", Date: "2026-04-01"}},
		},
		Scope:       Scope{InScope: []string{"accounts"}, OutOfScope: []string{"billing"}},
		Compliance:  Compliance{Standards: []string{"GDPR"}, DataClassification: "confidential"},
		Deployment:  Deployment{Environment: "cloud", Provider: "azure", Regions: []string{"westeurope"}, CICD: true},
		Team:        Team{Size: 4, Roles: []string{"pm", "dev"}, Risks: "single designer"},
		Tags:        []string{"portal"},
		KeyFeatures: []string{"sso"},
	}
}

type fakeProjectStore struct {
	created []ProjectDocuments
	err     error
}

func (f *fakeProjectStore) CreateProject(ctx context.Context, docs ProjectDocuments) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, docs)
	return nil
}

type fakeQueue struct {
	requests []GenerationRequest
	err      error
}

func (f *fakeQueue) EnqueueWorkflowGeneration(ctx context.Context, req GenerationRequest) error {
	f.requests = append(f.requests, req)
	return f.err
}

type fakeDrafts struct {
	drafts map[string]State
}

func newFakeDrafts() *fakeDrafts { return &fakeDrafts{drafts: map[string]State{}} }

func (f *fakeDrafts) LoadDraft(ctx context.Context, userID string) (State, bool, error) {
	s, ok := f.drafts[userID]
	return s, ok, nil
}

func (f *fakeDrafts) SaveDraft(ctx context.Context, userID string, s State) error {
	if userID == "" {
		return errors.New("no user")
	}
	f.drafts[userID] = s
	return nil
}

func (f *fakeDrafts) DeleteDraft(ctx context.Context, userID string) error {
	delete(f.drafts, userID)
	return nil
}
