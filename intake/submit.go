package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"project-manager/domain"
)

var ErrMissingOrganization = errors.New("missing organization")

// ProjectDocuments are the three documents written for one submission. They
// share the same id and are stored all together or not at all.
type ProjectDocuments struct {
	Requirements ProjectRequirements
	Workflow     domain.Workflow
	Index        domain.WorkflowIndex
}

// GenerationRequest asks the planner to fill an empty workflow shell.
type GenerationRequest struct {
	ProjectID      string `json:"projectId"`
	WorkflowID     string `json:"workflowId"`
	OrganizationID string `json:"organizationId"`
	RequestedBy    string `json:"requestedBy"`
}

// ProjectStore persists the documents of a new project in one batch.
type ProjectStore interface {
	CreateProject(ctx context.Context, docs ProjectDocuments) error
}

// GenerationQueue accepts workflow generation requests.
type GenerationQueue interface {
	EnqueueWorkflowGeneration(ctx context.Context, req GenerationRequest) error
}

// DraftStore keeps unfinished forms per user.
type DraftStore interface {
	// LoadDraft returns false when the user has no draft.
	LoadDraft(ctx context.Context, userID string) (State, bool, error)
	SaveDraft(ctx context.Context, userID string, s State) error
	DeleteDraft(ctx context.Context, userID string) error
}

// Submission identifies a stored project and where the caller goes next.
type Submission struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

// DescriptionPath is the project description view for id.
func DescriptionPath(id string) string {
	return "/projects/" + id + "/description"
}

// Submitter turns a completed form into stored project documents.
type Submitter struct {
	store  ProjectStore
	queue  GenerationQueue
	drafts DraftStore
	now    func() time.Time
	newID  func() string
}

// NewSubmitter creates a Submitter. queue and drafts may be nil.
func NewSubmitter(store ProjectStore, queue GenerationQueue, drafts DraftStore) *Submitter {
	return &Submitter{
		store:  store,
		queue:  queue,
		drafts: drafts,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Submit validates req and writes the requirements, an empty workflow and the
// index under one new id. Nothing is written when the caller has no
// organization or the requirements are invalid.
func (s *Submitter) Submit(ctx context.Context, p domain.Principal, req ProjectRequirements) (Submission, error) {
	orgID := strings.TrimSpace(p.OrganizationID)
	if orgID == "" {
		return Submission{}, ErrMissingOrganization
	}
	if err := Validate(req); err != nil {
		return Submission{}, err
	}

	docs, err := s.build(p.UserID, orgID, req)
	if err != nil {
		return Submission{}, err
	}
	id := docs.Index.ProjectID
	if err := s.store.CreateProject(ctx, docs); err != nil {
		return Submission{}, fmt.Errorf("create project %s: %w", id, err)
	}

	fields := log.Fields{"project": id, "organization": orgID, "user": p.UserID}
	if s.drafts != nil {
		if err := s.drafts.DeleteDraft(ctx, p.UserID); err != nil {
			log.WithFields(fields).WithError(err).Warn("failed to delete intake draft")
		}
	}
	if s.queue != nil {
		genReq := GenerationRequest{ProjectID: id, WorkflowID: id, OrganizationID: orgID, RequestedBy: p.UserID}
		if err := s.queue.EnqueueWorkflowGeneration(ctx, genReq); err != nil {
			log.WithFields(fields).WithError(err).Warn("failed to request workflow generation")
		}
	}
	log.WithFields(fields).Info("project submitted")

	return Submission{ID: id, Location: DescriptionPath(id)}, nil
}

func (s *Submitter) build(userID, orgID string, req ProjectRequirements) (ProjectDocuments, error) {
	stored, err := req.Clone()
	if err != nil {
		return ProjectDocuments{}, err
	}
	id := s.newID()
	now := s.now().UTC()

	stored.ID = id
	stored.OrganizationID = orgID
	stored.CreatedBy = userID
	stored.Status = StatusPendingWorkflowGeneration
	stored.CreatedAt = &now

	return ProjectDocuments{
		Requirements: stored,
		Workflow: domain.Workflow{
			ID:             id,
			ProjectID:      id,
			OrganizationID: orgID,
			Status:         domain.WorkflowStatusPending,
			Milestones:     []domain.Milestone{},
			Team:           []domain.TeamAssignment{},
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		Index: domain.WorkflowIndex{
			ProjectID:      id,
			WorkflowID:     id,
			OrganizationID: orgID,
			ProjectName:    stored.Basics.ProjectName,
			CreatedBy:      userID,
			CreatedAt:      now,
		},
	}, nil
}
