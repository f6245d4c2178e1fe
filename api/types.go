package api

import (
	"context"

	"project-manager/domain"
	"project-manager/intake"
)

// Authenticator resolves the calling principal from an Authorization header.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (domain.Principal, error)
}

// ProjectReader serves the project list and description views.
type ProjectReader interface {
	ListProjects(ctx context.Context, organizationID string) ([]domain.WorkflowIndex, error)
	// GetRequirements returns nil when the project does not exist.
	GetRequirements(ctx context.Context, id string) (*intake.ProjectRequirements, error)
}

// WorkflowReader returns nil when the workflow does not exist.
type WorkflowReader interface {
	Workflow(ctx context.Context, id string) (*domain.Workflow, error)
}

// CommandQueue accepts workflow commands for the worker.
type CommandQueue interface {
	EnqueueCommands(ctx context.Context, envs []domain.CommandEnvelope) error
}

// Submitter turns a completed intake form into stored project documents.
type Submitter interface {
	Submit(ctx context.Context, p domain.Principal, req intake.ProjectRequirements) (intake.Submission, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// AddMany records keys and reports which ones were newly added.
	AddMany(ctx context.Context, userID string, keys []string) ([]bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
