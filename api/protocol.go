package api

import (
	"project-manager/domain"
	"project-manager/intake"
)

const (
	postCommandMaxSize = 64 * 1024  // 64 KiB
	postIntakeMaxSize  = 256 * 1024 // 256 KiB
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// POST /api/workflows/:id/commands response body
type postCommandResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// POST /api/intake/draft/actions request body
type postActionsRequest struct {
	Actions []intake.Action `json:"actions"`
}

type draftResponse struct {
	Step         int                        `json:"step"`
	Steps        int                        `json:"steps"`
	Requirements intake.ProjectRequirements `json:"requirements"`
}

func newDraftResponse(s intake.State) draftResponse {
	return draftResponse{Step: s.Step, Steps: intake.Steps, Requirements: s.Requirements}
}

type validationResponse struct {
	Step   int               `json:"step,omitempty"`
	Valid  bool              `json:"valid"`
	Fields map[string]string `json:"fields,omitempty"`
}

type projectsResponse struct {
	Projects []domain.WorkflowIndex `json:"projects"`
}

type workloadResponse struct {
	WorkflowID     string                      `json:"workflowId"`
	WeeklyCapacity int                         `json:"weeklyCapacity"`
	Members        []domain.TeamMemberWorkload `json:"members"`
}

// dashboardEvent is pushed on the workflow stream.
type dashboardEvent struct {
	WorkflowID string                  `json:"workflowId"`
	Metadata   domain.WorkflowMetadata `json:"metadata"`
	Analytics  domain.Analytics        `json:"analytics"`
	Workload   workloadResponse        `json:"workload"`
}
