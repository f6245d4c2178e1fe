package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const maxConflictRetries = 5

// WorkflowStorage defines methods required for mutating workflow documents.
type WorkflowStorage interface {
	// GetWorkflow returns nil when the workflow does not exist.
	GetWorkflow(ctx context.Context, id string) (*Workflow, string, error)
	// ReplaceWorkflow stores wf if the persisted version still matches etag,
	// returning ErrConcurrencyConflict otherwise.
	ReplaceWorkflow(ctx context.Context, wf Workflow, etag string) error
}

// WorkflowService applies task commands to workflows.
type WorkflowService struct {
	st  WorkflowStorage
	now func() time.Time
}

func NewWorkflowService(st WorkflowStorage) WorkflowService {
	return WorkflowService{st: st, now: time.Now}
}

// Apply executes the enveloped command against the latest workflow version,
// recomputes its metadata and persists it. Concurrent writers are resolved by
// reloading and reapplying.
func (s WorkflowService) Apply(ctx context.Context, env CommandEnvelope) (*Workflow, error) {
	fields := log.Fields{"workflow": env.WorkflowID, "command": env.Command.Type, "key": env.Command.IdempotencyKey}
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		wf, etag, err := s.st.GetWorkflow(ctx, env.WorkflowID)
		if err != nil {
			return nil, err
		}
		if wf == nil {
			log.WithFields(fields).Error("command for missing workflow")
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, env.WorkflowID)
		}
		if env.OrganizationID != "" && wf.OrganizationID != env.OrganizationID {
			log.WithFields(fields).WithField("organization", env.OrganizationID).Error("command from foreign organization")
			return nil, ErrForbidden
		}
		if err := ApplyCommand(wf, env.Command); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		if wf.Status == WorkflowStatusPending && len(wf.Milestones) > 0 {
			wf.Status = WorkflowStatusActive
		}
		wf.UpdatedAt = now
		wf.Recompute(now)

		if err := s.st.ReplaceWorkflow(ctx, *wf, etag); err != nil {
			if !errors.Is(err, ErrConcurrencyConflict) {
				return nil, err
			}
			log.WithFields(fields).WithField("attempt", attempt+1).Debug("workflow changed concurrently, retrying")
			continue
		}
		return wf, nil
	}
	return nil, fmt.Errorf("workflow %s: %w after %d attempts", env.WorkflowID, ErrConcurrencyConflict, maxConflictRetries)
}
