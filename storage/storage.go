package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"project-manager/domain"
	"project-manager/intake"
)

var ErrProjectExists = errors.New("project already exists")

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, o *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Storage keeps project documents in one table and workflow commands in
// Azure queues.
type Storage struct {
	projects         tableClient
	commandQueue     commandQueueClient
	generationQueue  queueClient
	queueConcurrency int
}

// Options names the table and queues used by Storage.
type Options struct {
	ProjectsTable    string
	CommandQueue     string
	GenerationQueue  string
	QueueConcurrency int
}

var retryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// New creates a Storage from an account connection string.
func New(connStr string, opts Options) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, opts.CommandQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	gq, err := azqueue.NewQueueClientFromConnectionString(connStr, opts.GenerationQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	concurrency := opts.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Storage{
		projects:         svc.NewClient(opts.ProjectsTable),
		commandQueue:     cq,
		generationQueue:  gq,
		queueConcurrency: concurrency,
	}, nil
}

// CreateProject writes the requirements, the workflow shell and the index in
// a single transaction. The three rows share the partition key so the batch
// succeeds or fails as a whole.
func (s *Storage) CreateProject(ctx context.Context, docs intake.ProjectDocuments) error {
	pk := docs.Index.ProjectID
	if pk == "" || docs.Requirements.ID != pk || docs.Workflow.ID != pk {
		return errors.New("project documents must share one id")
	}
	orgID := docs.Index.OrganizationID
	rows := []struct {
		rk  string
		doc any
	}{
		{rowRequirements, docs.Requirements},
		{rowWorkflow, docs.Workflow},
		{rowIndex, docs.Index},
	}
	actions := make([]aztables.TransactionAction, 0, len(rows))
	for _, r := range rows {
		payload, err := encodeDocument(pk, r.rk, orgID, r.doc)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload})
	}
	if _, err := s.projects.SubmitTransaction(ctx, actions, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return fmt.Errorf("%w: %s", ErrProjectExists, pk)
		}
		return err
	}
	return nil
}

// GetRequirements returns nil when the project does not exist.
func (s *Storage) GetRequirements(ctx context.Context, id string) (*intake.ProjectRequirements, error) {
	var req intake.ProjectRequirements
	found, _, err := s.getDocument(ctx, id, rowRequirements, &req)
	if err != nil || !found {
		return nil, err
	}
	return &req, nil
}

// GetWorkflow returns the stored workflow and its ETag, or nil when missing.
func (s *Storage) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, string, error) {
	var wf domain.Workflow
	found, etag, err := s.getDocument(ctx, id, rowWorkflow, &wf)
	if err != nil || !found {
		return nil, "", err
	}
	return &wf, etag, nil
}

// ReplaceWorkflow overwrites the workflow row if its ETag still matches.
func (s *Storage) ReplaceWorkflow(ctx context.Context, wf domain.Workflow, etag string) error {
	payload, err := encodeDocument(wf.ID, rowWorkflow, wf.OrganizationID, wf)
	if err != nil {
		return err
	}
	opts := &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace}
	if etag != "" {
		et := azcore.ETag(etag)
		opts.IfMatch = &et
	}
	if _, err := s.projects.UpdateEntity(ctx, payload, opts); err != nil {
		if hasStatus(err, http.StatusPreconditionFailed) {
			return domain.ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

// ListProjects returns the index rows of one organization, newest first.
func (s *Storage) ListProjects(ctx context.Context, orgID string) ([]domain.WorkflowIndex, error) {
	filter := fmt.Sprintf("RowKey eq '%s' and OrganizationId eq '%s'", rowIndex, escapeODataString(orgID))
	pager := s.projects.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	projects := []domain.WorkflowIndex{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var idx domain.WorkflowIndex
			if _, err := decodeDocument(e, &idx); err != nil {
				return nil, err
			}
			projects = append(projects, idx)
		}
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *Storage) getDocument(ctx context.Context, pk, rk string, v any) (bool, string, error) {
	ent, err := s.projects.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	if _, err := decodeDocument(ent.Value, v); err != nil {
		return false, "", err
	}
	return true, string(ent.ETag), nil
}

func hasStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func escapeODataString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
