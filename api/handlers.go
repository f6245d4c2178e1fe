package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"project-manager/domain"
	"project-manager/intake"
)

const saveFailedMessage = "failed to save, please try again"

var (
	errNotFound         = errors.New("not found")
	errMissingOrg       = errors.New("missing organization")
	errNoCommands       = errors.New("no commands")
	errUnknownCommand   = errors.New("unknown command type")
	errNoActions        = errors.New("no actions")
	errInvalidBody      = errors.New("invalid body")
	errInvalidStepParam = errors.New("invalid step")
)

// Dependencies are the collaborators of the API handlers.
type Dependencies struct {
	Auth       Authenticator
	Projects   ProjectReader
	Workflows  WorkflowReader
	Drafts     intake.DraftStore
	Submitter  Submitter
	Deduper    Deduper
	Sender     *CommandSender
	Broker     *Broker
	Aggregator domain.WorkloadAggregator
	Logger     *log.Logger
	// Ping reports backing service health for /healthz. Optional.
	Ping func(ctx context.Context) error
	// Now defaults to time.Now.
	Now func() time.Time
}

type handlers struct {
	deps Dependencies
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Dependencies) {
	if deps.Broker == nil {
		deps.Broker = NewBroker()
	}
	if deps.Aggregator.WeeklyCapacity <= 0 {
		deps.Aggregator = domain.NewWorkloadAggregator(0)
	}
	h := &handlers{deps: deps}
	lg := h.log()

	e.GET("/api/intake/draft", instrumented(lg, "/api/intake/draft", "intake.draft.get", h.getDraft))
	e.DELETE("/api/intake/draft", instrumented(lg, "/api/intake/draft", "intake.draft.delete", h.deleteDraft))
	e.POST("/api/intake/draft/actions", instrumented(lg, "/api/intake/draft/actions", "intake.draft.actions", h.postDraftActions))
	e.GET("/api/intake/draft/validation", instrumented(lg, "/api/intake/draft/validation", "intake.draft.validation", h.getDraftValidation))
	e.POST("/api/intake/submit", instrumented(lg, "/api/intake/submit", "intake.submit", h.postSubmit))

	e.GET("/api/projects", instrumented(lg, "/api/projects", "projects.list", h.getProjects))
	e.GET("/api/projects/:id", instrumented(lg, "/api/projects/:id", "projects.get", h.getProject))

	e.GET("/api/workflows/:id", instrumented(lg, "/api/workflows/:id", "workflows.get", h.getWorkflow))
	e.GET("/api/workflows/:id/workload", instrumented(lg, "/api/workflows/:id/workload", "workflows.workload", h.getWorkload))
	e.GET("/api/workflows/:id/analytics", instrumented(lg, "/api/workflows/:id/analytics", "workflows.analytics", h.getAnalytics))
	e.GET("/api/workflows/:id/stream", instrumented(lg, "/api/workflows/:id/stream", "workflows.stream", h.streamWorkflow))
	e.POST("/api/workflows/:id/commands", instrumented(lg, "/api/workflows/:id/commands", "workflows.commands", h.postCommands))

	e.GET("/healthz", h.healthz)
}

func (h *handlers) log() *log.Logger {
	if h.deps.Logger != nil {
		return h.deps.Logger
	}
	return log.StandardLogger()
}

func (h *handlers) now() time.Time {
	if h.deps.Now != nil {
		return h.deps.Now()
	}
	return time.Now()
}

func (h *handlers) healthz(c echo.Context) error {
	if h.deps.Ping != nil {
		if err := h.deps.Ping(c.Request().Context()); err != nil {
			h.log().WithError(err).Warn("health check failed")
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) authenticate(c echo.Context, m *requestMetrics, allowQuery bool) (domain.Principal, error) {
	var p domain.Principal
	err := m.Time("auth", func() error {
		var err error
		p, err = h.deps.Auth.PrincipalFromAuthHeader(authHeader(c, allowQuery))
		return err
	})
	if err != nil {
		m.SetErrorStage("auth")
	}
	return p, err
}

// loadDraft returns the caller's draft or a fresh form state.
func (h *handlers) loadDraft(ctx context.Context, m *requestMetrics, userID string) (intake.State, error) {
	var (
		s  intake.State
		ok bool
	)
	err := m.Time("load_draft", func() error {
		var err error
		s, ok, err = h.deps.Drafts.LoadDraft(ctx, userID)
		return err
	})
	if err != nil {
		m.SetErrorStage("load_draft")
		return intake.State{}, err
	}
	m.SetBool("draft_found", ok)
	if !ok {
		return intake.NewState(), nil
	}
	return intake.Restore(s).State(), nil
}

func (h *handlers) getDraft(c echo.Context, m *requestMetrics) error {
	p, err := h.authenticate(c, m, false)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	s, err := h.loadDraft(c.Request().Context(), m, p.UserID)
	if err != nil {
		h.log().WithError(err).WithField("user", p.UserID).Error("load draft failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load draft"})
	}
	return c.JSON(http.StatusOK, newDraftResponse(s))
}

func (h *handlers) deleteDraft(c echo.Context, m *requestMetrics) error {
	p, err := h.authenticate(c, m, false)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if err := h.deps.Drafts.DeleteDraft(c.Request().Context(), p.UserID); err != nil {
		m.SetErrorStage("delete_draft")
		h.log().WithError(err).WithField("user", p.UserID).Error("delete draft failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to delete draft"})
	}
	return c.NoContent(http.StatusNoContent)
}

// postDraftActions applies a batch of form actions. The batch is all or
// nothing: the draft is saved only when every action is accepted.
func (h *handlers) postDraftActions(c echo.Context, m *requestMetrics) error {
	p, err := h.authenticate(c, m, false)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	body, err := readBody(c.Request().Body, postIntakeMaxSize)
	if err != nil {
		m.SetErrorStage("read_body")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	var req postActionsRequest
	if err := decodeStrict(body, &req); err != nil {
		m.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: errInvalidBody.Error()})
	}
	if len(req.Actions) == 0 {
		m.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: errNoActions.Error()})
	}
	m.SetInt("actions", len(req.Actions))

	ctx := c.Request().Context()
	s, err := h.loadDraft(ctx, m, p.UserID)
	if err != nil {
		h.log().WithError(err).WithField("user", p.UserID).Error("load draft failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load draft"})
	}
	form := intake.Restore(s)
	for i, a := range req.Actions {
		if err := form.Dispatch(a); err != nil {
			m.SetErrorStage("reduce")
			return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "action " + strconv.Itoa(i) + ": " + err.Error()})
		}
	}

	next := form.State()
	if err := m.Time("save_draft", func() error { return h.deps.Drafts.SaveDraft(ctx, p.UserID, next) }); err != nil {
		m.SetErrorStage("save_draft")
		h.log().WithError(err).WithField("user", p.UserID).Error("save draft failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: saveFailedMessage})
	}
	return c.JSON(http.StatusOK, newDraftResponse(next))
}

// getDraftValidation reports inline validation for ?step=N, or for the whole
// form when step is omitted.
func (h *handlers) getDraftValidation(c echo.Context, m *requestMetrics) error {
	p, err := h.authenticate(c, m, false)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	step := 0
	if raw := strings.TrimSpace(c.QueryParam("step")); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 || n > intake.Steps {
			m.SetErrorStage("invalid_step")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: errInvalidStepParam.Error()})
		}
		step = n
	}
	s, err := h.loadDraft(c.Request().Context(), m, p.UserID)
	if err != nil {
		h.log().WithError(err).WithField("user", p.UserID).Error("load draft failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load draft"})
	}

	if step > 0 {
		err = intake.ValidateStep(s.Requirements, step)
	} else {
		err = intake.Validate(s.Requirements)
	}
	resp := validationResponse{Step: step, Valid: err == nil}
	var verr *intake.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	} else if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// postSubmit stores the project. An empty body submits the caller's draft.
func (h *handlers) postSubmit(c echo.Context, m *requestMetrics) (err error) {
	defer func() {
		result := "created"
		if status := c.Response().Status; status >= http.StatusBadRequest || err != nil {
			result = strconv.Itoa(status)
		}
		submissionsTotal.WithLabelValues(result).Inc()
	}()

	p, err := h.authenticate(c, m, false)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	ctx := c.Request().Context()

	body, err := readBody(c.Request().Body, postIntakeMaxSize)
	if err != nil {
		m.SetErrorStage("read_body")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	var req intake.ProjectRequirements
	if len(body) == 0 {
		s, err := h.loadDraft(ctx, m, p.UserID)
		if err != nil {
			h.log().WithError(err).WithField("user", p.UserID).Error("load draft failed")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: saveFailedMessage})
		}
		req = s.Requirements
		m.SetBool("from_draft", true)
	} else if err := decodeStrict(body, &req); err != nil {
		m.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: errInvalidBody.Error()})
	}

	var sub intake.Submission
	err = m.Time("submit", func() error {
		var err error
		sub, err = h.deps.Submitter.Submit(ctx, p, req)
		return err
	})
	var verr *intake.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, intake.ErrMissingOrganization):
		m.SetErrorStage("organization")
		return c.JSON(http.StatusPreconditionFailed, errorResponse{Error: errMissingOrg.Error()})
	case errors.As(err, &verr):
		m.SetErrorStage("validation")
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: verr.Fields})
	default:
		m.SetErrorStage("storage")
		h.log().WithError(err).WithField("user", p.UserID).Error("project submission failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: saveFailedMessage})
	}

	m.SetString("project_id", sub.ID)
	c.Response().Header().Set(echo.HeaderLocation, sub.Location)
	return c.JSON(http.StatusCreated, sub)
}

// requireOrg answers 412 for callers whose token names no organization.
func requireOrg(c echo.Context, m *requestMetrics, p domain.Principal) bool {
	if strings.TrimSpace(p.OrganizationID) != "" {
		return true
	}
	m.SetErrorStage("organization")
	_ = c.JSON(http.StatusPreconditionFailed, errorResponse{Error: errMissingOrg.Error()})
	return false
}

func (h *handlers) getProjects(c echo.Context, m *requestMetrics) error {
	p, err := h.authenticate(c, m, false)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if !requireOrg(c, m, p) {
		return nil
	}
	var projects []domain.WorkflowIndex
	err = m.Time("fetch", func() error {
		var err error
		projects, err = h.deps.Projects.ListProjects(c.Request().Context(), p.OrganizationID)
		return err
	})
	if err != nil {
		m.SetErrorStage("storage")
		h.log().WithError(err).WithField("organization", p.OrganizationID).Error("list projects failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load projects"})
	}
	if projects == nil {
		projects = []domain.WorkflowIndex{}
	}
	m.SetInt("projects_returned", len(projects))
	return c.JSON(http.StatusOK, projectsResponse{Projects: projects})
}

func (h *handlers) getProject(c echo.Context, m *requestMetrics) error {
	p, err := h.authenticate(c, m, false)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if !requireOrg(c, m, p) {
		return nil
	}
	var req *intake.ProjectRequirements
	err = m.Time("fetch", func() error {
		var err error
		req, err = h.deps.Projects.GetRequirements(c.Request().Context(), c.Param("id"))
		return err
	})
	if err != nil {
		m.SetErrorStage("storage")
		h.log().WithError(err).WithField("project", c.Param("id")).Error("get project failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load project"})
	}
	if req == nil || req.OrganizationID != p.OrganizationID {
		m.SetErrorStage("not_found")
		return c.JSON(http.StatusNotFound, errorResponse{Error: errNotFound.Error()})
	}
	return c.JSON(http.StatusOK, req)
}

// loadWorkflow reads the workflow visible to p with its metadata recomputed.
// The returned status is meaningful only when err is non-nil.
func (h *handlers) loadWorkflow(c echo.Context, m *requestMetrics, p domain.Principal, id string) (*domain.Workflow, int, error) {
	if strings.TrimSpace(p.OrganizationID) == "" {
		m.SetErrorStage("organization")
		return nil, http.StatusPreconditionFailed, errMissingOrg
	}
	var wf *domain.Workflow
	err := m.Time("fetch", func() error {
		var err error
		wf, err = h.deps.Workflows.Workflow(c.Request().Context(), id)
		return err
	})
	if err != nil {
		m.SetErrorStage("storage")
		h.log().WithError(err).WithField("workflow", id).Error("get workflow failed")
		return nil, http.StatusInternalServerError, errors.New("failed to load workflow")
	}
	if wf == nil || wf.OrganizationID != p.OrganizationID {
		m.SetErrorStage("not_found")
		return nil, http.StatusNotFound, errNotFound
	}
	wf.Recompute(h.now())
	return wf, http.StatusOK, nil
}

func (h *handlers) workflowRequest(c echo.Context, m *requestMetrics) (*domain.Workflow, bool) {
	p, err := h.authenticate(c, m, false)
	if err != nil {
		_ = c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return nil, false
	}
	wf, status, err := h.loadWorkflow(c, m, p, c.Param("id"))
	if err != nil {
		_ = c.JSON(status, errorResponse{Error: err.Error()})
		return nil, false
	}
	return wf, true
}

func (h *handlers) getWorkflow(c echo.Context, m *requestMetrics) error {
	wf, ok := h.workflowRequest(c, m)
	if !ok {
		return nil
	}
	m.SetInt("milestones", len(wf.Milestones))
	return c.JSON(http.StatusOK, wf)
}

func (h *handlers) workload(wf domain.Workflow) workloadResponse {
	roster := domain.RosterFromTeam(wf.Team)
	members := domain.SortedWorkloads(roster, h.deps.Aggregator.Aggregate(wf, roster))
	if members == nil {
		members = []domain.TeamMemberWorkload{}
	}
	return workloadResponse{
		WorkflowID:     wf.ID,
		WeeklyCapacity: h.deps.Aggregator.WeeklyCapacity,
		Members:        members,
	}
}

func (h *handlers) getWorkload(c echo.Context, m *requestMetrics) error {
	wf, ok := h.workflowRequest(c, m)
	if !ok {
		return nil
	}
	resp := h.workload(*wf)
	m.SetInt("members", len(resp.Members))
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) getAnalytics(c echo.Context, m *requestMetrics) error {
	wf, ok := h.workflowRequest(c, m)
	if !ok {
		return nil
	}
	analytics := domain.Summarize(*wf)
	m.SetInt("tasks", analytics.TotalTasks)
	return c.JSON(http.StatusOK, analytics)
}

var knownCommands = map[string]struct{}{
	domain.TaskStatusChanged: {},
	domain.TaskAssigned:      {},
	domain.TaskUpdated:       {},
	domain.TaskAdded:         {},
	domain.TaskRemoved:       {},
	domain.MilestoneAdded:    {},
}

// finalizeCommands assigns missing idempotency keys, ids and timestamps and
// returns the keys in request order.
func finalizeCommands(cmds []domain.Command) []string {
	keys := make([]string, len(cmds))
	for i := range cmds {
		if cmds[i].IdempotencyKey == "" {
			cmds[i].IdempotencyKey = uuid.NewString()
		}
		cmds[i].ID = cmds[i].IdempotencyKey
		cmds[i].Timestamp = nextTimestamp()
		keys[i] = cmds[i].IdempotencyKey
	}
	return keys
}

// postCommands accepts workflow commands for asynchronous processing.
// Commands whose idempotency key was already accepted are acknowledged but
// not enqueued again.
func (h *handlers) postCommands(c echo.Context, m *requestMetrics) error {
	p, err := h.authenticate(c, m, false)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, postCommandResponse{Error: err.Error()})
	}
	body, err := readBody(c.Request().Body, postCommandMaxSize)
	if err != nil {
		m.SetErrorStage("read_body")
		return c.JSON(http.StatusBadRequest, postCommandResponse{Error: err.Error()})
	}
	cmds := make([]domain.Command, 0, 4)
	if err := decodeStrict(body, &cmds); err != nil {
		m.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, postCommandResponse{Error: errInvalidBody.Error()})
	}
	if len(cmds) == 0 {
		m.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, postCommandResponse{Error: errNoCommands.Error()})
	}
	for _, cmd := range cmds {
		if _, ok := knownCommands[cmd.Type]; !ok {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, postCommandResponse{Error: errUnknownCommand.Error() + ": " + cmd.Type})
		}
	}
	m.SetInt("commands", len(cmds))

	id := c.Param("id")
	if _, status, err := h.loadWorkflow(c, m, p, id); err != nil {
		return c.JSON(status, postCommandResponse{Error: err.Error()})
	}

	ctx := c.Request().Context()
	keys := finalizeCommands(cmds)
	job := enqueueJob{userID: p.UserID}
	if h.deps.Deduper != nil {
		added, err := h.deps.Deduper.AddMany(ctx, p.UserID, keys)
		if err != nil {
			for i, ok := range added {
				if ok {
					_ = h.deps.Deduper.Remove(context.Background(), p.UserID, keys[i])
				}
			}
			m.SetErrorStage("dedupe")
			h.log().WithError(err).WithField("user", p.UserID).Error("dedupe failed")
			return c.JSON(http.StatusInternalServerError, postCommandResponse{Error: "failed to enqueue commands"})
		}
		for i, ok := range added {
			if !ok {
				commandsTotal.WithLabelValues("duplicate").Inc()
				continue
			}
			job.added = append(job.added, keys[i])
			job.envs = append(job.envs, h.envelope(p, id, cmds[i]))
		}
	} else {
		for _, cmd := range cmds {
			job.envs = append(job.envs, h.envelope(p, id, cmd))
		}
	}
	m.SetInt("duplicates", len(cmds)-len(job.envs))

	if len(job.envs) > 0 {
		if err := m.Time("enqueue", func() error { return h.deps.Sender.Send(job) }); err != nil {
			m.SetErrorStage("enqueue")
			h.log().WithError(err).WithField("user", p.UserID).Error("enqueue inline failed")
			return c.JSON(http.StatusInternalServerError, postCommandResponse{Error: "failed to enqueue commands"})
		}
		commandsTotal.WithLabelValues("accepted").Add(float64(len(job.envs)))
	}
	return c.JSON(http.StatusAccepted, postCommandResponse{IdempotencyKeys: keys})
}

func (h *handlers) envelope(p domain.Principal, workflowID string, cmd domain.Command) domain.CommandEnvelope {
	return domain.CommandEnvelope{
		UserID:         p.UserID,
		OrganizationID: p.OrganizationID,
		WorkflowID:     workflowID,
		Command:        cmd,
	}
}
