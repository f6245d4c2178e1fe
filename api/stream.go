package api

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"project-manager/domain"
)

// Broker fans workflow update notifications out to stream subscribers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *Broker) subscribe(workflowID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	set, ok := b.subs[workflowID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[workflowID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(workflowID string, ch chan struct{}) {
	b.mu.Lock()
	if set, ok := b.subs[workflowID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, workflowID)
		}
	}
	b.mu.Unlock()
}

// Notify wakes every subscriber of workflowID. It never blocks: a subscriber
// that has not consumed the previous signal keeps just that one.
func (b *Broker) Notify(workflowID string) {
	b.mu.Lock()
	for ch := range b.subs[workflowID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

func (h *handlers) streamWorkflow(c echo.Context, m *requestMetrics) error {
	p, err := h.authenticate(c, m, true)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	// Subscribe before the first read so no update slips between them.
	ch := h.deps.Broker.subscribe(id)
	defer h.deps.Broker.unsubscribe(id, ch)

	wf, status, err := h.loadWorkflow(c, m, p, id)
	if err != nil {
		return c.JSON(status, errorResponse{Error: err.Error()})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
	}
	res.WriteHeader(http.StatusOK)

	pushes := 0
	defer func() { m.SetInt("pushes", pushes) }()
	for {
		data, err := sonic.Marshal(h.dashboard(*wf))
		if err != nil {
			m.SetErrorStage("encode_event")
			return err
		}
		if _, err := res.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := res.Write(data); err != nil {
			return err
		}
		if _, err := res.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		pushes++

		select {
		case <-ctx.Done():
			return nil
		case <-ch:
		}

		next, err := h.deps.Workflows.Workflow(ctx, id)
		if err != nil {
			m.SetErrorStage("storage")
			h.log().WithError(err).WithField("workflow", id).Error("stream reload failed")
			return nil
		}
		if next == nil {
			return nil
		}
		next.Recompute(h.now())
		wf = next
	}
}

func (h *handlers) dashboard(wf domain.Workflow) dashboardEvent {
	return dashboardEvent{
		WorkflowID: wf.ID,
		Metadata:   wf.Metadata,
		Analytics:  domain.Summarize(wf),
		Workload:   h.workload(wf),
	}
}
